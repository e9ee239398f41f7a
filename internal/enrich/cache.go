package enrich

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wildsight/spot-pipeline/internal/region"
)

// cacheEntry holds the last usable payload for a canonicalized query.
// degradedSource marks entries synthesized by fallback rather than a live
// call; they expire like any other entry but keep their degraded tag.
type cacheEntry struct {
	payload        Payload
	queryLat       float64
	queryLon       float64
	degradedSource bool
	expiresAt      time.Time
}

// queryCache is a TTL cache keyed by canonical query. Reads are concurrent;
// writes are serialized. It is the only shared state in the client.
type queryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

func newQueryCache(ttl time.Duration, clock clockwork.Clock) *queryCache {
	return &queryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *queryCache) get(key string) (cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *queryCache) put(key string, entry cacheEntry) {
	entry.expiresAt = c.clock.Now().Add(c.ttl)
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// liveNeighbors returns non-expired, non-degraded entries within radiusM of
// the given point, for fallback interpolation.
func (c *queryCache) liveNeighbors(lat, lon, radiusM float64) []cacheEntry {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []cacheEntry
	for _, e := range c.entries {
		if e.degradedSource || now.After(e.expiresAt) {
			continue
		}
		if region.HaversineM(lat, lon, e.queryLat, e.queryLon) <= radiusM {
			out = append(out, e)
		}
	}
	return out
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
