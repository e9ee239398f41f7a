// Package enrich wraps the external geospatial service (elevation, feature
// proximity, reverse geocoding) behind a client that caches, retries, and
// degrades to a local estimate instead of ever failing the pipeline.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/observability"
	"github.com/wildsight/spot-pipeline/internal/resilience"
)

// Provenance tags how an EnrichmentResult was produced.
type Provenance string

const (
	ProvenanceFresh    Provenance = "fresh"
	ProvenanceCached   Provenance = "cached"
	ProvenanceDegraded Provenance = "degraded"
)

// Query identifies a point to enrich.
type Query struct {
	Lat float64
	Lon float64
}

// Payload is the upstream response body we care about.
type Payload struct {
	ElevationM     float64 `json:"elevation_m"`
	NearestFeature string  `json:"nearest_feature,omitempty"`
	FeatureDistM   float64 `json:"feature_dist_m,omitempty"`
	PlaceName      string  `json:"place_name,omitempty"`
}

// EnrichmentResult carries the payload plus its provenance. Degraded results
// were synthesized locally after the live call failed; the scorer discounts
// spots that relied on them.
type EnrichmentResult struct {
	Payload    Payload
	Provenance Provenance
}

// Degraded reports whether the result came from local fallback synthesis.
func (r EnrichmentResult) Degraded() bool {
	return r.Provenance == ProvenanceDegraded
}

// Fetcher is the contract the pipeline depends on. Fetch never returns an
// error for ordinary upstream failure; it always produces a usable result.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) EnrichmentResult
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for upstream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock injects a time source for cache TTL and health-window tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
		c.cache.clock = clock
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is the resilient upstream client. The cache is the only shared
// state; all methods are safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	retryCfg      resilience.RetryConfig
	cache         *queryCache
	flight        singleflight.Group
	health        *healthWindow
	clock         clockwork.Clock
	metrics       *observability.Metrics
	gridDecimals  int
	fallbackRange float64
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.EnrichConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := time.Duration(cfg.CacheTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	decimals := cfg.GridDecimals
	if decimals <= 0 {
		decimals = 3
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	window := cfg.HealthWindow
	if window <= 0 {
		window = 50
	}
	fallbackRange := cfg.FallbackRadius
	if fallbackRange <= 0 {
		fallbackRange = 5000
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts + 1
	}
	retryCfg.OnRetry = resilience.RetryLogger("geoservice", "lookup")

	clock := clockwork.NewRealClock()
	c := &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), int(rps)),
		retryCfg:      retryCfg,
		cache:         newQueryCache(ttl, clock),
		health:        newHealthWindow(window),
		clock:         clock,
		gridDecimals:  decimals,
		fallbackRange: fallbackRange,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch looks up enrichment data for a point. It consults the cache first,
// then issues a rate-limited, retried live call, and finally falls back to a
// locally synthesized estimate. Concurrent fetches for the same canonical
// grid cell join a single in-flight upstream call.
func (c *Client) Fetch(ctx context.Context, q Query) EnrichmentResult {
	key, gridLat, gridLon := c.canonicalize(q)

	if entry, ok := c.cache.get(key); ok {
		c.countCache("hit")
		prov := ProvenanceCached
		if entry.degradedSource {
			prov = ProvenanceDegraded
		}
		c.countRequest(prov)
		return EnrichmentResult{Payload: entry.payload, Provenance: prov}
	}
	c.countCache("miss")

	// Join any in-flight live call for the same cell rather than issuing a
	// duplicate upstream request.
	v, _, _ := c.flight.Do(key, func() (any, error) {
		return c.fetchLive(ctx, key, gridLat, gridLon), nil
	})
	result := v.(EnrichmentResult)
	c.countRequest(result.Provenance)
	return result
}

// fetchLive performs the live call with retries and, on exhaustion, returns
// the local fallback. It never returns an error.
func (c *Client) fetchLive(ctx context.Context, key string, lat, lon float64) EnrichmentResult {
	payload, err := resilience.DoVal(ctx, c.retryCfg, func(ctx context.Context) (Payload, error) {
		return c.callUpstream(ctx, lat, lon)
	})
	if err != nil {
		// A caller cancellation is not an upstream verdict: degrade this
		// one result but leave health and the cache untouched.
		if ctx.Err() != nil {
			return EnrichmentResult{Payload: c.synthesize(lat, lon), Provenance: ProvenanceDegraded}
		}

		c.health.record(false)
		c.publishHealth()
		zap.L().Warn("enrich: upstream exhausted, degrading",
			zap.String("key", key),
			zap.Error(err),
		)
		fallback := c.synthesize(lat, lon)
		c.cache.put(key, cacheEntry{payload: fallback, queryLat: lat, queryLon: lon, degradedSource: true})
		return EnrichmentResult{Payload: fallback, Provenance: ProvenanceDegraded}
	}

	c.health.record(true)
	c.publishHealth()
	c.cache.put(key, cacheEntry{payload: payload, queryLat: lat, queryLon: lon})
	return EnrichmentResult{Payload: payload, Provenance: ProvenanceFresh}
}

// callUpstream issues one HTTP request against the geospatial service.
func (c *Client) callUpstream(ctx context.Context, lat, lon float64) (Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Payload{}, eris.Wrap(err, "enrich: rate limit")
	}

	params := url.Values{
		"lat": {fmt.Sprintf("%.*f", c.gridDecimals, lat)},
		"lon": {fmt.Sprintf("%.*f", c.gridDecimals, lon)},
	}
	reqURL := c.baseURL + "/v1/lookup?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Payload{}, eris.Wrap(err, "enrich: build request")
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.EnrichDuration.Observe(c.clock.Since(start).Seconds())
	}
	if err != nil {
		return Payload{}, resilience.NewTransientError(eris.Wrap(err, "enrich: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("enrich: upstream returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return Payload{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return Payload{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, resilience.NewTransientError(eris.Wrap(err, "enrich: read body"), 0)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, eris.Wrap(err, "enrich: parse response")
	}
	return payload, nil
}

// canonicalize rounds a query to the cache grid and builds its key.
func (c *Client) canonicalize(q Query) (key string, lat, lon float64) {
	lat = roundTo(q.Lat, c.gridDecimals)
	lon = roundTo(q.Lon, c.gridDecimals)
	key = fmt.Sprintf("lookup:%.*f,%.*f", c.gridDecimals, lat, c.gridDecimals, lon)
	return key, lat, lon
}

// Health returns the success ratio of recent upstream calls and the number
// of calls observed. Observability only: degradation is decided per call,
// never by refusing to attempt one.
func (c *Client) Health() (ratio float64, observed int) {
	return c.health.ratio()
}

func (c *Client) publishHealth() {
	if c.metrics == nil {
		return
	}
	ratio, observed := c.health.ratio()
	if observed > 0 {
		c.metrics.UpstreamHealth.Set(ratio)
	}
}

func (c *Client) countRequest(p Provenance) {
	if c.metrics != nil {
		c.metrics.EnrichRequests.WithLabelValues(string(p)).Inc()
	}
}

func (c *Client) countCache(result string) {
	if c.metrics != nil {
		c.metrics.EnrichCache.WithLabelValues(result).Inc()
	}
}
