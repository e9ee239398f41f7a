package enrich

import "github.com/wildsight/spot-pipeline/internal/region"

// synthesize builds a local estimate for a point after all live attempts
// failed. Elevation is interpolated from nearby cached live responses with
// inverse-distance weighting; with no usable neighbors the payload is a
// neutral default. Either way the caller tags the result degraded.
func (c *Client) synthesize(lat, lon float64) Payload {
	neighbors := c.cache.liveNeighbors(lat, lon, c.fallbackRange)
	if len(neighbors) == 0 {
		return Payload{}
	}

	var weightSum, elevSum float64
	for _, n := range neighbors {
		d := region.HaversineM(lat, lon, n.queryLat, n.queryLon)
		if d < 1 {
			d = 1 // same grid cell, avoid division blowup
		}
		w := 1 / d
		weightSum += w
		elevSum += w * n.payload.ElevationM
	}

	return Payload{ElevationM: elevSum / weightSum}
}
