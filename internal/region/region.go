// Package region provides the configured geographic bounding predicate used
// by candidate validation. A deployment is bounded either by a rectangle or
// by an arbitrary polygon ring; there are no per-area special cases.
package region

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/wildsight/spot-pipeline/internal/config"
)

// Bounds answers whether a coordinate pair lies inside the deployment region.
type Bounds interface {
	Contains(lat, lon float64) bool
}

// Rect is an axis-aligned lat/lon rectangle.
type Rect struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains implements Bounds.
func (r Rect) Contains(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// Polygon bounds the region by a closed ring of lon,lat coordinates.
type Polygon struct {
	ring []float64 // flat XY pairs, closed
	bbox Rect      // cheap pre-check
}

// Contains implements Bounds.
func (p *Polygon) Contains(lat, lon float64) bool {
	if !p.bbox.Contains(lat, lon) {
		return false
	}
	return xy.IsPointInRing(geom.XY, geom.Coord{lon, lat}, p.ring)
}

// FromConfig builds the bounding predicate from configuration. A polygon,
// when present, takes precedence over the rectangle.
func FromConfig(cfg config.RegionConfig) (Bounds, error) {
	if len(cfg.Polygon) > 0 {
		return newPolygon(cfg.Polygon)
	}
	if cfg.MinLat >= cfg.MaxLat || cfg.MinLon >= cfg.MaxLon {
		return nil, eris.Errorf("region: degenerate rectangle [%f,%f]x[%f,%f]",
			cfg.MinLat, cfg.MaxLat, cfg.MinLon, cfg.MaxLon)
	}
	return Rect{
		MinLat: cfg.MinLat, MaxLat: cfg.MaxLat,
		MinLon: cfg.MinLon, MaxLon: cfg.MaxLon,
	}, nil
}

const earthRadiusM = 6371e3

// HaversineM returns the great-circle distance in meters between two
// coordinate pairs.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

func newPolygon(flat []float64) (*Polygon, error) {
	if len(flat)%2 != 0 {
		return nil, eris.Errorf("region: polygon needs lon,lat pairs, got %d values", len(flat))
	}
	if len(flat) < 8 {
		return nil, eris.New("region: polygon needs at least 3 distinct vertices plus closure")
	}
	if flat[0] != flat[len(flat)-2] || flat[1] != flat[len(flat)-1] {
		// Close the ring.
		flat = append(append([]float64{}, flat...), flat[0], flat[1])
	}

	bbox := Rect{MinLat: math.Inf(1), MaxLat: math.Inf(-1), MinLon: math.Inf(1), MaxLon: math.Inf(-1)}
	for i := 0; i+1 < len(flat); i += 2 {
		lon, lat := flat[i], flat[i+1]
		bbox.MinLon = math.Min(bbox.MinLon, lon)
		bbox.MaxLon = math.Max(bbox.MaxLon, lon)
		bbox.MinLat = math.Min(bbox.MinLat, lat)
		bbox.MaxLat = math.Max(bbox.MaxLat, lat)
	}

	return &Polygon{ring: flat, bbox: bbox}, nil
}
