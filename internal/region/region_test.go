package region

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildsight/spot-pipeline/internal/config"
)

func TestRect_Contains(t *testing.T) {
	r := Rect{MinLat: 42.5, MaxLat: 45.0, MinLon: 0.0, MaxLon: 3.5}

	assert.True(t, r.Contains(43.6, 1.4))
	assert.True(t, r.Contains(42.5, 0.0), "boundary is inclusive")
	assert.True(t, r.Contains(45.0, 3.5))
	assert.False(t, r.Contains(46.0, 1.4))
	assert.False(t, r.Contains(43.6, -1.0))
	assert.False(t, r.Contains(200.0, 1.4))
	assert.False(t, r.Contains(math.NaN(), 1.4))
}

func TestPolygon_Contains(t *testing.T) {
	// A triangle over the Toulouse area, lon,lat pairs.
	cfg := config.RegionConfig{
		Polygon: []float64{
			1.0, 43.0,
			2.0, 43.0,
			1.5, 44.0,
			1.0, 43.0,
		},
	}
	b, err := FromConfig(cfg)
	require.NoError(t, err)

	assert.True(t, b.Contains(43.3, 1.5))
	assert.False(t, b.Contains(43.9, 1.05), "inside bbox but outside the ring")
	assert.False(t, b.Contains(50.0, 1.5))
}

func TestFromConfig_ClosesOpenRing(t *testing.T) {
	cfg := config.RegionConfig{
		Polygon: []float64{
			1.0, 43.0,
			2.0, 43.0,
			1.5, 44.0,
			1.2, 43.5,
		},
	}
	b, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, b.Contains(43.2, 1.5))
}

func TestFromConfig_RejectsDegenerateRect(t *testing.T) {
	_, err := FromConfig(config.RegionConfig{MinLat: 45, MaxLat: 42, MinLon: 0, MaxLon: 3})
	require.Error(t, err)
}

func TestFromConfig_RejectsBadPolygon(t *testing.T) {
	_, err := FromConfig(config.RegionConfig{Polygon: []float64{1.0, 43.0, 2.0}})
	require.Error(t, err, "odd value count")

	_, err = FromConfig(config.RegionConfig{Polygon: []float64{1.0, 43.0, 2.0, 43.0}})
	require.Error(t, err, "too few vertices")
}

func TestHaversineM(t *testing.T) {
	assert.Zero(t, HaversineM(43.6, 1.4, 43.6, 1.4))

	// One degree of latitude is roughly 111 km.
	d := HaversineM(43.0, 1.4, 44.0, 1.4)
	assert.InDelta(t, 111_000, d, 500)

	// ~0.0001 degrees near Toulouse is on the order of 14 m.
	d = HaversineM(43.6000, 1.4000, 43.6001, 1.4001)
	assert.Less(t, d, 20.0)
	assert.Greater(t, d, 5.0)
}
