package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/region"
)

var testBounds = region.Rect{MinLat: 42.5, MaxLat: 45.0, MinLon: 0.0, MaxLon: 3.5}

func validCandidate() model.Candidate {
	return model.Candidate{
		SourceID:    "osm:node/123",
		RawName:     "Grotte des Eaux",
		Latitude:    43.60412,
		Longitude:   1.40391,
		Category:    model.CategoryCave,
		RawCategory: "cave",
		ObservedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourcePrior: 0.9,
	}
}

func TestValidate_InRegionCandidateIsValid(t *testing.T) {
	v := New(testBounds)
	res := v.Validate(validCandidate())

	assert.True(t, res.StructurallyValid)
	assert.Empty(t, res.Violations)
}

func TestValidate_OutOfBoundsLatitude(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.Latitude = 200.0

	res := v.Validate(c)
	assert.False(t, res.StructurallyValid)
	assert.True(t, res.HasViolation(model.ViolationOutOfBounds))
}

func TestValidate_OutsideRegion(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.Latitude = 48.85 // Paris, well outside the deployment rectangle

	res := v.Validate(c)
	assert.False(t, res.StructurallyValid)
	assert.True(t, res.HasViolation(model.ViolationOutOfBounds))
}

func TestValidate_MissingCoordinatesShortCircuits(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.Latitude = 0
	c.Longitude = 0

	res := v.Validate(c)
	assert.False(t, res.StructurallyValid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, model.ViolationOutOfBounds, res.Violations[0])
	assert.Equal(t, model.PrecisionCoarse, res.Precision)
}

func TestValidate_MissingName(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.RawName = "   "

	res := v.Validate(c)
	assert.False(t, res.StructurallyValid)
	assert.True(t, res.HasViolation(model.ViolationMissingName))
}

func TestValidate_InvalidCategoryIsNotBlocking(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.Category = "swimming_hole"

	res := v.Validate(c)
	assert.True(t, res.StructurallyValid)
	assert.True(t, res.HasViolation(model.ViolationInvalidCategory))
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	v := New(testBounds)
	c := validCandidate()
	c.RawName = ""
	c.Latitude = 50.0
	c.Category = "nope"

	res := v.Validate(c)
	assert.False(t, res.StructurallyValid)
	assert.True(t, res.HasViolation(model.ViolationOutOfBounds))
	assert.True(t, res.HasViolation(model.ViolationMissingName))
	assert.True(t, res.HasViolation(model.ViolationInvalidCategory))
}

func TestValidateBatch_DuplicateWithinSource(t *testing.T) {
	v := New(testBounds)
	a := validCandidate()
	b := validCandidate() // same source, name, and coordinates

	results := v.ValidateBatch([]model.Candidate{a, b})
	require.Len(t, results, 2)
	assert.True(t, results[0].StructurallyValid, "first occurrence stays valid")
	assert.False(t, results[1].StructurallyValid)
	assert.True(t, results[1].HasViolation(model.ViolationDuplicateSource))
}

func TestValidateBatch_DifferentSourcesAreNotDuplicates(t *testing.T) {
	v := New(testBounds)
	a := validCandidate()
	b := validCandidate()
	b.SourceID = "ign:456"

	results := v.ValidateBatch([]model.Candidate{a, b})
	assert.True(t, results[0].StructurallyValid)
	assert.True(t, results[1].StructurallyValid)
}

func TestPrecisionClass(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     model.PrecisionClass
	}{
		{"five decimals both axes", 43.60412, 1.40391, model.PrecisionPrecise},
		{"three decimals", 43.604, 1.403, model.PrecisionMedium},
		{"trailing zeros do not count", 43.600, 1.400, model.PrecisionCoarse},
		{"mixed takes the worse axis", 43.60412, 1.4, model.PrecisionCoarse},
		{"integers", 43, 1, model.PrecisionCoarse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, precisionClass(tt.lat, tt.lon))
		})
	}
}
