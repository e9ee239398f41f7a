package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	cat, ok := ParseCategory("cave")
	assert.True(t, ok)
	assert.Equal(t, CategoryCave, cat)

	cat, ok = ParseCategory("swimming_hole")
	assert.False(t, ok)
	assert.Equal(t, CategoryOther, cat)

	_, ok = ParseCategory("")
	assert.False(t, ok)
}

func TestCandidate_HasCoordinates(t *testing.T) {
	assert.True(t, Candidate{Latitude: 43.6, Longitude: 1.4}.HasCoordinates())
	assert.False(t, Candidate{}.HasCoordinates(), "0,0 is treated as absent")
	assert.False(t, Candidate{Latitude: math.NaN(), Longitude: 1.4}.HasCoordinates())
	assert.False(t, Candidate{Latitude: math.Inf(1), Longitude: 1.4}.HasCoordinates())
	assert.True(t, Candidate{Latitude: 0, Longitude: 1.4}.HasCoordinates(), "a single zero axis is fine")
}

func TestViolationKind_Blocking(t *testing.T) {
	assert.True(t, ViolationOutOfBounds.Blocking())
	assert.True(t, ViolationMissingName.Blocking())
	assert.True(t, ViolationDuplicateSource.Blocking())
	assert.False(t, ViolationInvalidCategory.Blocking())
}

func TestMergedSpot_HasMember(t *testing.T) {
	s := &MergedSpot{Members: map[string]float64{"osm:1": 0.9, "ign:2": 0.7}}
	assert.True(t, s.HasMember("osm:1"))
	assert.False(t, s.HasMember("social:3"))
}

func TestMergedSpot_MemberIDsSorted(t *testing.T) {
	s := &MergedSpot{Members: map[string]float64{"osm:1": 0.9, "ign:2": 0.7, "social:3": 0.2}}
	assert.Equal(t, []string{"ign:2", "osm:1", "social:3"}, s.MemberIDs())
	assert.Empty(t, (&MergedSpot{}).MemberIDs())
}

func TestValidationResult_HasViolation(t *testing.T) {
	v := ValidationResult{Violations: []ViolationKind{ViolationMissingName}}
	assert.True(t, v.HasViolation(ViolationMissingName))
	assert.False(t, v.HasViolation(ViolationOutOfBounds))
}
