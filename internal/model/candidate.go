package model

import (
	"math"
	"time"
)

// Category classifies the kind of spot a candidate claims to be.
type Category string

const (
	CategoryCave      Category = "cave"
	CategoryWaterfall Category = "waterfall"
	CategorySpring    Category = "spring"
	CategoryRuin      Category = "ruin"
	CategoryOther     Category = "other"
)

// ParseCategory maps free-text category labels to a known Category.
// Unrecognized text returns CategoryOther and false.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryCave, CategoryWaterfall, CategorySpring, CategoryRuin, CategoryOther:
		return Category(s), true
	default:
		return CategoryOther, false
	}
}

// Candidate is one source's observation of a possible spot. Candidates are
// immutable once created; merge output references them but never mutates them.
type Candidate struct {
	SourceID       string    `json:"source_id"`
	RawName        string    `json:"raw_name"`
	RawDescription string    `json:"raw_description,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Category       Category  `json:"category"`
	RawCategory    string    `json:"raw_category,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`

	// SourcePrior is the static reliability weight of the originating
	// source kind (curated open data ranks above social media posts).
	SourcePrior float64 `json:"source_confidence_prior"`
}

// HasCoordinates reports whether both coordinates are present and finite.
func (c Candidate) HasCoordinates() bool {
	return !math.IsNaN(c.Latitude) && !math.IsInf(c.Latitude, 0) &&
		!math.IsNaN(c.Longitude) && !math.IsInf(c.Longitude, 0) &&
		!(c.Latitude == 0 && c.Longitude == 0)
}

// ScoredCandidate pairs a candidate with its validation outcome and the
// confidence the scorer assigned. Confidence is always 0 for candidates
// that failed structural validation.
type ScoredCandidate struct {
	Candidate  Candidate        `json:"candidate"`
	Validation ValidationResult `json:"validation"`
	Confidence float64          `json:"confidence"`
}
