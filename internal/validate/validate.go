// Package validate performs structural validation of candidate records
// before scoring. Validation is pure: it never mutates the candidate and
// has no side effects.
package validate

import (
	"strconv"
	"strings"

	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/region"
)

// Validator checks candidates against the configured bounding region.
type Validator struct {
	bounds region.Bounds
}

// New creates a Validator for the given region.
func New(bounds region.Bounds) *Validator {
	return &Validator{bounds: bounds}
}

// Validate derives a ValidationResult from a single candidate. Coordinate
// absence short-circuits the remaining rules; every other rule is evaluated
// so the audit trail carries all violations at once.
func (v *Validator) Validate(c model.Candidate) model.ValidationResult {
	var result model.ValidationResult

	if !c.HasCoordinates() {
		result.Violations = append(result.Violations, model.ViolationOutOfBounds)
		result.Precision = model.PrecisionCoarse
		return result
	}

	if !v.bounds.Contains(c.Latitude, c.Longitude) {
		result.Violations = append(result.Violations, model.ViolationOutOfBounds)
	}

	if strings.TrimSpace(c.RawName) == "" {
		result.Violations = append(result.Violations, model.ViolationMissingName)
	}

	if _, ok := model.ParseCategory(string(c.Category)); !ok || c.Category == "" {
		// Not blocking: the pipeline coerces the category to "other".
		result.Violations = append(result.Violations, model.ViolationInvalidCategory)
	}

	result.Precision = precisionClass(c.Latitude, c.Longitude)
	result.StructurallyValid = true
	for _, kind := range result.Violations {
		if kind.Blocking() {
			result.StructurallyValid = false
			break
		}
	}
	return result
}

// ValidateBatch validates a slice of candidates and additionally flags exact
// coordinate+name duplicates arriving from the same source feed. The first
// occurrence stays valid; later copies are blocked.
func (v *Validator) ValidateBatch(candidates []model.Candidate) []model.ValidationResult {
	results := make([]model.ValidationResult, len(candidates))
	seen := make(map[string]bool, len(candidates))

	for i, c := range candidates {
		results[i] = v.Validate(c)

		key := c.SourceID + "|" + strings.ToLower(strings.TrimSpace(c.RawName)) + "|" +
			strconv.FormatFloat(c.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', 6, 64)
		if seen[key] {
			results[i].Violations = append(results[i].Violations, model.ViolationDuplicateSource)
			results[i].StructurallyValid = false
			continue
		}
		seen[key] = true
	}
	return results
}

// precisionClass buckets the coordinate pair by its decimal precision:
// at least 5 decimals on both axes is precise, 3-4 is medium, less is coarse.
func precisionClass(lat, lon float64) model.PrecisionClass {
	d := decimalDigits(lat)
	if dl := decimalDigits(lon); dl < d {
		d = dl
	}
	switch {
	case d >= 5:
		return model.PrecisionPrecise
	case d >= 3:
		return model.PrecisionMedium
	default:
		return model.PrecisionCoarse
	}
}

// decimalDigits counts significant decimal places in the shortest exact
// representation of v. Trailing zeros do not count: 43.600 carries one
// meaningful decimal, not three.
func decimalDigits(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(s[dot+1:], "0")
	return len(frac)
}
