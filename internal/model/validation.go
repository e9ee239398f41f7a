package model

// ViolationKind identifies a structural validation failure.
type ViolationKind string

const (
	ViolationOutOfBounds     ViolationKind = "out_of_bounds_coordinate"
	ViolationMissingName     ViolationKind = "missing_name"
	ViolationInvalidCategory ViolationKind = "invalid_category"
	ViolationDuplicateSource ViolationKind = "duplicate_within_source"
)

// Blocking reports whether this violation excludes a candidate from merging.
// Invalid categories are coerced to "other" instead of blocking.
func (k ViolationKind) Blocking() bool {
	switch k {
	case ViolationOutOfBounds, ViolationMissingName, ViolationDuplicateSource:
		return true
	default:
		return false
	}
}

// PrecisionClass buckets coordinate decimal precision. It is metadata
// feeding the confidence score, never a violation.
type PrecisionClass string

const (
	PrecisionCoarse  PrecisionClass = "coarse"
	PrecisionMedium  PrecisionClass = "medium"
	PrecisionPrecise PrecisionClass = "precise"
)

// ValidationResult is derived from a single Candidate. It is owned by the
// pipeline run that produced it and survives only in audit logging.
type ValidationResult struct {
	StructurallyValid bool            `json:"structurally_valid"`
	Violations        []ViolationKind `json:"violations,omitempty"`
	Precision         PrecisionClass  `json:"precision_class"`
}

// HasViolation reports whether the result contains the given violation kind.
func (v ValidationResult) HasViolation(kind ViolationKind) bool {
	for _, k := range v.Violations {
		if k == kind {
			return true
		}
	}
	return false
}
