package model

import (
	"sort"
	"time"
)

// VerificationStatus is the lifecycle stage of a MergedSpot's trustworthiness.
type VerificationStatus string

const (
	StatusUnverified  VerificationStatus = "unverified"
	StatusQuarantined VerificationStatus = "quarantined"
	StatusVerified    VerificationStatus = "verified"
)

// Enrichment holds upstream geospatial context attached to a merged spot.
// Degraded marks results synthesized locally after the upstream service
// failed; downstream scoring discounts them.
type Enrichment struct {
	ElevationM     float64 `json:"elevation_m"`
	NearestFeature string  `json:"nearest_feature,omitempty"`
	FeatureDistM   float64 `json:"feature_dist_m,omitempty"`
	Degraded       bool    `json:"degraded"`
}

// MergedSpot is the unit of the output catalog: one deduplicated,
// confidence-scored record assembled from one or more candidates.
// Only the merger mutates membership and fields; only the verification
// state machine mutates Status. Spots are never physically deleted,
// only demoted to quarantined.
type MergedSpot struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	CanonicalDesc string   `json:"canonical_description,omitempty"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Category      Category `json:"category"`

	// Members maps each contributing source id to that candidate's raw
	// confidence. Aggregation always runs over these raw scores; the
	// spot's own Confidence never feeds back into a later aggregation.
	Members map[string]float64 `json:"members"`

	Confidence float64            `json:"confidence"`
	Enrichment *Enrichment        `json:"enrichment,omitempty"`
	Status     VerificationStatus `json:"verification_status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// HasMember reports whether the given source id already contributed to
// this spot.
func (s *MergedSpot) HasMember(sourceID string) bool {
	_, ok := s.Members[sourceID]
	return ok
}

// MemberIDs returns the contributing source ids in sorted order.
func (s *MergedSpot) MemberIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for id := range s.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AuditKind distinguishes audit trail entries.
type AuditKind string

const (
	AuditRejectedCandidate  AuditKind = "rejected_candidate"
	AuditDegradedEnrichment AuditKind = "degraded_enrichment"
	AuditStatusChange       AuditKind = "status_change"
)

// AuditEntry records a rejected candidate, a degraded enrichment, or a
// verification status change for operational visibility.
type AuditEntry struct {
	ID         string    `json:"id"`
	Kind       AuditKind `json:"kind"`
	SourceID   string    `json:"source_id,omitempty"`
	SpotID     string    `json:"spot_id,omitempty"`
	Detail     string    `json:"detail"`
	RecordedAt time.Time `json:"recorded_at"`
}
