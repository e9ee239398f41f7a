// Package score computes normalized trust scores for candidates and
// aggregate confidence for merged spots.
package score

import (
	"strings"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/model"
)

// Scorer computes confidence in [0,1] from the configured weights.
type Scorer struct {
	cfg config.ScorerConfig
}

// New creates a Scorer. The weights must already be validated (they sum
// to 1); config.Load enforces that.
func New(cfg config.ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the confidence of one candidate. Structurally invalid
// candidates score exactly 0 regardless of the formula.
func (s *Scorer) Score(c model.Candidate, v model.ValidationResult) float64 {
	if !v.StructurallyValid {
		return 0
	}

	score := c.SourcePrior*s.cfg.PriorWeight +
		precisionFactor(v.Precision)*s.cfg.PrecisionWeight +
		completenessFactor(c)*s.cfg.CompletenessWeight

	return clamp01(score)
}

// ScoreAll pairs each candidate with its validation result and confidence.
func (s *Scorer) ScoreAll(candidates []model.Candidate, validations []model.ValidationResult) []model.ScoredCandidate {
	scored := make([]model.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = model.ScoredCandidate{
			Candidate:  c,
			Validation: validations[i],
			Confidence: s.Score(c, validations[i]),
		}
	}
	return scored
}

// Aggregate computes the confidence of a merged spot: the best member score,
// boosted by a capped, diminishing bonus per corroborating member, and
// discounted once if any enrichment used was degraded.
func (s *Scorer) Aggregate(memberConfidences []float64, degradedEnrichment bool) float64 {
	if len(memberConfidences) == 0 {
		return 0
	}

	best := memberConfidences[0]
	for _, c := range memberConfidences[1:] {
		if c > best {
			best = c
		}
	}

	// Each extra member adds half the previous member's bonus.
	bonus := 0.0
	step := s.cfg.CorroborationBonus
	for i := 1; i < len(memberConfidences); i++ {
		bonus += step
		step /= 2
	}
	if bonus > s.cfg.CorroborationCap {
		bonus = s.cfg.CorroborationCap
	}

	agg := best + bonus
	if degradedEnrichment {
		agg -= s.cfg.DegradedPenalty
	}
	return clamp01(agg)
}

// precisionFactor maps the precision class to its score contribution.
func precisionFactor(p model.PrecisionClass) float64 {
	switch p {
	case model.PrecisionPrecise:
		return 1.0
	case model.PrecisionMedium:
		return 0.6
	default:
		return 0.3
	}
}

// completenessFactor rewards textual completeness: a usable description and
// a recognized (non-coerced) category each count half.
func completenessFactor(c model.Candidate) float64 {
	f := 0.0
	if strings.TrimSpace(c.RawDescription) != "" {
		f += 0.5
	}
	if _, ok := model.ParseCategory(c.RawCategory); ok {
		f += 0.5
	}
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
