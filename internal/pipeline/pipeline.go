// Package pipeline orchestrates one batch run: ingest, validate, score,
// merge, enrich, verify, commit. Validation and scoring fan out across a
// bounded worker pool; merging is sequential; the commit is atomic. A run
// that fails before commit leaves the catalog untouched and is safe to
// retry.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wildsight/spot-pipeline/internal/catalog"
	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/enrich"
	"github.com/wildsight/spot-pipeline/internal/ingest"
	"github.com/wildsight/spot-pipeline/internal/merge"
	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/observability"
	"github.com/wildsight/spot-pipeline/internal/region"
	"github.com/wildsight/spot-pipeline/internal/score"
	"github.com/wildsight/spot-pipeline/internal/validate"
	"github.com/wildsight/spot-pipeline/internal/verify"
)

// cellRings matches the merger's neighbor scan so the loaded catalog slice
// covers every spot a batch candidate could merge with.
const cellRings = 2

// Pipeline wires the run stages together.
type Pipeline struct {
	cfg       *config.Config
	store     catalog.Store
	validator *validate.Validator
	scorer    *score.Scorer
	merger    *merge.Merger
	verifier  *verify.Machine
	enricher  enrich.Fetcher
	metrics   *observability.Metrics
	clock     clockwork.Clock
	logger    *zap.Logger
}

// Option configures optional Pipeline dependencies.
type Option func(*Pipeline)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline. The enricher may be nil, in which case merged
// spots are committed without enrichment.
func New(cfg *config.Config, store catalog.Store, bounds region.Bounds, enricher enrich.Fetcher, opts ...Option) *Pipeline {
	scorer := score.New(cfg.Scorer)
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		validator: validate.New(bounds),
		scorer:    scorer,
		merger:    merge.New(cfg.Merge, scorer),
		verifier:  verify.New(cfg.Verify),
		enricher:  enricher,
		clock:     clockwork.NewRealClock(),
		logger:    zap.L().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunResult summarizes one batch run.
type RunResult struct {
	Ingested     int           `json:"ingested"`
	Rejected     int           `json:"rejected"`
	NewSpots     int           `json:"new_spots"`
	UpdatedSpots int           `json:"updated_spots"`
	Quarantined  int           `json:"quarantined"`
	Degraded     int           `json:"degraded_enrichments"`
	Duration     time.Duration `json:"duration"`
}

// Ingest drains every adapter into one candidate batch. Adapters run
// sequentially; each one streams.
func (p *Pipeline) Ingest(ctx context.Context, adapters []ingest.Adapter) ([]model.Candidate, error) {
	var batch []model.Candidate
	for _, a := range adapters {
		n := 0
		err := a.Read(ctx, func(c model.Candidate) error {
			batch = append(batch, c)
			n++
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: ingest source %q", a.Source())
		}
		p.logger.Info("source ingested", zap.String("source", a.Source()), zap.Int("candidates", n))
	}
	return batch, nil
}

// Run processes one candidate batch end to end. Everything before the
// final CommitBatch only builds in-memory state; a store failure aborts
// the run with no partial write.
func (p *Pipeline) Run(ctx context.Context, batch []model.Candidate) (*RunResult, error) {
	start := p.clock.Now()
	result := &RunResult{Ingested: len(batch)}

	if p.metrics != nil {
		p.metrics.CandidatesIngested.Add(float64(len(batch)))
		p.metrics.BatchSize.Observe(float64(len(batch)))
	}

	scored, audits := p.validateAndScore(ctx, batch, result)

	existing, err := p.loadAffected(ctx, scored)
	if err != nil {
		return nil, err
	}

	outcome, err := p.merger.Merge(scored, existing)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: merge batch")
	}

	spots := make([]model.MergedSpot, 0, len(outcome.Spots))
	for _, upd := range outcome.Spots {
		spot := upd.Spot

		if p.enricher != nil && p.cfg.Merge.EnrichMergedSpots {
			degraded := p.enrichSpot(ctx, &spot, upd.MemberConfidences)
			if degraded {
				result.Degraded++
				audits = append(audits, model.AuditEntry{
					Kind:       model.AuditDegradedEnrichment,
					SpotID:     spot.ID,
					Detail:     "enrichment synthesized locally after upstream failure",
					RecordedAt: p.clock.Now().UTC(),
				})
			}
		}

		if changed, reason := p.verifier.Evaluate(&spot); changed {
			result.Quarantined++
			audits = append(audits, model.AuditEntry{
				Kind:       model.AuditStatusChange,
				SpotID:     spot.ID,
				Detail:     reason,
				RecordedAt: p.clock.Now().UTC(),
			})
		}

		if upd.IsNew {
			result.NewSpots++
		} else {
			result.UpdatedSpots++
		}
		spots = append(spots, spot)
	}

	if err := p.store.CommitBatch(ctx, spots, audits); err != nil {
		return nil, eris.Wrap(err, "pipeline: commit batch")
	}

	result.Duration = p.clock.Now().Sub(start)
	if p.metrics != nil {
		p.metrics.SpotsCommitted.Add(float64(len(spots)))
		p.metrics.RunDuration.Observe(result.Duration.Seconds())
	}

	p.logger.Info("run committed",
		zap.Int("ingested", result.Ingested),
		zap.Int("rejected", result.Rejected),
		zap.Int("new_spots", result.NewSpots),
		zap.Int("updated_spots", result.UpdatedSpots),
		zap.Int("quarantined", result.Quarantined),
		zap.Int("degraded", result.Degraded),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// validateAndScore runs batch validation, then scores candidates across
// the worker pool. Scoring writes disjoint slice slots, so no locking.
func (p *Pipeline) validateAndScore(ctx context.Context, batch []model.Candidate, result *RunResult) ([]model.ScoredCandidate, []model.AuditEntry) {
	validations := p.validator.ValidateBatch(batch)

	scored := make([]model.ScoredCandidate, len(batch))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := range batch {
		g.Go(func() error {
			scored[i] = model.ScoredCandidate{
				Candidate:  batch[i],
				Validation: validations[i],
				Confidence: p.scorer.Score(batch[i], validations[i]),
			}
			return nil
		})
	}
	_ = g.Wait() // scoring never returns an error

	var audits []model.AuditEntry
	for i, sc := range scored {
		if sc.Validation.StructurallyValid {
			continue
		}
		result.Rejected++
		if p.metrics != nil {
			for _, v := range sc.Validation.Violations {
				if v.Blocking() {
					p.metrics.CandidatesRejected.WithLabelValues(string(v)).Inc()
				}
			}
		}
		audits = append(audits, model.AuditEntry{
			Kind:       model.AuditRejectedCandidate,
			SourceID:   batch[i].SourceID,
			Detail:     violationDetail(sc.Validation.Violations),
			RecordedAt: p.clock.Now().UTC(),
		})
	}
	return scored, audits
}

// loadAffected loads the catalog slice the batch can touch: every spot in
// the cells covering a valid candidate, plus the surrounding rings.
func (p *Pipeline) loadAffected(ctx context.Context, scored []model.ScoredCandidate) ([]model.MergedSpot, error) {
	cellSet := make(map[string]struct{})
	for _, sc := range scored {
		if !sc.Validation.StructurallyValid {
			continue
		}
		cells, err := catalog.CoveringCells(sc.Candidate.Latitude, sc.Candidate.Longitude, p.cfg.Merge.CellResolution, cellRings)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: affected cells")
		}
		for _, c := range cells {
			cellSet[c] = struct{}{}
		}
	}
	if len(cellSet) == 0 {
		return nil, nil
	}

	cells := make([]string, 0, len(cellSet))
	for c := range cellSet {
		cells = append(cells, c)
	}
	sort.Strings(cells)

	existing, err := p.store.LoadCells(ctx, cells)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load affected cells")
	}
	return existing, nil
}

// enrichSpot attaches upstream context to a spot and re-aggregates its
// confidence with the degraded penalty when the fetch fell back. Fetch
// never fails; the worst case is a degraded payload.
func (p *Pipeline) enrichSpot(ctx context.Context, spot *model.MergedSpot, memberConfs []float64) bool {
	res := p.enricher.Fetch(ctx, enrich.Query{Lat: spot.Latitude, Lon: spot.Longitude})
	degraded := res.Degraded()

	spot.Enrichment = &model.Enrichment{
		ElevationM:     res.Payload.ElevationM,
		NearestFeature: res.Payload.NearestFeature,
		FeatureDistM:   res.Payload.FeatureDistM,
		Degraded:       degraded,
	}
	spot.Confidence = p.scorer.Aggregate(memberConfs, degraded)
	return degraded
}

func (p *Pipeline) workers() int {
	if p.cfg.Pipeline.Workers > 0 {
		return p.cfg.Pipeline.Workers
	}
	return 8
}

func violationDetail(violations []model.ViolationKind) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, string(v))
	}
	return fmt.Sprintf("excluded by validation: %s", strings.Join(parts, ", "))
}
