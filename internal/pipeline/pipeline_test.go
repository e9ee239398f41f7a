package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildsight/spot-pipeline/internal/catalog"
	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/enrich"
	"github.com/wildsight/spot-pipeline/internal/ingest"
	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/region"
)

// fakeStore is a Store that records commits and serves a preset catalog.
type fakeStore struct {
	existing       []model.MergedSpot
	committedSpots []model.MergedSpot
	committedAudit []model.AuditEntry
	commitCalls    int
	commitErr      error
}

func (f *fakeStore) LoadCells(_ context.Context, _ []string) ([]model.MergedSpot, error) {
	return f.existing, nil
}

func (f *fakeStore) CommitBatch(_ context.Context, spots []model.MergedSpot, audits []model.AuditEntry) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commitCalls++
	f.committedSpots = append(f.committedSpots, spots...)
	f.committedAudit = append(f.committedAudit, audits...)
	return nil
}

func (f *fakeStore) GetSpot(context.Context, string) (*model.MergedSpot, error) { return nil, nil }
func (f *fakeStore) ListSpots(context.Context, catalog.SpotFilter) ([]model.MergedSpot, error) {
	return nil, nil
}
func (f *fakeStore) UpdateStatus(context.Context, string, model.VerificationStatus) error {
	return nil
}
func (f *fakeStore) ListAudit(context.Context, catalog.AuditFilter) ([]model.AuditEntry, error) {
	return nil, nil
}
func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// fakeEnricher counts fetches and returns a fixed result.
type fakeEnricher struct {
	calls  int
	result enrich.EnrichmentResult
}

func (f *fakeEnricher) Fetch(_ context.Context, _ enrich.Query) enrich.EnrichmentResult {
	f.calls++
	return f.result
}

func testConfig() *config.Config {
	return &config.Config{
		Region: config.RegionConfig{MinLat: 42.5, MaxLat: 45.0, MinLon: 0.0, MaxLon: 3.5},
		Scorer: config.ScorerConfig{
			PriorWeight: 0.5, PrecisionWeight: 0.3, CompletenessWeight: 0.2,
			CorroborationBonus: 0.05, CorroborationCap: 0.15, DegradedPenalty: 0.05,
		},
		Merge: config.MergeConfig{
			DistanceThresholdM: 75, NameSimThreshold: 0.8,
			CellResolution: 10, EnrichMergedSpots: true,
		},
		Verify:   config.VerifyConfig{QuarantineFloor: 0.25},
		Pipeline: config.PipelineConfig{Workers: 2},
	}
}

func testBounds() region.Bounds {
	return region.Rect{MinLat: 42.5, MaxLat: 45.0, MinLon: 0.0, MaxLon: 3.5}
}

var obs = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cascadeBatch() []model.Candidate {
	return []model.Candidate{
		{
			SourceID: "osm:node/1", RawName: "Cascade A",
			RawDescription: "tall waterfall", Latitude: 43.60412, Longitude: 1.40391,
			Category: model.CategoryWaterfall, RawCategory: "waterfall",
			ObservedAt: obs, SourcePrior: 0.9,
		},
		{
			SourceID: "social:77", RawName: "cascade a",
			Latitude: 43.60415, Longitude: 1.40392,
			Category: model.CategoryWaterfall, RawCategory: "waterfall",
			ObservedAt: obs.Add(time.Hour), SourcePrior: 0.4,
		},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	store := &fakeStore{}
	enricher := &fakeEnricher{result: enrich.EnrichmentResult{
		Payload:    enrich.Payload{ElevationM: 1130},
		Provenance: enrich.ProvenanceFresh,
	}}
	p := New(testConfig(), store, testBounds(), enricher)

	batch := append(cascadeBatch(), model.Candidate{
		SourceID: "social:99", RawName: "Fake Spot",
		Latitude: 200.0, Longitude: 1.4,
		Category: model.CategoryOther, ObservedAt: obs, SourcePrior: 0.4,
	})

	result, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Ingested)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.NewSpots)
	assert.Zero(t, result.UpdatedSpots)
	assert.Zero(t, result.Quarantined)
	assert.Zero(t, result.Degraded)

	require.Equal(t, 1, store.commitCalls)
	require.Len(t, store.committedSpots, 1, "the rejected candidate never becomes a spot")

	spot := store.committedSpots[0]
	assert.Equal(t, "Cascade A", spot.CanonicalName)
	assert.ElementsMatch(t, []string{"osm:node/1", "social:77"}, spot.MemberIDs())
	assert.Equal(t, model.StatusUnverified, spot.Status)
	require.NotNil(t, spot.Enrichment)
	assert.InDelta(t, 1130, spot.Enrichment.ElevationM, 1e-9)
	assert.False(t, spot.Enrichment.Degraded)
	assert.Equal(t, 1, enricher.calls)

	require.Len(t, store.committedAudit, 1)
	audit := store.committedAudit[0]
	assert.Equal(t, model.AuditRejectedCandidate, audit.Kind)
	assert.Equal(t, "social:99", audit.SourceID)
	assert.Contains(t, audit.Detail, "out_of_bounds_coordinate")
}

func TestRun_DegradedEnrichmentIsAuditedAndPenalized(t *testing.T) {
	store := &fakeStore{}
	degraded := &fakeEnricher{result: enrich.EnrichmentResult{Provenance: enrich.ProvenanceDegraded}}
	p := New(testConfig(), store, testBounds(), degraded)

	result, err := p.Run(context.Background(), cascadeBatch())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Degraded)

	require.Len(t, store.committedSpots, 1)
	spot := store.committedSpots[0]
	require.NotNil(t, spot.Enrichment)
	assert.True(t, spot.Enrichment.Degraded)

	// Same batch with a clean enrichment scores higher.
	cleanStore := &fakeStore{}
	clean := &fakeEnricher{result: enrich.EnrichmentResult{Provenance: enrich.ProvenanceFresh}}
	_, err = New(testConfig(), cleanStore, testBounds(), clean).Run(context.Background(), cascadeBatch())
	require.NoError(t, err)
	assert.InDelta(t, cleanStore.committedSpots[0].Confidence-0.05, spot.Confidence, 1e-9)

	var kinds []model.AuditKind
	for _, a := range store.committedAudit {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, model.AuditDegradedEnrichment)
}

func TestRun_LowConfidenceSpotIsQuarantined(t *testing.T) {
	store := &fakeStore{}
	p := New(testConfig(), store, testBounds(), nil)

	// Zero prior, coarse coordinates, no description: confidence 0.19.
	batch := []model.Candidate{{
		SourceID: "social:1", RawName: "Maybe A Cave",
		Latitude: 42.8, Longitude: 1.3,
		Category: model.CategoryCave, RawCategory: "cave",
		ObservedAt: obs, SourcePrior: 0.0,
	}}

	result, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Quarantined)

	require.Len(t, store.committedSpots, 1)
	assert.Equal(t, model.StatusQuarantined, store.committedSpots[0].Status)

	var kinds []model.AuditKind
	for _, a := range store.committedAudit {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, model.AuditStatusChange)
}

func TestRun_NilEnricherSkipsEnrichment(t *testing.T) {
	store := &fakeStore{}
	p := New(testConfig(), store, testBounds(), nil)

	_, err := p.Run(context.Background(), cascadeBatch())
	require.NoError(t, err)
	require.Len(t, store.committedSpots, 1)
	assert.Nil(t, store.committedSpots[0].Enrichment)
}

func TestRun_ExtendsCatalogSpot(t *testing.T) {
	existing := model.MergedSpot{
		ID:            "spot-1",
		CanonicalName: "Cascade A",
		Latitude:      43.60412,
		Longitude:     1.40391,
		Category:      model.CategoryWaterfall,
		Members:       map[string]float64{"osm:node/1": 0.9},
		Confidence:    0.9,
		Status:        model.StatusUnverified,
		CreatedAt:     obs,
		UpdatedAt:     obs,
	}
	store := &fakeStore{existing: []model.MergedSpot{existing}}
	p := New(testConfig(), store, testBounds(), nil)

	batch := []model.Candidate{{
		SourceID: "social:77", RawName: "cascade a",
		Latitude: 43.60415, Longitude: 1.40392,
		Category: model.CategoryWaterfall, RawCategory: "waterfall",
		ObservedAt: obs.Add(time.Hour), SourcePrior: 0.4,
	}}

	result, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Zero(t, result.NewSpots)
	assert.Equal(t, 1, result.UpdatedSpots)

	require.Len(t, store.committedSpots, 1)
	spot := store.committedSpots[0]
	assert.Equal(t, "spot-1", spot.ID)
	assert.ElementsMatch(t, []string{"osm:node/1", "social:77"}, spot.MemberIDs())
}

func TestRun_CommitFailureAbortsRun(t *testing.T) {
	store := &fakeStore{commitErr: assert.AnError}
	p := New(testConfig(), store, testBounds(), nil)

	_, err := p.Run(context.Background(), cascadeBatch())
	require.Error(t, err)
	assert.Empty(t, store.committedSpots)
}

// fakeAdapter emits a fixed candidate slice.
type fakeAdapter struct {
	name  string
	cands []model.Candidate
	err   error
}

func (f *fakeAdapter) Source() string { return f.name }

func (f *fakeAdapter) Read(_ context.Context, emit func(model.Candidate) error) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.cands {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

func TestIngest_DrainsAllAdapters(t *testing.T) {
	p := New(testConfig(), &fakeStore{}, testBounds(), nil)

	batch, err := p.Ingest(context.Background(), []ingest.Adapter{
		&fakeAdapter{name: "osm", cands: cascadeBatch()[:1]},
		&fakeAdapter{name: "social", cands: cascadeBatch()[1:]},
	})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestIngest_AdapterFailureNamesSource(t *testing.T) {
	p := New(testConfig(), &fakeStore{}, testBounds(), nil)

	_, err := p.Ingest(context.Background(), []ingest.Adapter{
		&fakeAdapter{name: "broken", err: assert.AnError},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
