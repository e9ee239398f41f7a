package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion-merge-enrichment pipeline.
type Metrics struct {
	CandidatesIngested prometheus.Counter
	CandidatesRejected *prometheus.CounterVec // labels: violation
	SpotsCommitted     prometheus.Counter
	RunDuration        prometheus.Histogram
	BatchSize          prometheus.Histogram

	// Upstream enrichment client metrics.
	EnrichRequests *prometheus.CounterVec // labels: outcome={fresh,cached,degraded}
	EnrichCache    *prometheus.CounterVec // labels: result={hit,miss}
	EnrichDuration prometheus.Histogram
	UpstreamHealth prometheus.Gauge // success ratio over the rolling window
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CandidatesIngested,
		m.CandidatesRejected,
		m.SpotsCommitted,
		m.RunDuration,
		m.BatchSize,
		m.EnrichRequests,
		m.EnrichCache,
		m.EnrichDuration,
		m.UpstreamHealth,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CandidatesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotpipe",
			Name:      "candidates_ingested_total",
			Help:      "Total candidate records read from ingestion adapters.",
		}),
		CandidatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotpipe",
			Name:      "candidates_rejected_total",
			Help:      "Candidates excluded by structural validation, by violation kind.",
		}, []string{"violation"}),
		SpotsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotpipe",
			Name:      "spots_committed_total",
			Help:      "Merged spots written to the catalog.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotpipe",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline batch run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotpipe",
			Name:      "batch_size",
			Help:      "Number of candidates per pipeline batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		}),
		EnrichRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotpipe",
			Name:      "enrich_requests_total",
			Help:      "Enrichment fetches by provenance outcome.",
		}, []string{"outcome"}),
		EnrichCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotpipe",
			Name:      "enrich_cache_total",
			Help:      "Enrichment cache lookups by result.",
		}, []string{"result"}),
		EnrichDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotpipe",
			Name:      "enrich_api_duration_seconds",
			Help:      "Upstream geospatial API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		UpstreamHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spotpipe",
			Name:      "upstream_health_ratio",
			Help:      "Success ratio of recent upstream calls (observability only).",
		}),
	}
}
