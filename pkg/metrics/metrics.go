// Package metrics defines the Prometheus collectors for indexing, retrieval,
// evaluation and the HTTP surface, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Each instance owns its registry so
// tests and short-lived commands can create as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	RetrievalsTotal     *prometheus.CounterVec
	RetrievalLatency    *prometheus.HistogramVec
	RetrievalCandidates prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter

	DocsIndexedTotal      prometheus.Counter
	DocsSkippedTotal      *prometheus.CounterVec
	IndexCommitsTotal     *prometheus.CounterVec
	IndexCompactionsTotal *prometheus.CounterVec
	IndexGeneration       prometheus.Gauge
	IndexSegments         prometheus.Gauge
	IndexDocuments        prometheus.Gauge
	IndexEventsTotal      *prometheus.CounterVec

	EvaluationRecall   *prometheus.GaugeVec
	EvaluationCoverage *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	latency := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	return &Metrics{
		Registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests being served.",
		}),
		HTTPResponseSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 7),
		}, []string{"path"}),

		RetrievalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hover_retrievals_total",
			Help: "Claim retrievals by result type (hit, zero_result, error).",
		}, []string{"result_type"}),
		RetrievalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hover_retrieval_latency_seconds",
			Help:    "Claim retrieval latency in seconds.",
			Buckets: latency,
		}, []string{"cache_status"}),
		RetrievalCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hover_retrieval_candidates",
			Help:    "Candidate documents scored per retrieval.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hover_cache_hits_total",
			Help: "Query cache hits.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hover_cache_misses_total",
			Help: "Query cache misses.",
		}),

		DocsIndexedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hover_docs_indexed_total",
			Help: "Documents committed to the index.",
		}),
		DocsSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hover_docs_skipped_total",
			Help: "Corpus records skipped by reason (corrupt, duplicate).",
		}, []string{"reason"}),
		IndexCommitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hover_index_commits_total",
			Help: "Index commits by status.",
		}, []string{"status"}),
		IndexCompactionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hover_index_compactions_total",
			Help: "Index compactions by status.",
		}, []string{"status"}),
		IndexGeneration: f.NewGauge(prometheus.GaugeOpts{
			Name: "hover_index_generation",
			Help: "Generation of the committed index.",
		}),
		IndexSegments: f.NewGauge(prometheus.GaugeOpts{
			Name: "hover_index_segments",
			Help: "Live segments in the committed index.",
		}),
		IndexDocuments: f.NewGauge(prometheus.GaugeOpts{
			Name: "hover_index_documents",
			Help: "Live documents in the committed index.",
		}),
		IndexEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hover_index_events_total",
			Help: "index.complete announcements published and consumed, by outcome.",
		}, []string{"outcome"}),

		EvaluationRecall: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hover_evaluation_average_recall",
			Help: "Average supporting-title recall of the last evaluation, by split.",
		}, []string{"split"}),
		EvaluationCoverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hover_evaluation_coverage_rate",
			Help: "Full-coverage rate of the last evaluation, by split.",
		}, []string{"split"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
	}
}

// ObserveIndex records the shape of a newly committed index.
func (m *Metrics) ObserveIndex(generation uint64, segments int, docs int64) {
	if m == nil {
		return
	}
	m.IndexGeneration.Set(float64(generation))
	m.IndexSegments.Set(float64(segments))
	m.IndexDocuments.Set(float64(docs))
}

// IndexEvent counts one index.complete outcome.
func (m *Metrics) IndexEvent(outcome string) {
	if m == nil {
		return
	}
	m.IndexEventsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
