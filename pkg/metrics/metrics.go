// Package metrics defines the Prometheus collectors used across the service
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IngestTotal          *prometheus.CounterVec
	IngestLatency        prometheus.Histogram
	StorageRetriesTotal  prometheus.Counter
	IndexGeneration      prometheus.Gauge
	IndexDocuments       prometheus.Gauge
	IndexTerms           prometheus.Gauge
	IndexTombstones      prometheus.Gauge
	IndexLiveSnapshots   prometheus.Gauge
	CompactionsTotal     prometheus.Counter
	IndexDivergenceTotal prometheus.Counter
	ChangeEventsTotal    *prometheus.CounterVec
	IngestMessagesTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the global registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, invalid, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matching documents per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search result cache misses.",
			},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_total",
				Help: "Ingest and delete operations by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		IngestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_latency_seconds",
				Help:    "Latency of the store+index commit in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		StorageRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_retries_total",
				Help: "Durable writes retried after a transient failure.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_generation",
				Help: "Generation of the currently published index snapshot.",
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Live documents in the current snapshot.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_terms",
				Help: "Distinct terms in the current snapshot.",
			},
		),
		IndexTombstones: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_tombstones",
				Help: "Deleted documents whose postings await compaction.",
			},
		),
		IndexLiveSnapshots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_snapshots",
				Help: "Snapshots not yet retired, including the current one.",
			},
		),
		CompactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_compactions_total",
				Help: "Compactions that purged at least one tombstone.",
			},
		),
		IndexDivergenceTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_divergence_total",
				Help: "Stored versions that reached neither the index nor an abort record; the index lags the store until restart.",
			},
		),
		ChangeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "change_events_total",
				Help: "Document change events by publish result.",
			},
			[]string{"result"},
		),
		IngestMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_messages_total",
				Help: "Ingest-topic messages consumed by result.",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IngestTotal,
		m.IngestLatency,
		m.StorageRetriesTotal,
		m.IndexGeneration,
		m.IndexDocuments,
		m.IndexTerms,
		m.IndexTombstones,
		m.IndexLiveSnapshots,
		m.CompactionsTotal,
		m.IndexDivergenceTotal,
		m.ChangeEventsTotal,
		m.IngestMessagesTotal,
		m.CircuitBreakerState,
	)
	return m
}

// NewDefault registers on a new registry that also carries the Go runtime
// and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
