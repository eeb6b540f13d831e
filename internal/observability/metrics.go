package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	progressRequestsTotal *prometheus.CounterVec
	progressLatency       *prometheus.HistogramVec
	completionsTotal      *prometheus.CounterVec
	bootstrapRowsTotal    *prometheus.CounterVec
	contentionTotal       *prometheus.CounterVec
	summaryCacheTotal     *prometheus.CounterVec
	outcomeEventsTotal    *prometheus.CounterVec
	schemaCapability      *prometheus.GaugeVec
)

// RegisterMetrics initialises the Prometheus collectors used by the progression API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		progressRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_operations_total",
			Help: "Progression operations by name and outcome.",
		}, []string{"operation", "outcome"})

		progressLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_operation_latency_seconds",
			Help:    "Latency of progression operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"})

		completionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_unit_completions_total",
			Help: "Unit completion attempts by result.",
		}, []string{"result"})

		bootstrapRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_bootstrap_rows_total",
			Help: "Progress rows written by bootstrap, by kind.",
		}, []string{"kind"})

		contentionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_lock_contention_total",
			Help: "Progress transactions that failed to acquire row locks in time.",
		}, []string{"operation"})

		summaryCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_summary_cache_total",
			Help: "Progress summary cache lookups by result.",
		}, []string{"result"})

		outcomeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_outcome_events_total",
			Help: "Grading outcome events consumed from the message bus, by result.",
		}, []string{"result"})

		schemaCapability = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "progress_schema_capability",
			Help: "Optional schema features detected at startup (1 present, 0 missing).",
		}, []string{"capability"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			progressRequestsTotal,
			progressLatency,
			completionsTotal,
			bootstrapRowsTotal,
			contentionTotal,
			summaryCacheTotal,
			outcomeEventsTotal,
			schemaCapability,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ProgressRequests counts progression operations.
func ProgressRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return progressRequestsTotal
}

// ProgressLatency observes progression operation latency.
func ProgressLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return progressLatency
}

// UnitCompletions counts completion attempts.
func UnitCompletions() *prometheus.CounterVec {
	RegisterMetrics()
	return completionsTotal
}

// BootstrapRows counts rows created or promoted during bootstrap.
func BootstrapRows() *prometheus.CounterVec {
	RegisterMetrics()
	return bootstrapRowsTotal
}

// LockContention counts contended transactions.
func LockContention() *prometheus.CounterVec {
	RegisterMetrics()
	return contentionTotal
}

// SummaryCache counts dashboard cache lookups.
func SummaryCache() *prometheus.CounterVec {
	RegisterMetrics()
	return summaryCacheTotal
}

// OutcomeEvents counts consumed grading outcome events.
func OutcomeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return outcomeEventsTotal
}

// SchemaCapability reports which optional tables and columns the service found.
func SchemaCapability() *prometheus.GaugeVec {
	RegisterMetrics()
	return schemaCapability
}
