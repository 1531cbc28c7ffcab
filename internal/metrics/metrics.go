package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Gridline
type Metrics struct {
	// Extraction runs
	ExtractionRunsTotal       *prometheus.CounterVec
	ExtractionDurationSeconds prometheus.Histogram
	ProjectsExtractedTotal    prometheus.Counter

	// Model calls
	LLMCallsTotal          *prometheus.CounterVec
	LLMCallDurationSeconds *prometheus.HistogramVec
	LLMErrorsTotal         *prometheus.CounterVec

	// Response cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Jobs and history
	Jobs           *prometheus.GaugeVec
	HistoryBatches prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ExtractionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_extraction_runs_total",
				Help: "Total number of extraction runs by result",
			},
			[]string{"result"},
		),
		ExtractionDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridline_extraction_duration_seconds",
				Help:    "Duration of complete extraction runs in seconds",
				Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180, 300, 600},
			},
		),
		ProjectsExtractedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gridline_projects_extracted_total",
				Help: "Total number of projects extracted",
			},
		),

		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_llm_calls_total",
				Help: "Total number of model calls",
			},
			[]string{"call", "provider"},
		),
		LLMCallDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridline_llm_call_duration_seconds",
				Help:    "Model call duration in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"call", "provider"},
		),
		LLMErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_llm_errors_total",
				Help: "Total number of failed model calls",
			},
			[]string{"call", "provider", "kind"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_cache_hits_total",
				Help: "Total number of model responses served from cache",
			},
			[]string{"call"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_cache_misses_total",
				Help: "Total number of cache lookups that missed",
			},
			[]string{"call"},
		),

		Jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridline_jobs",
				Help: "Number of extraction jobs by status",
			},
			[]string{"status"},
		),
		HistoryBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridline_history_batches",
				Help: "Number of batches kept in history",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridline_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridline_ratelimit_exceeded_total",
				Help: "Total number of rejected extraction requests",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridline_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridline_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridline_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.ExtractionRunsTotal,
		m.ExtractionDurationSeconds,
		m.ProjectsExtractedTotal,
		m.LLMCallsTotal,
		m.LLMCallDurationSeconds,
		m.LLMErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.Jobs,
		m.HistoryBatches,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveExtraction records a finished run. result is success, failed or invalid.
func ObserveExtraction(result string, seconds float64, projects int) {
	m := Global()
	if m == nil {
		return
	}
	m.ExtractionRunsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.ExtractionDurationSeconds.Observe(seconds)
		m.ProjectsExtractedTotal.Add(float64(projects))
	}
}

// ObserveLLMCall records one model call
func ObserveLLMCall(call, provider string, seconds float64) {
	m := Global()
	if m != nil {
		m.LLMCallsTotal.WithLabelValues(call, provider).Inc()
		m.LLMCallDurationSeconds.WithLabelValues(call, provider).Observe(seconds)
	}
}

// IncLLMErrors counts a failed model call; kind is temporary or permanent
func IncLLMErrors(call, provider, kind string) {
	m := Global()
	if m != nil {
		m.LLMErrorsTotal.WithLabelValues(call, provider, kind).Inc()
	}
}

// IncCacheHit counts a cached response
func IncCacheHit(call string) {
	m := Global()
	if m != nil {
		m.CacheHitsTotal.WithLabelValues(call).Inc()
	}
}

// IncCacheMiss counts a cache miss
func IncCacheMiss(call string) {
	m := Global()
	if m != nil {
		m.CacheMissesTotal.WithLabelValues(call).Inc()
	}
}

// SetHistoryBatches sets the history size gauge
func SetHistoryBatches(n int) {
	m := Global()
	if m != nil {
		m.HistoryBatches.Set(float64(n))
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}
