// Package metrics provides Prometheus metrics for the Cadenza feedback service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the Cadenza service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Submission pipeline
	submissions       *prometheus.CounterVec
	phaseFailures     *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec
	duplicates        prometheus.Counter

	// Aggregate maintenance
	aggregateLatency   prometheus.Histogram
	aggregateConflicts *prometheus.CounterVec
	pooledValues       prometheus.Histogram
	lastScore          *prometheus.GaugeVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	storeDocs    *prometheus.GaugeVec

	// Notification delivery
	notifyQueueSize    prometheus.Gauge
	notifyQueueCap     prometheus.Gauge
	notifyEnqueued     prometheus.Counter
	notifyDropped      *prometheus.CounterVec
	notifySent         *prometheus.CounterVec
	notifyFailed       *prometheus.CounterVec
	notifyLatency      prometheus.Histogram
	notifyWorkerActive prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
	errorRateByType     *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cadenza",
		subsystem:        "feedback",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.submissions = m.counterVec("submissions_total",
		"Feedback submissions by category and outcome", "category", "outcome")
	m.phaseFailures = m.counterVec("submission_phase_failures_total",
		"Submissions that stopped at a given phase", "phase", "kind")
	m.submissionLatency = m.histogramVec("submission_latency_milliseconds",
		"End-to-end submission latency in milliseconds", "category")
	m.duplicates = m.counter("submission_duplicates_total",
		"Submissions rejected because their idempotency key was already seen")

	m.aggregateLatency = m.histogram("aggregate_recompute_latency_milliseconds",
		"Course aggregate recompute latency in milliseconds", m.histogramBuckets)
	m.aggregateConflicts = m.counterVec("aggregate_conflicts_total",
		"Optimistic version conflicts while writing aggregates", "document")
	m.pooledValues = m.histogram("aggregate_pooled_values",
		"Number of metric values pooled into one course aggregate",
		[]float64{1, 6, 12, 24, 48, 96, 192, 384})
	m.lastScore = m.gaugeVec("aggregate_last_score",
		"Most recently written course aggregate score per category", "category")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Document store operation latency in milliseconds", "backend", "op")
	m.storeErrors = m.counterVec("store_errors_total",
		"Document store operation errors", "backend", "op")
	m.storeDocs = m.gaugeVec("store_documents",
		"Documents held per collection", "backend", "collection")

	m.notifyQueueSize = m.gauge("notify_queue_size", "Current notification queue depth")
	m.notifyQueueCap = m.gauge("notify_queue_capacity", "Notification queue capacity")
	m.notifyEnqueued = m.counter("notify_enqueued_total", "Notifications accepted into the queue")
	m.notifyDropped = m.counterVec("notify_dropped_total",
		"Notifications dropped before delivery", "reason")
	m.notifySent = m.counterVec("notify_sent_total", "Notifications delivered", "category")
	m.notifyFailed = m.counterVec("notify_failed_total", "Notification delivery failures", "category")
	m.notifyLatency = m.histogram("notify_latency_milliseconds",
		"Notification render and send latency in milliseconds", m.histogramBuckets)
	m.notifyWorkerActive = m.gauge("notify_workers", "Notification workers running")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Total number of errors by type", "error_type", "severity")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Submission pipeline.

// RecordSubmission counts a finished submission. outcome is "ok" or an error kind.
func RecordSubmission(category, outcome string) {
	globalManager.submissions.WithLabelValues(category, outcome).Inc()
}

// RecordPhaseFailure counts a submission that stopped at phase.
func RecordPhaseFailure(phase, kind string) {
	globalManager.phaseFailures.WithLabelValues(phase, kind).Inc()
}

// RecordSubmissionLatency records end-to-end latency for one submission.
func RecordSubmissionLatency(category string, latencyMs float64) {
	globalManager.submissionLatency.WithLabelValues(category).Observe(latencyMs)
}

// RecordDuplicateSubmission counts an idempotency-key replay.
func RecordDuplicateSubmission() {
	globalManager.duplicates.Inc()
}

// Aggregates.

// RecordAggregateLatency records one recompute, including retries.
func RecordAggregateLatency(latencyMs float64) {
	globalManager.aggregateLatency.Observe(latencyMs)
}

// RecordAggregateConflict counts an optimistic-lock conflict on document.
func RecordAggregateConflict(document string) {
	globalManager.aggregateConflicts.WithLabelValues(document).Inc()
}

// RecordPooledValues records how many values fed a course aggregate.
func RecordPooledValues(n int) {
	globalManager.pooledValues.Observe(float64(n))
}

// UpdateLastScore sets the last written aggregate for category.
func UpdateLastScore(category string, score float64) {
	globalManager.lastScore.WithLabelValues(category).Set(score)
}

// Store.

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(backend, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(backend, op string) {
	globalManager.storeErrors.WithLabelValues(backend, op).Inc()
}

// UpdateStoreDocuments sets the document count for a collection.
func UpdateStoreDocuments(backend, collection string, n int) {
	globalManager.storeDocs.WithLabelValues(backend, collection).Set(float64(n))
}

// Notifications.

// UpdateNotifyQueueSize sets the current notification queue depth.
func UpdateNotifyQueueSize(size int) {
	globalManager.notifyQueueSize.Set(float64(size))
}

// UpdateNotifyQueueCapacity sets the notification queue capacity.
func UpdateNotifyQueueCapacity(capacity int) {
	globalManager.notifyQueueCap.Set(float64(capacity))
}

// RecordNotifyEnqueued counts an accepted notification.
func RecordNotifyEnqueued() {
	globalManager.notifyEnqueued.Inc()
}

// RecordNotifyDropped counts a notification dropped for reason.
func RecordNotifyDropped(reason string) {
	globalManager.notifyDropped.WithLabelValues(reason).Inc()
}

// RecordNotifySent counts a delivered notification.
func RecordNotifySent(category string) {
	globalManager.notifySent.WithLabelValues(category).Inc()
}

// RecordNotifyFailed counts a failed delivery.
func RecordNotifyFailed(category string) {
	globalManager.notifyFailed.WithLabelValues(category).Inc()
}

// RecordNotifyLatency records render+send latency.
func RecordNotifyLatency(latencyMs float64) {
	globalManager.notifyLatency.Observe(latencyMs)
}

// UpdateNotifyWorkers sets the number of running notification workers.
func UpdateNotifyWorkers(count int) {
	globalManager.notifyWorkerActive.Set(float64(count))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
