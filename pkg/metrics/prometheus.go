// Package metrics provides Prometheus metrics for the gigtrust service.
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

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Trust pipeline
	eventsRecorded    *prometheus.CounterVec
	rescores          *prometheus.CounterVec
	rescoreLatency    prometheus.Histogram
	rescoreCoalesced  prometheus.Counter
	statusTransitions *prometheus.CounterVec
	holdsReleased     prometheus.Counter

	// Overdue-payment sweep
	sweepRuns            *prometheus.CounterVec
	sweepOverdueFound    prometheus.Counter
	sweepPenalties       prometheus.Counter
	sweepNewlyRestricted prometheus.Counter
	sweepFailures        prometheus.Counter
	sweepDuration        prometheus.Histogram
	sweepLastRunUnix     prometheus.Gauge

	// Notifications
	notificationsSent    *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec

	// Store
	storeLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Errors
	errorsByComponent *prometheus.CounterVec

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
		namespace:        "gigtrust",
		subsystem:        "trust",
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

// RefreshInterval is how often gauge collectors should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

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
	m.eventsRecorded = m.counterVec("events_recorded_total",
		"Trust events written to the event store, by event type", "event_type")
	m.rescores = m.counterVec("rescores_total",
		"Profile rescores by role and outcome (updated, missing_profile, error)", "role", "outcome")
	m.rescoreLatency = m.histogram("rescore_latency_milliseconds",
		"Latency of a full fold-classify-write rescore in milliseconds", m.histogramBuckets)
	m.rescoreCoalesced = m.counter("rescore_coalesced_total",
		"Rescore requests dropped because the user was already queued")
	m.statusTransitions = m.counterVec("status_transitions_total",
		"Trust status changes written to profiles", "role", "from", "to")
	m.holdsReleased = m.counter("holds_released_total",
		"Client holds released after an overdue payment was settled")

	m.sweepRuns = m.counterVec("sweep_runs_total",
		"Overdue-payment sweep runs by result (success, failed, busy)", "result")
	m.sweepOverdueFound = m.counter("sweep_overdue_found_total",
		"Overdue payments selected by sweeps")
	m.sweepPenalties = m.counter("sweep_penalties_total",
		"Overdue penalties applied (at most one per payment)")
	m.sweepNewlyRestricted = m.counter("sweep_newly_restricted_total",
		"Clients moved into restricted or blocked by a sweep")
	m.sweepFailures = m.counter("sweep_failures_total",
		"Per-payment failures during sweeps")
	m.sweepDuration = m.histogram("sweep_duration_milliseconds",
		"Duration of a sweep run in milliseconds",
		[]float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000})
	m.sweepLastRunUnix = m.gauge("sweep_last_run_unix",
		"Unix timestamp of the last completed sweep")

	m.notificationsSent = m.counterVec("notifications_sent_total",
		"Notifications handed to the dispatcher", "type")
	m.notificationFailures = m.counterVec("notification_failures_total",
		"Notifications the dispatcher failed to deliver", "type")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Relational store operation latency in milliseconds", "op")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current number of queued rescore jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum rescore queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Rescore queue utilization (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Rescore jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Rescore jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Rescore jobs rejected by the queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds",
		"Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Rescore workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time a worker spends on one rescore job in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Rescore jobs that ended in error")

	m.errorsByComponent = m.counterVec("errors_total",
		"Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Trust pipeline.

// RecordEventRecorded counts a stored trust event.
func RecordEventRecorded(eventType string) {
	if globalManager.enabled {
		globalManager.eventsRecorded.WithLabelValues(eventType).Inc()
	}
}

// RecordRescore counts a rescore outcome for a role.
func RecordRescore(role, outcome string) {
	if globalManager.enabled {
		globalManager.rescores.WithLabelValues(role, outcome).Inc()
	}
}

// RecordRescoreLatency records a rescore's latency in milliseconds.
func RecordRescoreLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.rescoreLatency.Observe(latencyMs)
	}
}

// RecordRescoreCoalesced counts a rescore request folded into a queued one.
func RecordRescoreCoalesced() {
	if globalManager.enabled {
		globalManager.rescoreCoalesced.Inc()
	}
}

// RecordStatusTransition counts a status change on a profile.
func RecordStatusTransition(role, from, to string) {
	if globalManager.enabled {
		globalManager.statusTransitions.WithLabelValues(role, from, to).Inc()
	}
}

// RecordHoldReleased counts a released client hold.
func RecordHoldReleased() {
	if globalManager.enabled {
		globalManager.holdsReleased.Inc()
	}
}

// Sweep.

// RecordSweepRun counts a sweep run by result.
func RecordSweepRun(result string) {
	if globalManager.enabled {
		globalManager.sweepRuns.WithLabelValues(result).Inc()
	}
}

// RecordSweepReport adds one run's counters and duration.
func RecordSweepReport(found, penalized, newlyRestricted, failed int, durationMs float64, finished time.Time) {
	if !globalManager.enabled {
		return
	}
	globalManager.sweepOverdueFound.Add(float64(found))
	globalManager.sweepPenalties.Add(float64(penalized))
	globalManager.sweepNewlyRestricted.Add(float64(newlyRestricted))
	globalManager.sweepFailures.Add(float64(failed))
	globalManager.sweepDuration.Observe(durationMs)
	globalManager.sweepLastRunUnix.Set(float64(finished.Unix()))
}

// Notifications.

// RecordNotificationSent counts a dispatched notification.
func RecordNotificationSent(kind string) {
	if globalManager.enabled {
		globalManager.notificationsSent.WithLabelValues(kind).Inc()
	}
}

// RecordNotificationFailure counts a failed notification.
func RecordNotificationFailure(kind string) {
	if globalManager.enabled {
		globalManager.notificationFailures.WithLabelValues(kind).Inc()
	}
}

// Store.

// RecordStoreLatency records one store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
	}
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if globalManager.enabled {
		globalManager.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if globalManager.enabled {
		globalManager.queueDequeued.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.queueProcessingLatency.Observe(latencyMs)
	}
}

// Workers.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	if globalManager.enabled {
		globalManager.workerActiveCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if globalManager.enabled {
		globalManager.workerErrors.Inc()
	}
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager.enabled {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if globalManager.enabled {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if globalManager.enabled {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Global returns the process-wide manager.
func Global() *Manager {
	return globalManager
}
