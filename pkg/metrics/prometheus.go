// Package metrics provides Prometheus metrics for the roomsync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the roomsync service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Command Metrics
	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	commandNoops    *prometheus.CounterVec
	commandReplays  *prometheus.CounterVec
	lockWaitLatency prometheus.Histogram
	storeLatency    *prometheus.HistogramVec
	storeConflicts  prometheus.Counter

	// Room Metrics
	roomsCreated   prometheus.Counter
	dealsTotal     prometheus.Counter
	revealsTotal   *prometheus.CounterVec
	presenceOnline prometheus.Gauge
	hostClaims     *prometheus.CounterVec
	pruneRemovals  prometheus.Counter
	rollbacks      prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Worker Metrics
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Websocket Metrics
	wsSubscribers prometheus.Gauge
	wsMessages    prometheus.Counter
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
		namespace:        "roomsync",
		subsystem:        "server",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.commands = m.counterVec("commands_total", "Total number of commands by command and result code", "command", "code")
	m.commandLatency = m.histogramVec("command_latency_milliseconds", "Command latency in milliseconds, lock wait included", "command")
	m.commandNoops = m.counterVec("command_noops_total", "Commands that validated but changed nothing", "command")
	m.commandReplays = m.counterVec("command_replays_total", "Duplicate command deliveries answered without re-executing", "command")
	m.lockWaitLatency = m.histogram("lock_wait_milliseconds", "Time spent waiting for the per-room lock")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Room store operation latency in milliseconds", "driver", "op")
	m.storeConflicts = m.counter("store_conflicts_total", "Room writes rejected by the version check")

	m.roomsCreated = m.counter("rooms_created_total", "Total number of rooms created")
	m.dealsTotal = m.counter("deals_total", "Total number of deals committed")
	m.revealsTotal = m.counterVec("reveals_total", "Completed rounds by outcome", "outcome")
	m.presenceOnline = m.gauge("presence_online", "Participants currently reported online")
	m.hostClaims = m.counterVec("host_claims_total", "Host claim attempts by result code", "code")
	m.pruneRemovals = m.counter("prune_removals_total", "Participants soft-removed by offline pruning")
	m.rollbacks = m.counter("client_rollbacks_total", "Optimistic placements rolled back by a client")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.queueSize = m.gauge("queue_size", "Current size of the notification queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum notification queue capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of notifications enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of notifications dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Notifications dropped at enqueue by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Current number of notification workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Notification dispatch latency in milliseconds")
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of notification dispatch errors")

	m.wsSubscribers = m.gauge("ws_subscribers", "Open websocket snapshot subscriptions")
	m.wsMessages = m.counter("ws_messages_total", "Snapshots written to websocket subscribers")
}

// Command Metrics Functions.

// RecordCommand counts a finished command. code is "ok" on success.
func RecordCommand(command, code string, latencyMs float64) {
	globalManager.commands.WithLabelValues(command, code).Inc()
	globalManager.commandLatency.WithLabelValues(command).Observe(latencyMs)
}

// RecordCommandNoop counts a command that committed nothing.
func RecordCommandNoop(command string) {
	globalManager.commandNoops.WithLabelValues(command).Inc()
}

// RecordCommandReplay counts a duplicate delivery.
func RecordCommandReplay(command string) {
	globalManager.commandReplays.WithLabelValues(command).Inc()
}

// RecordLockWait records how long a command waited for its room lock.
func RecordLockWait(latencyMs float64) {
	globalManager.lockWaitLatency.Observe(latencyMs)
}

// RecordStoreLatency records a room store operation.
func RecordStoreLatency(driver, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordStoreConflict counts a write lost to a concurrent version bump.
func RecordStoreConflict() {
	globalManager.storeConflicts.Inc()
}

// Room Metrics Functions.

// RecordRoomCreated increments the rooms created counter.
func RecordRoomCreated() {
	globalManager.roomsCreated.Inc()
}

// RecordDeal increments the deals counter.
func RecordDeal() {
	globalManager.dealsTotal.Inc()
}

// RecordReveal counts a completed round.
func RecordReveal(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	globalManager.revealsTotal.WithLabelValues(outcome).Inc()
}

// UpdatePresenceOnline sets the online participants gauge.
func UpdatePresenceOnline(count int) {
	globalManager.presenceOnline.Set(float64(count))
}

// RecordHostClaim counts a host claim by result code.
func RecordHostClaim(code string) {
	globalManager.hostClaims.WithLabelValues(code).Inc()
}

// RecordPruneRemovals adds n pruned participants.
func RecordPruneRemovals(n int) {
	globalManager.pruneRemovals.Add(float64(n))
}

// RecordRollback increments the client rollback counter.
func RecordRollback() {
	globalManager.rollbacks.Inc()
}

// HTTP Metrics Functions.

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

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts a dropped notification.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Websocket Metrics Functions.

// AddWSSubscribers moves the subscriber gauge by delta.
func AddWSSubscribers(delta int) {
	globalManager.wsSubscribers.Add(float64(delta))
}

// RecordWSMessage increments the websocket message counter.
func RecordWSMessage() {
	globalManager.wsMessages.Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
