package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus collectors for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Event bus
	eventsPublished  *prometheus.CounterVec
	eventsInvalid    prometheus.Counter
	eventsDuplicate  prometheus.Counter
	publishLatency   prometheus.Histogram
	fanoutSize       prometheus.Histogram
	bufferEvictions  prometheus.Counter
	gapsDetected     prometheus.Counter
	catchUpReplayed  prometheus.Counter
	directDeliveries prometheus.Counter

	// Delivery channels
	outboxEnqueued  prometheus.Counter
	outboxEvicted   prometheus.Counter
	outboxDropped   prometheus.Counter
	lossyDeliveries prometheus.Counter
	flushLatency    prometheus.Histogram
	flushBatchSize  prometheus.Histogram

	// Connections
	connectionsActive        prometheus.Gauge
	connectionsAuthenticated prometheus.Gauge
	subscriptionChanges      *prometheus.CounterVec
	controlMessages          *prometheus.CounterVec
	controlRateLimited       prometheus.Counter
	resumes                  prometheus.Counter
	staleConnections         prometheus.Counter

	// Ingest queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Ingest workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rosecast",
		subsystem:        "realtime",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	sizeBuckets := []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000, 5000}

	m.eventsPublished = m.counterVec(auto, "events_published_total", "Events sequenced and fanned out, by kind", "kind")
	m.eventsInvalid = m.counter(auto, "events_invalid_total", "Producer events rejected by validation")
	m.eventsDuplicate = m.counter(auto, "events_duplicate_total", "Producer events dropped as duplicates")
	m.publishLatency = m.histogram(auto, "publish_latency_milliseconds", "Time to sequence, buffer and fan out one event", m.histogramBuckets)
	m.fanoutSize = m.histogram(auto, "fanout_size", "Number of subscribers an event was enqueued for", sizeBuckets)
	m.bufferEvictions = m.counter(auto, "recent_buffer_evictions_total", "Events evicted from per-topic recent buffers")
	m.gapsDetected = m.counter(auto, "gaps_detected_total", "Catch-up requests older than retained history")
	m.catchUpReplayed = m.counter(auto, "catchup_events_replayed_total", "Buffered events replayed to reconnecting clients")
	m.directDeliveries = m.counter(auto, "direct_deliveries_total", "Events sent directly to a user's connections")

	m.outboxEnqueued = m.counter(auto, "outbox_enqueued_total", "Events accepted into delivery channels")
	m.outboxEvicted = m.counter(auto, "outbox_evicted_total", "Queued non-critical events evicted under backpressure")
	m.outboxDropped = m.counter(auto, "outbox_dropped_total", "Incoming events dropped by a full delivery channel")
	m.lossyDeliveries = m.counter(auto, "outbox_lossy_total", "Critical events lost because a delivery channel was saturated")
	m.flushLatency = m.histogram(auto, "outbox_flush_latency_milliseconds", "Time spent writing one flush batch", m.histogramBuckets)
	m.flushBatchSize = m.histogram(auto, "outbox_flush_batch_size", "Events written per flush", sizeBuckets)

	m.connectionsActive = m.gauge(auto, "connections_active", "Currently registered connections")
	m.connectionsAuthenticated = m.gauge(auto, "connections_authenticated", "Registered connections bound to a user")
	m.subscriptionChanges = m.counterVec(auto, "subscription_changes_total", "Subscription audit records by action", "action")
	m.controlMessages = m.counterVec(auto, "control_messages_total", "Inbound control messages by type", "type")
	m.controlRateLimited = m.counter(auto, "control_messages_rate_limited_total", "Control messages rejected by the per-connection limiter")
	m.resumes = m.counter(auto, "resumes_total", "Session resume requests handled")
	m.staleConnections = m.counter(auto, "stale_connections_total", "Connections reaped for inactivity")

	m.queueSize = m.gauge(auto, "ingest_queue_size", "Current number of producer events waiting for a worker")
	m.queueCapacity = m.gauge(auto, "ingest_queue_capacity", "Total ingest queue capacity")
	m.queueUtilization = m.gauge(auto, "ingest_queue_utilization_ratio", "Ingest queue utilization (0-1)")
	m.queueEnqueued = m.counter(auto, "ingest_queue_enqueued_total", "Producer events enqueued for publishing")
	m.queueDequeued = m.counter(auto, "ingest_queue_dequeued_total", "Producer events taken by workers")
	m.queueEnqueueErrors = m.counter(auto, "ingest_queue_enqueue_errors_total", "Producer events refused by a full ingest queue")
	m.queueProcessingLatency = m.histogram(auto, "ingest_queue_latency_milliseconds", "Time an event waited in the ingest queue", m.histogramBuckets)

	m.workerCount = m.gauge(auto, "ingest_workers", "Running ingest workers")
	m.workerProcessingLatency = m.histogram(auto, "ingest_worker_latency_milliseconds", "Time a worker spent publishing one event", m.histogramBuckets)
	m.workerErrors = m.counter(auto, "ingest_worker_errors_total", "Events a worker failed to publish")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.errorsByEndpoint = m.counterVec(auto, "errors_by_endpoint_total", "HTTP errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorsByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Event bus.

// RecordEventPublished counts one sequenced event of the given kind.
func RecordEventPublished(kind string) { globalManager.eventsPublished.WithLabelValues(kind).Inc() }

// RecordEventInvalid counts a producer event rejected by validation.
func RecordEventInvalid() { globalManager.eventsInvalid.Inc() }

// RecordEventDuplicate counts a duplicate producer submission.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordPublishLatency records publish latency in milliseconds.
func RecordPublishLatency(latencyMs float64) { globalManager.publishLatency.Observe(latencyMs) }

// RecordFanoutSize records how many subscribers an event reached.
func RecordFanoutSize(n int) { globalManager.fanoutSize.Observe(float64(n)) }

// RecordBufferEviction counts one recent-buffer eviction.
func RecordBufferEviction() { globalManager.bufferEvictions.Inc() }

// RecordGapDetected counts a catch-up that could not be satisfied.
func RecordGapDetected() { globalManager.gapsDetected.Inc() }

// RecordCatchUpReplayed counts replayed events.
func RecordCatchUpReplayed(n int) { globalManager.catchUpReplayed.Add(float64(n)) }

// RecordDirectDelivery counts an event sent straight to a user's connections.
func RecordDirectDelivery() { globalManager.directDeliveries.Inc() }

// Delivery channels.

// RecordOutboxEnqueued counts an event accepted by a delivery channel.
func RecordOutboxEnqueued() { globalManager.outboxEnqueued.Inc() }

// RecordOutboxEvicted counts a queued event evicted under backpressure.
func RecordOutboxEvicted() { globalManager.outboxEvicted.Inc() }

// RecordOutboxDropped counts an incoming event dropped by a full channel.
func RecordOutboxDropped() { globalManager.outboxDropped.Inc() }

// RecordLossyDelivery counts a critical event lost to saturation.
func RecordLossyDelivery() { globalManager.lossyDeliveries.Inc() }

// RecordFlush records one flush batch.
func RecordFlush(batch int, latencyMs float64) {
	globalManager.flushBatchSize.Observe(float64(batch))
	globalManager.flushLatency.Observe(latencyMs)
}

// Connections.

// UpdateConnections sets the active and authenticated connection gauges.
func UpdateConnections(active, authenticated int) {
	globalManager.connectionsActive.Set(float64(active))
	globalManager.connectionsAuthenticated.Set(float64(authenticated))
}

// RecordSubscriptionChange records a registry audit action.
func RecordSubscriptionChange(action string) {
	globalManager.subscriptionChanges.WithLabelValues(action).Inc()
}

// RecordControlMessage counts an inbound control message by type.
func RecordControlMessage(kind string) { globalManager.controlMessages.WithLabelValues(kind).Inc() }

// RecordControlRateLimited counts a control message rejected by the limiter.
func RecordControlRateLimited() { globalManager.controlRateLimited.Inc() }

// RecordResume counts a handled resume request.
func RecordResume() { globalManager.resumes.Inc() }

// RecordStaleConnections counts reaped idle connections.
func RecordStaleConnections(n int) { globalManager.staleConnections.Add(float64(n)) }

// Ingest queue.

// UpdateQueueSize sets the current ingest queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the ingest queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the ingest queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue counts an enqueued producer event.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeued producer event.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a refused producer event.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records time spent waiting in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Ingest workers.

// UpdateWorkerCount sets the number of running ingest workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records time spent publishing one event.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts an event a worker failed to publish.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
