package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for events and batches.
const (
	ReasonQueueFull        = "queue_full"
	ReasonQueueEvicted     = "queue_evicted"
	ReasonFatal            = "fatal"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonEncode           = "encode"
	ReasonShutdown         = "shutdown"
)

// Metrics holds the agent's self-observability metrics. Every tracer owns
// its own registry so several tracers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Queue metrics
	EventsEnqueued *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	QueueLength    prometheus.Gauge

	// Dispatch metrics
	BatchesSent    prometheus.Counter
	EventsSent     prometheus.Counter
	BatchesDropped *prometheus.CounterVec
	SendRetries    prometheus.Counter
	SendDuration   prometheus.Histogram

	// Tracer metrics
	SpansDropped prometheus.Counter

	// Sampler metrics
	ProvidersDisabled *prometheus.CounterVec

	// Snapshot for Stats - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values.
type Snapshot struct {
	EventsEnqueued    uint64
	EventsDropped     uint64
	EventsSent        uint64
	BatchesSent       uint64
	BatchesDropped    uint64
	SendRetries       uint64
	SpansDropped      uint64
	ProvidersDisabled uint64
	QueueLength       int
}

// NewMetrics creates a metrics collector on a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a metrics collector registered on reg.
// Registering twice on the same registry panics.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Queue metrics
		EventsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apm_agent_events_enqueued_total",
				Help: "Total number of events accepted by the queue",
			},
			[]string{"kind"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apm_agent_events_dropped_total",
				Help: "Total number of events dropped before sending",
			},
			[]string{"kind", "reason"},
		),
		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apm_agent_queue_length",
				Help: "Number of events waiting in the queue",
			},
		),

		// Dispatch metrics
		BatchesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apm_agent_batches_sent_total",
				Help: "Total number of batches accepted by the collector",
			},
		),
		EventsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apm_agent_events_sent_total",
				Help: "Total number of events accepted by the collector",
			},
		),
		BatchesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apm_agent_batches_dropped_total",
				Help: "Total number of batches abandoned",
			},
			[]string{"reason"},
		),
		SendRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apm_agent_send_retries_total",
				Help: "Total number of batch send retries",
			},
		),
		SendDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apm_agent_send_duration_seconds",
				Help:    "Duration of a single batch send attempt in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		// Tracer metrics
		SpansDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apm_agent_spans_dropped_total",
				Help: "Total number of spans rejected by the per-transaction limit",
			},
		),

		// Sampler metrics
		ProvidersDisabled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apm_agent_metrics_providers_disabled_total",
				Help: "Total number of metric providers disabled after repeated failures",
			},
			[]string{"provider"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordEnqueued records an event accepted by the queue
func (m *Metrics) RecordEnqueued(kind string) {
	if m == nil {
		return
	}
	m.EventsEnqueued.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.EventsEnqueued++
	m.mu.Unlock()
}

// RecordEventDropped records an event dropped before it reached a batch
func (m *Metrics) RecordEventDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(kind, reason).Inc()
	m.mu.Lock()
	m.snapshot.EventsDropped++
	m.mu.Unlock()
}

// SetQueueLength sets the current queue length
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
	m.mu.Lock()
	m.snapshot.QueueLength = n
	m.mu.Unlock()
}

// RecordBatchSent records a batch accepted by the collector
func (m *Metrics) RecordBatchSent(events int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchesSent.Inc()
	m.EventsSent.Add(float64(events))
	m.SendDuration.Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.BatchesSent++
	m.snapshot.EventsSent += uint64(events)
	m.mu.Unlock()
}

// RecordBatchDropped records an abandoned batch
func (m *Metrics) RecordBatchDropped(reason string) {
	if m == nil {
		return
	}
	m.BatchesDropped.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.BatchesDropped++
	m.mu.Unlock()
}

// RecordSendAttempt observes the duration of a failed send attempt
func (m *Metrics) RecordSendAttempt(duration time.Duration) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(duration.Seconds())
}

// RecordRetry records a batch send retry
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.SendRetries.Inc()
	m.mu.Lock()
	m.snapshot.SendRetries++
	m.mu.Unlock()
}

// RecordSpanDropped records a span rejected by the span limit
func (m *Metrics) RecordSpanDropped() {
	if m == nil {
		return
	}
	m.SpansDropped.Inc()
	m.mu.Lock()
	m.snapshot.SpansDropped++
	m.mu.Unlock()
}

// RecordProviderDisabled records a metric provider being disabled
func (m *Metrics) RecordProviderDisabled(provider string) {
	if m == nil {
		return
	}
	m.ProvidersDisabled.WithLabelValues(provider).Inc()
	m.mu.Lock()
	m.snapshot.ProvidersDisabled++
	m.mu.Unlock()
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
