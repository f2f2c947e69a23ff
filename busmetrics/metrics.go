// Package busmetrics provides optional Prometheus instrumentation for a Bus.
// It is nil-safe: a nil *Metrics behaves as a no-op collector so callers that
// did not opt into metrics never pay for them.
package busmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks dispatch and tx-worker statistics for a bus.
type Metrics struct {
	mu sync.RWMutex

	bufferFullTotal   *prometheus.CounterVec
	handlerFailedTot  *prometheus.CounterVec
	handlerTimeoutTot *prometheus.CounterVec
	handlerRetryTotal *prometheus.CounterVec
	dispatchQueue     *prometheus.GaugeVec
	txOpenGauge       prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evbus",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "evbus",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a Metrics collector. A nil registerer falls back to
// prometheus.DefaultRegisterer. The collectors are not registered until
// Register is called.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:        registerer,
		bufferFullTotal:   newCounterVec("buffer_full_total", "Total number of publish submissions rejected with buffer-full", []string{"event_type"}),
		handlerFailedTot:  newCounterVec("handler_failed_total", "Total number of handler invocations that failed", []string{"event_type"}),
		handlerTimeoutTot: newCounterVec("handler_timeout_total", "Total number of handler invocations that exceeded their deadline", []string{"event_type"}),
		handlerRetryTotal: newCounterVec("handler_retry_total", "Total number of handler rows re-queued for retry", []string{"event_type"}),
		dispatchQueue:     newGaugeVec("queue_depth", "Current depth of the buffered dispatch queue", []string{"mode"}),
		txOpenGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evbus",
			Subsystem: "tx",
			Name:      "open_total",
			Help:      "Current number of in-flight transactions awaiting completion",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times and safe to
// call on a nil *Metrics.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.bufferFullTotal, m.handlerFailedTot, m.handlerTimeoutTot,
		m.handlerRetryTotal, m.dispatchQueue, m.txOpenGauge,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordBufferFull records a buffer-full rejection for eventType.
func (m *Metrics) RecordBufferFull(eventType string) {
	if m == nil {
		return
	}
	m.bufferFullTotal.WithLabelValues(eventType).Inc()
}

// RecordHandlerFailed records a handler row that ended in the terminal failed
// status, whether it was non-retryable or ran out of retries.
func (m *Metrics) RecordHandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailedTot.WithLabelValues(eventType).Inc()
}

// RecordHandlerTimeout records a handler invocation that missed its deadline.
func (m *Metrics) RecordHandlerTimeout(eventType string) {
	if m == nil {
		return
	}
	m.handlerTimeoutTot.WithLabelValues(eventType).Inc()
}

// RecordHandlerRetry records a handler row re-queued for another attempt.
func (m *Metrics) RecordHandlerRetry(eventType string) {
	if m == nil {
		return
	}
	m.handlerRetryTotal.WithLabelValues(eventType).Inc()
}

// SetQueueDepth records the current buffered dispatch queue depth.
func (m *Metrics) SetQueueDepth(mode string, depth int) {
	if m == nil {
		return
	}
	m.dispatchQueue.WithLabelValues(mode).Set(float64(depth))
}

// SetOpenTx records the current number of in-flight transactions.
func (m *Metrics) SetOpenTx(count int) {
	if m == nil {
		return
	}
	m.txOpenGauge.Set(float64(count))
}
