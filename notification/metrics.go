package notification

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/protocol"
)

type busMetrics struct {
	dispatchedTotal   *prometheus.CounterVec
	unrecognizedTotal prometheus.Counter
	listenerPanics    prometheus.Counter
	listeners         prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, name string) *busMetrics {
	if registry == nil {
		return nil
	}

	m := &busMetrics{
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notification",
			Name:      "dispatched_total",
			Help:      "Notifications dispatched by kind",
		}, []string{"kind"}),
		unrecognizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notification",
			Name:      "unrecognized_total",
			Help:      "Notifications with no known variant",
		}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notification",
			Name:      "listener_panics_total",
			Help:      "Recovered listener panics",
		}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "notification",
			Name:      "listeners",
			Help:      "Registered listeners",
		}),
	}

	registry.RegisterCounterVec(name, "dispatched_total", m.dispatchedTotal)
	registry.RegisterCounter(name, "unrecognized_total", m.unrecognizedTotal)
	registry.RegisterCounter(name, "listener_panics_total", m.listenerPanics)
	registry.RegisterGauge(name, "listeners", m.listeners)

	return m
}

func (m *busMetrics) dispatched(kind protocol.EventKind) {
	if m != nil {
		m.dispatchedTotal.WithLabelValues(kind.String()).Inc()
	}
}

func (m *busMetrics) unrecognizedEvent() {
	if m != nil {
		m.unrecognizedTotal.Inc()
	}
}

func (m *busMetrics) listenerPanic() {
	if m != nil {
		m.listenerPanics.Inc()
	}
}

func (m *busMetrics) setListeners(n int) {
	if m != nil {
		m.listeners.Set(float64(n))
	}
}
