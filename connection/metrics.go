package connection

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ctcgateway/metric"
)

type managerMetrics struct {
	state             prometheus.Gauge
	connectsTotal     prometheus.Counter
	reconnectAttempts prometheus.Counter
	heartbeatFailures prometheus.Counter
	framesIn          prometheus.Counter
	framesOut         prometheus.Counter
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) *managerMetrics {
	if registry == nil {
		return nil
	}

	opts := func(metricName, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: metric.Namespace, Subsystem: "connection", Name: metricName, Help: help}
	}

	m := &managerMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=authenticated, 4=reconnecting, 5=closing, 6=closed)",
		}),
		connectsTotal:     prometheus.NewCounter(opts("connects_total", "Sockets established")),
		reconnectAttempts: prometheus.NewCounter(opts("reconnect_attempts_total", "Reconnect attempts scheduled")),
		heartbeatFailures: prometheus.NewCounter(opts("heartbeat_failures_total", "Pongs not received in time")),
		framesIn:          prometheus.NewCounter(opts("frames_received_total", "Frames read from the gateway")),
		framesOut:         prometheus.NewCounter(opts("frames_sent_total", "Frames written to the gateway")),
		bytesIn:           prometheus.NewCounter(opts("bytes_received_total", "Bytes read from the gateway")),
		bytesOut:          prometheus.NewCounter(opts("bytes_sent_total", "Bytes written to the gateway")),
		errorsTotal: prometheus.NewCounterVec(opts("errors_total", "Transport errors by operation"),
			[]string{"op"}),
	}

	registry.RegisterGauge(name, "state", m.state)
	registry.RegisterCounter(name, "connects_total", m.connectsTotal)
	registry.RegisterCounter(name, "reconnect_attempts", m.reconnectAttempts)
	registry.RegisterCounter(name, "heartbeat_failures", m.heartbeatFailures)
	registry.RegisterCounter(name, "frames_received", m.framesIn)
	registry.RegisterCounter(name, "frames_sent", m.framesOut)
	registry.RegisterCounter(name, "bytes_received", m.bytesIn)
	registry.RegisterCounter(name, "bytes_sent", m.bytesOut)
	registry.RegisterCounterVec(name, "errors_total", m.errorsTotal)

	return m
}

func (m *managerMetrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *managerMetrics) connected() {
	if m != nil {
		m.connectsTotal.Inc()
	}
}

func (m *managerMetrics) reconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *managerMetrics) heartbeatFailure() {
	if m != nil {
		m.heartbeatFailures.Inc()
	}
}

func (m *managerMetrics) received(n int) {
	if m != nil {
		m.framesIn.Inc()
		m.bytesIn.Add(float64(n))
	}
}

func (m *managerMetrics) sent(n int) {
	if m != nil {
		m.framesOut.Inc()
		m.bytesOut.Add(float64(n))
	}
}

func (m *managerMetrics) transportError(op string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(op).Inc()
	}
}
