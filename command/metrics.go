package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ctcgateway/metric"
)

// Response outcomes used as metric labels.
const (
	outcomeOK        = "ok"
	outcomeRejected  = "rejected"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
	outcomeShutdown  = "shutdown"
	outcomeSendError = "send_error"
)

type routerMetrics struct {
	commandsSent  *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	unmatched     prometheus.Counter
	pending       prometheus.Gauge
	roundTripTime *prometheus.HistogramVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) *routerMetrics {
	if registry == nil {
		return nil
	}

	m := &routerMetrics{
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Commands written to the gateway",
		}, []string{"command"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "outcomes_total",
			Help:      "Command results by outcome",
		}, []string{"command", "outcome"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "unmatched_responses_total",
			Help:      "Responses discarded because no pending request matched",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "pending",
			Help:      "Requests awaiting a response",
		}),
		roundTripTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "round_trip_seconds",
			Help:      "Time from send to correlated response",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
	}

	registry.RegisterCounterVec(name, "sent_total", m.commandsSent)
	registry.RegisterCounterVec(name, "outcomes_total", m.outcomes)
	registry.RegisterCounter(name, "unmatched_responses_total", m.unmatched)
	registry.RegisterGauge(name, "pending", m.pending)
	registry.RegisterHistogramVec(name, "round_trip_seconds", m.roundTripTime)

	return m
}

func (m *routerMetrics) sent(cmd string) {
	if m != nil {
		m.commandsSent.WithLabelValues(cmd).Inc()
	}
}

func (m *routerMetrics) outcome(cmd, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(cmd, outcome).Inc()
	if outcome == outcomeOK || outcome == outcomeRejected {
		m.roundTripTime.WithLabelValues(cmd).Observe(elapsed.Seconds())
	}
}

func (m *routerMetrics) unmatchedResponse() {
	if m != nil {
		m.unmatched.Inc()
	}
}

func (m *routerMetrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}
