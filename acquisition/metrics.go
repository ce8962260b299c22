package acquisition

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ctcgateway/metric"
)

type orchestratorMetrics struct {
	anomalies   *prometheus.CounterVec
	missingTemp prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string) *orchestratorMetrics {
	if registry == nil {
		return nil
	}

	m := &orchestratorMetrics{
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "acquisition",
			Name:      "protocol_anomalies_total",
			Help:      "Notifications discarded because they arrived out of order or twice",
		}, []string{"kind"}),
		missingTemp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "acquisition",
			Name:      "temperature_missing_total",
			Help:      "Acquisitions completed without a temperature reading",
		}),
	}

	registry.RegisterCounterVec(name, "protocol_anomalies_total", m.anomalies)
	registry.RegisterCounter(name, "temperature_missing_total", m.missingTemp)

	return m
}

func (m *orchestratorMetrics) anomaly(kind string) {
	if m != nil {
		m.anomalies.WithLabelValues(kind).Inc()
	}
}

func (m *orchestratorMetrics) temperatureMissing() {
	if m != nil {
		m.missingTemp.Inc()
	}
}
