package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the client.
const Namespace = "ctcgw"

// Metrics contains the client-wide metrics. Component-specific metrics live
// with their component and are registered through MetricsRegistrar.
type Metrics struct {
	ComponentStatus   *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec

	AcquisitionsTotal   *prometheus.CounterVec
	AcquisitionDuration prometheus.Histogram
	ResultsPublished    *prometheus.CounterVec
}

// NewMetrics creates the client-wide metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "component",
			Name:      "status",
			Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"component"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by component and class",
		}, []string{"component", "class"}),

		AcquisitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "acquisition",
			Name:      "total",
			Help:      "Acquisitions by outcome",
		}, []string{"outcome"}),

		AcquisitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "acquisition",
			Name:      "duration_seconds",
			Help:      "Time from trigger to assembled result",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
		}),

		ResultsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sink",
			Name:      "published_total",
			Help:      "Acquisition results handed to sinks by sink and status",
		}, []string{"sink", "status"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentStatus,
		c.HealthCheckStatus,
		c.ErrorsTotal,
		c.AcquisitionsTotal,
		c.AcquisitionDuration,
		c.ResultsPublished,
	}
}

// RecordComponentStatus updates the component status gauge
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordAcquisition counts an acquisition outcome and, for completed ones,
// observes its duration.
func (c *Metrics) RecordAcquisition(outcome string, duration time.Duration) {
	c.AcquisitionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		c.AcquisitionDuration.Observe(duration.Seconds())
	}
}

// RecordPublished counts a result handed to a sink
func (c *Metrics) RecordPublished(sink, status string) {
	c.ResultsPublished.WithLabelValues(sink, status).Inc()
}
