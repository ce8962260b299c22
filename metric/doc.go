// Package metric provides the Prometheus registry shared by ctcgateway
// components and the HTTP server that exposes it.
//
// # Registry
//
// NewMetricsRegistry creates a dedicated prometheus.Registry holding the
// client-wide Metrics (component status, health, errors, acquisitions, sink
// publishes) and the Go runtime collectors. Components register their own
// collectors under their name:
//
//	func newMetrics(registry *metric.MetricsRegistry, name string) *routerMetrics {
//	    if registry == nil {
//	        return nil
//	    }
//	    m := &routerMetrics{sent: prometheus.NewCounterVec(...)}
//	    registry.RegisterCounterVec(name, "commands_sent", m.sent)
//	    return m
//	}
//
// A nil registry disables metrics for that component; every recording
// method on component metrics must tolerate a nil receiver.
//
// Registering the same component/metric pair twice returns an invalid-class
// error, as does a name clash inside Prometheus.
//
// # Server
//
// Server serves the registry at /metrics (OpenMetrics enabled) and mounts a
// health handler at /health. Start blocks until Stop.
package metric
