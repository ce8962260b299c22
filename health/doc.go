// Package health tracks the health of the client's components and exposes
// the aggregate over HTTP.
//
// Three states are reported: healthy, degraded and unhealthy. The gateway
// client updates a Monitor as its connection, subscription and acquisitions
// change state:
//
//	monitor := health.NewMonitor(registry.CoreMetrics())
//	monitor.UpdateHealthy("connection", "authenticated")
//	monitor.UpdateDegraded("subscription", "re-subscribing after reconnect")
//	monitor.UpdateError("acquisition", err)
//
// Error messages are sanitized before they are stored so gateway URLs,
// credentials and local paths never reach the /health endpoint.
//
// Monitor.Handler renders AggregateHealth as JSON and answers 503 when the
// aggregate is unhealthy.
package health
