package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Recorder receives every status change, typically metric.Metrics.
type Recorder interface {
	RecordHealthStatus(component string, healthy bool)
}

// Monitor tracks health of the client's components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	recorder Recorder
}

// NewMonitor creates a new health monitor. recorder may be nil.
func NewMonitor(recorder Recorder) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		recorder: recorder,
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordHealthStatus(name, status.Healthy)
	}
}

// UpdateHealthy marks a component healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateError marks a component unhealthy with a sanitized error message
func (m *Monitor) UpdateError(name string, err error) {
	m.Update(name, FromError(name, err))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// ListComponents returns the monitored component names in sorted order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// AggregateHealth returns an aggregated health status for the client
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

// Handler serves the aggregate status as JSON. Unhealthy aggregates answer
// 503 so load balancers and orchestrators can act on it.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
