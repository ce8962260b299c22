package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (r *recordingRecorder) RecordHealthStatus(component string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]bool)
	}
	r.calls[component] = healthy
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"gateway URL", "dial failed: wss://gw.plant.local:5000/ctc refused", "dial failed: [URL] refused"},
		{"unix path", "failed to open /etc/ctcgw/config.yaml", "failed to open [PATH]"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :9090", "failed to bind to [PORT]"},
		{"credential", "login failed with password=hunter2", "login failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	healthy := NewHealthy("connection", "authenticated")
	assert.True(t, healthy.Healthy)
	assert.True(t, healthy.IsHealthy())
	assert.False(t, healthy.Timestamp.IsZero())

	degraded := NewDegraded("subscription", "resubscribing")
	assert.False(t, degraded.Healthy)
	assert.True(t, degraded.IsDegraded())

	unhealthy := FromError("acquisition", fmt.Errorf("transport read ws://10.0.0.5:5000: EOF"))
	assert.True(t, unhealthy.IsUnhealthy())
	assert.NotContains(t, unhealthy.Message, "10.0.0.5")

	assert.True(t, FromError("acquisition", nil).IsHealthy())
}

func TestStatus_WithSubStatusDoesNotShare(t *testing.T) {
	base := NewHealthy("client", "ok")
	a := base.WithSubStatus(NewHealthy("a", "ok"))
	b := base.WithSubStatus(NewHealthy("b", "ok"))

	require.Len(t, a.SubStatuses, 1)
	require.Len(t, b.SubStatuses, 1)
	assert.Equal(t, "a", a.SubStatuses[0].Component)
	assert.Equal(t, "b", b.SubStatuses[0].Component)
	assert.Empty(t, base.SubStatuses)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Aggregate("client", tt.subs).Status)
		})
	}

	agg := Aggregate("client", []Status{NewHealthy("zeta", ""), NewHealthy("alpha", "")})
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)
}

func TestMonitor_UpdateAndRecord(t *testing.T) {
	rec := &recordingRecorder{}
	m := NewMonitor(rec)

	m.UpdateHealthy("connection", "connected")
	m.UpdateError("acquisition", fmt.Errorf("boom"))

	status, ok := m.Get("connection")
	require.True(t, ok)
	assert.True(t, status.Healthy)

	assert.Equal(t, []string{"acquisition", "connection"}, m.ListComponents())
	assert.True(t, rec.calls["connection"])
	assert.False(t, rec.calls["acquisition"])

	assert.True(t, m.AggregateHealth("ctcgw").IsUnhealthy())
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor(nil)
	m.UpdateHealthy("connection", "authenticated")

	rr := httptest.NewRecorder()
	m.Handler("ctcgw").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ctcgw", body.Component)
	assert.True(t, body.Healthy)

	m.UpdateUnhealthy("connection", "reconnecting")
	rr = httptest.NewRecorder()
	m.Handler("ctcgw").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("component-%d", i%5)
			m.UpdateHealthy(name, "ok")
			_ = m.AggregateHealth("ctcgw")
			_, _ = m.Get(name)
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.ListComponents(), 5)
}
