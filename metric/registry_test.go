package metric

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterAndGather(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "test"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_vec_total", Help: "test"}, []string{"type"})

	require.NoError(t, registry.RegisterCounter("router", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("router", "test_gauge", gauge))
	require.NoError(t, registry.RegisterCounterVec("router", "test_vec", vec))

	counter.Inc()
	gauge.Set(3)
	vec.WithLabelValues("RTN_DYN").Inc()

	names := gatheredNames(t, registry)
	assert.True(t, names["test_counter"])
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_vec_total"])
	assert.True(t, names["go_goroutines"], "runtime collectors should be registered")
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "test"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "test"})

	require.NoError(t, registry.RegisterCounter("connection", "dup", first))

	err := registry.RegisterCounter("connection", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err, "prometheus should reject the same fully-qualified name")
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "test"})

	require.NoError(t, registry.RegisterHistogram("acquisition", "hist", h))
	assert.True(t, registry.Unregister("acquisition", "hist"))
	assert.False(t, registry.Unregister("acquisition", "hist"))

	require.NoError(t, registry.RegisterHistogram("acquisition", "hist", h), "re-register after unregister")
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := prometheus.NewGauge(prometheus.GaugeOpts{Name: fmt.Sprintf("concurrent_gauge_%d", i), Help: "test"})
			assert.NoError(t, registry.RegisterGauge("component", fmt.Sprintf("g%d", i), g))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 10; i++ {
		assert.True(t, names[fmt.Sprintf("concurrent_gauge_%d", i)])
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordComponentStatus("connection", 2)
	m.RecordHealthStatus("connection", true)
	m.RecordError("command", "transient")
	m.RecordAcquisition("success", 1500*time.Millisecond)
	m.RecordAcquisition("timeout", 0)
	m.RecordPublished("nats", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ComponentStatus.WithLabelValues("connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("command", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquisitionsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquisitionsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AcquisitionDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsPublished.WithLabelValues("nats", "ok")))
}
