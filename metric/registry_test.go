package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))
	gauge.Set(3)
	histogram.Observe(0.5)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "a"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "a"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same prometheus name under a different key conflicts inside prometheus
	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "c"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))

	// Key is free again
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordComponentStatus("input", 1)
	core.RecordCycle("read")
	core.RecordCycleDuration(200 * time.Microsecond)
	core.RecordFramePublished("nats", "ok")
	core.RecordError("cycle", "transient")
	core.RecordBufferReset()

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"daqstream_component_status",
		"daqstream_cycle_total",
		"daqstream_cycle_duration_seconds",
		"daqstream_frames_published_total",
		"daqstream_errors_total",
		"daqstream_buffer_recoveries_total",
	} {
		assert.True(t, names[name], "missing %s", name)
	}
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordCycle("missed")

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "daqstream_cycle_total"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	server := NewServer(0, "/metrics", nil)
	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	assert.NoError(t, server.Stop(time.Second))
}

func TestServer_CustomHealthHandler(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	server.SetHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
