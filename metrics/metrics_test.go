package metrics

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/types"
)

func TestMemoryMetricsCounterSharesSeries(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), nil)

	m.Counter("ops_total", map[string]string{"status": "ok"}).Inc()
	m.Counter("ops_total", map[string]string{"status": "ok"}).Add(2)
	m.Counter("ops_total", map[string]string{"status": "error"}).Inc()

	assert.Equal(t, 3.0, m.Counter("ops_total", map[string]string{"status": "ok"}).Get())
	assert.Equal(t, 1.0, m.Counter("ops_total", map[string]string{"status": "error"}).Get())
}

func TestMemoryMetricsGauge(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), nil)
	g := m.Gauge("lanes_pending", nil)

	g.Set(5)
	g.Inc()
	g.Sub(2.5)
	g.Dec()

	assert.InDelta(t, 2.5, g.Get(), 1e-9)
}

func TestMemoryMetricsHistogramBuckets(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), nil)
	h := m.Histogram("latency", []float64{1, 0.1}, nil)

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	assert.Equal(t, uint64(3), h.GetCount())
	assert.InDelta(t, 5.55, h.GetSum(), 1e-9)

	buckets := h.(*MemoryHistogram).Buckets()
	assert.Equal(t, uint64(1), buckets[0.1])
	assert.Equal(t, uint64(1), buckets[1])
	assert.Equal(t, uint64(1), buckets[math.Inf(1)])
}

func TestMemoryMetricsGetMetricsAppliesPrefix(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
		Prefix:  "fx",
		Labels:  map[string]string{"service": "demo"},
	})
	m.Counter("runs_total", map[string]string{"status": "ok"}).Inc()

	values, err := m.GetMetrics()
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "fx_runs_total", values[0].Name)
	assert.Equal(t, "COUNTER", values[0].Type)
	assert.Equal(t, map[string]string{"service": "demo", "status": "ok"}, values[0].Labels)
}

func TestMemoryMetricsHandlerWritesJSON(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), nil)
	m.Gauge("up", nil).Set(1)

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"name":"up"`)
}

func TestMemoryMetricsLifecycle(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), nil)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestPrometheusMetricsReadBack(t *testing.T) {
	p, err := NewPrometheusMetrics(t.Context(), logger.NewNop(), &types.MetricsConfig{Enabled: true, Type: "prometheus", Prefix: "fx"})
	require.NoError(t, err)

	p.Counter("operations_total", map[string]string{"status": "ok"}).Add(3)
	p.Gauge("lanes_pending", nil).Set(2)
	p.Histogram("operation_duration_seconds", nil, nil).Observe(0.2)

	assert.Equal(t, 3.0, p.Counter("operations_total", map[string]string{"status": "ok"}).Get())
	assert.Equal(t, 2.0, p.Gauge("lanes_pending", nil).Get())
	assert.Equal(t, uint64(1), p.Histogram("operation_duration_seconds", nil, nil).GetCount())

	values, err := p.GetMetrics()
	require.NoError(t, err)

	var found bool
	for _, v := range values {
		if v.Name == "fx_operations_total" {
			found = true
			assert.Equal(t, 3.0, v.Value)
			assert.Equal(t, "ok", v.Labels["status"])
		}
	}
	assert.True(t, found)
}

func TestPrometheusMetricsMismatchedLabelsAreIgnored(t *testing.T) {
	p, err := NewPrometheusMetrics(t.Context(), logger.NewNop(), &types.MetricsConfig{Enabled: true, Type: "prometheus"})
	require.NoError(t, err)

	p.Counter("runs_total", map[string]string{"status": "ok"}).Inc()

	assert.NotPanics(t, func() {
		p.Counter("runs_total", map[string]string{"other": "x"}).Inc()
	})
}

func TestPrometheusHandlerExposesText(t *testing.T) {
	p, err := NewPrometheusMetrics(t.Context(), logger.NewNop(), &types.MetricsConfig{Enabled: true, Type: "prometheus", Prefix: "fx"})
	require.NoError(t, err)
	p.Counter("hits_total", nil).Inc()

	var req fasthttp.Request
	req.SetRequestURI("/metrics")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)

	var handler types.FastHTTPHandler = p.Handler()
	handler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), "fx_hits_total 1"))
}

func TestNopManager(t *testing.T) {
	n := NewNop()
	n.Counter("x", nil).Inc()
	assert.Equal(t, 0.0, n.Counter("x", nil).Get())

	values, err := n.GetMetrics()
	require.NoError(t, err)
	assert.Empty(t, values)
}
