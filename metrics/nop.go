package metrics

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/types"
)

type nopManager struct{}

type nopMetric struct{}

func NewNop() types.MetricsManager { return nopManager{} }

func (nopManager) Start() error    { return nil }
func (nopManager) Stop() error     { return nil }
func (nopManager) IsRunning() bool { return true }

func (nopManager) Counter(string, map[string]string) types.Counter { return nopMetric{} }
func (nopManager) Gauge(string, map[string]string) types.Gauge     { return nopMetric{} }
func (nopManager) Histogram(string, []float64, map[string]string) types.Histogram {
	return nopMetric{}
}

func (nopManager) Handler() types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusNotFound) }
}

func (nopManager) GetMetrics() ([]types.MetricValue, error) { return nil, nil }

func (nopMetric) Inc()                      {}
func (nopMetric) Dec()                      {}
func (nopMetric) Add(float64)               {}
func (nopMetric) Sub(float64)               {}
func (nopMetric) Set(float64)               {}
func (nopMetric) Get() float64              { return 0 }
func (nopMetric) Observe(float64)           {}
func (nopMetric) ObserveDuration(time.Time) {}
func (nopMetric) GetCount() uint64          { return 0 }
func (nopMetric) GetSum() float64           { return 0 }
