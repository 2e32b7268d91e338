package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

// PrometheusMetrics keeps one vector per metric name. Label names are fixed
// by the first call for a given name.
type PrometheusMetrics struct {
	ctx        context.Context
	logger     types.Logger
	config     *types.MetricsConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, types.WrapError(err, "failed to register go collector")
	}

	p := &PrometheusMetrics{
		ctx:        ctx,
		logger:     logger,
		config:     config,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	logger.Debug("Prometheus metrics initialized", zap.String("prefix", config.Prefix))

	return p, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	counter, exists := p.counters[name]
	if !exists {
		counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.config.Prefix,
			Name:        name,
			Help:        fmt.Sprintf("Counter metric %s", name),
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.register(name, counter)
		p.counters[name] = counter
	}

	return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	gauge, exists := p.gauges[name]
	if !exists {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   p.config.Prefix,
			Name:        name,
			Help:        fmt.Sprintf("Gauge metric %s", name),
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.register(name, gauge)
		p.gauges[name] = gauge
	}

	return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	histogram, exists := p.histograms[name]
	if !exists {
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.config.Prefix,
			Name:        name,
			Help:        fmt.Sprintf("Histogram metric %s", name),
			Buckets:     buckets,
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.register(name, histogram)
		p.histograms[name] = histogram
	}

	return &PrometheusHistogram{logger: p.logger, histogram: histogram, labels: labels}
}

func (p *PrometheusMetrics) register(name string, collector prometheus.Collector) {
	if err := p.registry.Register(collector); err != nil {
		p.logger.Error("Failed to register prometheus collector", zap.String("name", name), zap.Error(err))
	}
}

// Handler serves the text exposition format.
func (p *PrometheusMetrics) Handler() types.FastHTTPHandler {
	return types.FastHTTPHandler(fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})))
}

func (p *PrometheusMetrics) GetMetrics() ([]types.MetricValue, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	now := time.Now()
	var metrics []types.MetricValue

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}

			metrics = append(metrics, types.MetricValue{
				Name:      mf.GetName(),
				Type:      mf.GetType().String(),
				Value:     sampleValue(m),
				Labels:    labels,
				Timestamp: now,
			})
		}
	}

	return metrics, nil
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return m.Histogram.GetSampleSum()
	case m.Summary != nil:
		return m.Summary.GetSampleSum()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) Inc() {
	if counter, err := c.counter.GetMetricWith(c.labels); err == nil {
		counter.Inc()
	}
}

func (c *PrometheusCounter) Add(value float64) {
	if counter, err := c.counter.GetMetricWith(c.labels); err == nil {
		counter.Add(value)
	}
}

func (c *PrometheusCounter) Get() float64 {
	counter, err := c.counter.GetMetricWith(c.labels)
	if err != nil {
		return 0
	}

	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) with(fn func(prometheus.Gauge)) {
	if gauge, err := g.gauge.GetMetricWith(g.labels); err == nil {
		fn(gauge)
	}
}

func (g *PrometheusGauge) Set(value float64) { g.with(func(m prometheus.Gauge) { m.Set(value) }) }
func (g *PrometheusGauge) Inc()              { g.with(func(m prometheus.Gauge) { m.Inc() }) }
func (g *PrometheusGauge) Dec()              { g.with(func(m prometheus.Gauge) { m.Dec() }) }
func (g *PrometheusGauge) Add(value float64) { g.with(func(m prometheus.Gauge) { m.Add(value) }) }
func (g *PrometheusGauge) Sub(value float64) { g.with(func(m prometheus.Gauge) { m.Sub(value) }) }

func (g *PrometheusGauge) Get() float64 {
	gauge, err := g.gauge.GetMetricWith(g.labels)
	if err != nil {
		return 0
	}

	metric := &dto.Metric{}
	if err := gauge.Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	logger    types.Logger
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	if observer, err := h.histogram.GetMetricWith(h.labels); err == nil {
		observer.Observe(value)
	}
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return h.read().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return h.read().GetSampleSum()
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	observer, err := h.histogram.GetMetricWith(h.labels)
	if err != nil {
		return nil
	}

	promMetric, ok := observer.(prometheus.Metric)
	if !ok {
		return nil
	}

	metric := &dto.Metric{}
	if err := promMetric.Write(metric); err != nil {
		h.logger.Error("Failed to read histogram", zap.Error(err))
		return nil
	}
	return metric.GetHistogram()
}
