package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// MemoryMetrics is an in-process registry used when no scraper is deployed
// and in tests. Values are exposed as JSON by Handler.
type MemoryMetrics struct {
	logger     types.Logger
	config     *types.MetricsConfig
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	mu         sync.RWMutex
	running    int32
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) *MemoryMetrics {
	if config == nil {
		config = &types.MetricsConfig{Enabled: true, Type: "memory"}
	}

	return &MemoryMetrics{
		logger:     logger,
		config:     config,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	counter, exists := m.counters[key]
	if !exists {
		counter = &MemoryCounter{name: name, labels: copyLabels(labels)}
		m.counters[key] = counter
	}
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	gauge, exists := m.gauges[key]
	if !exists {
		gauge = &MemoryGauge{name: name, labels: copyLabels(labels)}
		m.gauges[key] = gauge
	}
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	histogram, exists := m.histograms[key]
	if !exists {
		sorted := append([]float64(nil), buckets...)
		sort.Float64s(sorted)
		histogram = &MemoryHistogram{
			name:    name,
			labels:  copyLabels(labels),
			buckets: sorted,
			counts:  make([]uint64, len(sorted)+1),
		}
		m.histograms[key] = histogram
	}
	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]types.MetricValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	metrics := make([]types.MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))

	for _, c := range m.counters {
		metrics = append(metrics, m.value(c.name, "COUNTER", c.Get(), c.labels, now))
	}
	for _, g := range m.gauges {
		metrics = append(metrics, m.value(g.name, "GAUGE", g.Get(), g.labels, now))
	}
	for _, h := range m.histograms {
		metrics = append(metrics, m.value(h.name, "HISTOGRAM", h.GetSum(), h.labels, now))
	}

	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Name != metrics[j].Name {
			return metrics[i].Name < metrics[j].Name
		}
		return buildKey("", metrics[i].Labels) < buildKey("", metrics[j].Labels)
	})

	return metrics, nil
}

func (m *MemoryMetrics) value(name, kind string, v float64, labels map[string]string, now time.Time) types.MetricValue {
	if m.config.Prefix != "" {
		name = m.config.Prefix + "_" + name
	}

	merged := copyLabels(m.config.Labels)
	for k, val := range labels {
		merged[k] = val
	}

	return types.MetricValue{Name: name, Type: kind, Value: v, Labels: merged, Timestamp: now}
}

func (m *MemoryMetrics) Handler() types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metrics, err := m.GetMetrics()
		if err != nil {
			m.logger.Error("Failed to collect metrics", zap.Error(err))
			utils.CreateErrorResponse(ctx)
			return
		}
		utils.WriteJSON(ctx, fasthttp.StatusOK, metrics)
	}
}

func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := labelNames(labels)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range names {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// atomicFloat stores a float64 as its bit pattern.
type atomicFloat struct {
	bits uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := atomic.LoadUint64(&f.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&f.bits, old, next) {
			return
		}
	}
}

func (f *atomicFloat) store(v float64) { atomic.StoreUint64(&f.bits, math.Float64bits(v)) }
func (f *atomicFloat) load() float64   { return math.Float64frombits(atomic.LoadUint64(&f.bits)) }

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (c *MemoryCounter) Inc() { c.value.add(1) }

func (c *MemoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	c.value.add(value)
}

func (c *MemoryCounter) Get() float64 { return c.value.load() }

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (g *MemoryGauge) Set(value float64) { g.value.store(value) }
func (g *MemoryGauge) Inc()              { g.value.add(1) }
func (g *MemoryGauge) Dec()              { g.value.add(-1) }
func (g *MemoryGauge) Add(value float64) { g.value.add(value) }
func (g *MemoryGauge) Sub(value float64) { g.value.add(-value) }
func (g *MemoryGauge) Get() float64      { return g.value.load() }

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     atomicFloat
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	h.sum.add(value)

	idx := sort.SearchFloat64s(h.buckets, value)
	atomic.AddUint64(&h.counts[idx], 1)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 { return atomic.LoadUint64(&h.count) }
func (h *MemoryHistogram) GetSum() float64  { return h.sum.load() }

// Buckets returns per-bucket counts keyed by upper bound; +Inf collects the rest.
func (h *MemoryHistogram) Buckets() map[float64]uint64 {
	out := make(map[float64]uint64, len(h.counts))
	for i, bound := range h.buckets {
		out[bound] = atomic.LoadUint64(&h.counts[i])
	}
	out[math.Inf(1)] = atomic.LoadUint64(&h.counts[len(h.buckets)])
	return out
}
