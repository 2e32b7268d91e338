// Package client is the outbound HTTP layer used by api resources and the
// remote fetcher.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

var _ types.ClientManager = (*Manager)(nil)

type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	config   *types.ClientConfig
	logger   types.Logger
	metrics  types.MetricsManager
	client   *fasthttp.Client
	breakers sync.Map
	backoff  func(retry int) time.Duration
	state    atomic.Value
}

type Option func(*Manager)

// WithDialer replaces the network dialer, e.g. with an in-memory listener.
func WithDialer(dial fasthttp.DialFunc) Option {
	return func(m *Manager) {
		m.client.Dial = dial
	}
}

func WithBackoff(backoff func(retry int) time.Duration) Option {
	return func(m *Manager) {
		if backoff != nil {
			m.backoff = backoff
		}
	}
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, opts ...Option) (*Manager, error) {
	clientConfig := config.GetConfig().Client
	if clientConfig == nil {
		clientConfig = &types.ClientConfig{DefaultTimeout: 30 * time.Second}
	}

	return New(ctx, clientConfig, logger, metrics, opts...), nil
}

func New(ctx context.Context, config *types.ClientConfig, logger types.Logger, metrics types.MetricsManager, opts ...Option) *Manager {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		config:  config,
		logger:  logger,
		metrics: metrics,
		client: &fasthttp.Client{
			Name:                "sai-fx",
			MaxConnsPerHost:     config.MaxIdleConnections,
			MaxIdleConnDuration: config.IdleConnTimeout,
		},
		backoff: func(retry int) time.Duration {
			return time.Duration(retry) * 100 * time.Millisecond
		},
	}
	m.state.Store(types.StateStopped)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	m.logger.Info("Client manager started",
		zap.Duration("timeout", m.config.DefaultTimeout),
		zap.Int("retries", m.config.DefaultRetries))
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.state.Store(types.StateStopped)

	m.cancel()
	m.client.CloseIdleConnections()

	m.logger.Info("Client manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(types.State) == types.StateRunning
}

// BreakerState reports the circuit state for host.
func (m *Manager) BreakerState(host string) BreakerState {
	return m.breaker(host).State()
}

func (m *Manager) breaker(host string) *CircuitBreaker {
	if cb, ok := m.breakers.Load(host); ok {
		return cb.(*CircuitBreaker)
	}
	cb, _ := m.breakers.LoadOrStore(host, NewCircuitBreaker(m.config.CircuitBreaker, m.logger, host))
	return cb.(*CircuitBreaker)
}

func (m *Manager) recordMetrics(host, method, status string, responseSize int, duration time.Duration) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("http_client_requests_total", map[string]string{
		"host":   host,
		"method": method,
		"status": status,
	}).Inc()

	m.metrics.Histogram("http_client_request_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		map[string]string{"host": host},
	).Observe(duration.Seconds())

	if responseSize > 0 {
		m.metrics.Histogram("http_client_response_size_bytes",
			[]float64{256, 1024, 16384, 262144, 1048576},
			map[string]string{"host": host},
		).Observe(float64(responseSize))
	}
}
