package middleware

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

const MaxMiddlewares = 64

var _ types.MiddlewareManager = (*Manager)(nil)

type chainFunc func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig)

// Manager orders middlewares by weight. Global middlewares run on every
// request passed to Execute; the others only where a route names them.
// Chains are compiled once per distinct set of active middlewares.
type Manager struct {
	ctx     context.Context
	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager
	cache   types.CacheManager

	mu          sync.RWMutex
	ordered     []types.MiddlewareEntry
	nameToIndex map[string]int
	globalMask  uint64

	chainsMu sync.RWMutex
	chains   map[uint64]chainFunc
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metricsManager types.MetricsManager, cache types.CacheManager) *Manager {
	if metricsManager == nil {
		metricsManager = metrics.NewNop()
	}

	return &Manager{
		ctx:         ctx,
		config:      config,
		logger:      logger,
		metrics:     metricsManager,
		cache:       cache,
		nameToIndex: make(map[string]int),
		chains:      make(map[uint64]chainFunc),
	}
}

// RegisterMiddlewares registers every middleware enabled in configuration.
func (m *Manager) RegisterMiddlewares() error {
	if m.config == nil {
		return nil
	}

	cfg := m.config.GetConfig().Middlewares
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	candidates := []struct {
		item  *types.MiddlewareItemConfig
		build func(*types.MiddlewareItemConfig) types.Middleware
	}{
		{cfg.Recovery, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewRecoveryMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.Logging, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewLoggingMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.CORS, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewCORSMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.RateLimit, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewRateLimitMiddleware(m.ctx, i, m.logger, m.metrics)
		}},
		{cfg.BodyLimit, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewBodyLimitMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.Auth, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewAuthMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.Signature, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewSignatureMiddleware(i, m.logger, m.metrics)
		}},
		{cfg.Cache, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewCacheMiddleware(i, m.logger, m.metrics, m.cache)
		}},
		{cfg.Compression, func(i *types.MiddlewareItemConfig) types.Middleware {
			return NewCompressionMiddleware(i, m.logger, m.metrics)
		}},
	}

	for _, c := range candidates {
		if c.item == nil || !c.item.Enabled {
			continue
		}

		mw := c.build(c.item)
		if err := m.Register(mw, c.item.Global); err != nil {
			return err
		}
		m.logger.Info("Middleware registered",
			zap.String("name", mw.Name()),
			zap.Int("weight", mw.Weight()),
			zap.Bool("global", c.item.Global))
	}

	return nil
}

func (m *Manager) Register(middleware types.Middleware, global bool) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := middleware.Name()
	if _, exists := m.nameToIndex[name]; exists {
		return types.Errorf(types.ErrMiddlewareInvalidType, "middleware %q already registered", name)
	}
	if len(m.ordered) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	m.ordered = append(m.ordered, types.MiddlewareEntry{
		Name:       name,
		Middleware: middleware,
		Weight:     middleware.Weight(),
		Global:     global,
	})

	sort.SliceStable(m.ordered, func(i, j int) bool {
		if m.ordered[i].Weight != m.ordered[j].Weight {
			return m.ordered[i].Weight < m.ordered[j].Weight
		}
		return m.ordered[i].Name < m.ordered[j].Name
	})

	m.nameToIndex = make(map[string]int, len(m.ordered))
	m.globalMask = 0
	for i, entry := range m.ordered {
		m.nameToIndex[entry.Name] = i
		if entry.Global {
			m.globalMask |= 1 << uint(i)
		}
	}

	m.chainsMu.Lock()
	m.chains = make(map[uint64]chainFunc)
	m.chainsMu.Unlock()

	return nil
}

func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nameToIndex[name]
	return ok
}

// Execute runs handler behind the global middlewares plus those config
// enables, minus those it disables.
func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	m.mu.RLock()
	mask := m.globalMask
	if config != nil {
		for _, name := range config.Middlewares {
			if idx, ok := m.nameToIndex[name]; ok {
				mask |= 1 << uint(idx)
			}
		}
		for _, name := range config.DisabledMiddlewares {
			if idx, ok := m.nameToIndex[name]; ok {
				mask &^= 1 << uint(idx)
			}
		}
	}
	m.mu.RUnlock()

	if mask == 0 {
		handler(ctx)
		return
	}

	m.chain(mask)(ctx, handler, config)
}

// Wrap binds handler behind exactly the named middlewares.
func (m *Manager) Wrap(handler func(*fasthttp.RequestCtx), names ...string) (func(*fasthttp.RequestCtx), error) {
	if handler == nil {
		return nil, types.ErrHandlerIsNil
	}

	m.mu.RLock()
	var mask uint64
	var missing []string
	for _, name := range names {
		idx, ok := m.nameToIndex[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		mask |= 1 << uint(idx)
	}
	m.mu.RUnlock()

	if len(missing) > 0 {
		return nil, types.Errorf(types.ErrMiddlewareNotFound, "%s", strings.Join(missing, ", "))
	}
	if mask == 0 {
		return handler, nil
	}

	chain := m.chain(mask)
	config := &types.RouteConfig{Middlewares: names}
	return func(ctx *fasthttp.RequestCtx) {
		chain(ctx, handler, config)
	}, nil
}

// Stop releases middlewares that run background work.
func (m *Manager) Stop() error {
	m.mu.RLock()
	entries := append([]types.MiddlewareEntry(nil), m.ordered...)
	m.mu.RUnlock()

	for _, entry := range entries {
		if stopper, ok := entry.Middleware.(interface{ Stop() error }); ok {
			if err := stopper.Stop(); err != nil {
				m.logger.Warn("Failed to stop middleware", zap.String("name", entry.Name), zap.Error(err))
			}
		}
	}
	return nil
}

func (m *Manager) chain(mask uint64) chainFunc {
	m.chainsMu.RLock()
	compiled, ok := m.chains[mask]
	m.chainsMu.RUnlock()
	if ok {
		return compiled
	}

	m.mu.RLock()
	active := make([]types.Middleware, 0, len(m.ordered))
	for i, entry := range m.ordered {
		if mask&(1<<uint(i)) != 0 {
			active = append(active, entry.Middleware)
		}
	}
	m.mu.RUnlock()

	compiled = compileChain(active)

	m.chainsMu.Lock()
	m.chains[mask] = compiled
	m.chainsMu.Unlock()

	m.logger.Debug("Middleware chain compiled", zap.String("mask", strconv.FormatUint(mask, 2)))
	return compiled
}

func compileChain(middlewares []types.Middleware) chainFunc {
	if len(middlewares) == 0 {
		return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
			handler(ctx)
		}
	}

	return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
		var index int

		var next func(*fasthttp.RequestCtx)
		next = func(ctx *fasthttp.RequestCtx) {
			if index >= len(middlewares) {
				handler(ctx)
				return
			}

			mw := middlewares[index]
			index++
			mw.Handle(ctx, next, config)
		}

		next(ctx)
	}
}
