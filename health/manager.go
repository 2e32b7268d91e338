package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

var _ types.HealthManager = (*Manager)(nil)

// Manager runs registered checkers concurrently and serves the report at
// the configured path and build information at /version.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	router       types.HTTPRouter
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, router types.HTTPRouter) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		router:       router,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: 5 * time.Second,
	}

	manager.state.Store(types.StateStopped)

	return manager
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// LifecycleChecker reports a component healthy while it is running.
func LifecycleChecker(component types.LifecycleManager) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		if component.IsRunning() {
			return types.HealthCheck{Status: types.StatusHealthy}
		}
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "not running"}
	}
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) Start() error {
	if !hm.state.CompareAndSwap(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	if hm.router != nil {
		hm.registerRoutes()
	}

	hm.state.Store(types.StateRunning)
	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.state.Store(types.StateStopped)
	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.state.Load().(types.State) == types.StateRunning
}

func (hm *Manager) registerRoutes() {
	path := "/health"
	if cfg := hm.config.GetConfig().Health; cfg != nil && cfg.Path != "" {
		path = cfg.Path
	}

	config := &types.RouteConfig{
		DisabledMiddlewares: []string{"auth", "cache", "signature"},
	}

	hm.router.Add("GET", path, hm.handleHealth, config)
	hm.router.Add("GET", "/version", hm.handleVersion, config)
}

func (hm *Manager) handleVersion(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"version": hm.config.GetConfig().Version,
		"build":   ReadBuildInfo(),
	})
}

func (hm *Manager) handleHealth(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, "health manager is not running")
		return
	}

	report := hm.Check(hm.ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}
	utils.WriteJSON(ctx, status, report)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-hm.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health manager shutting down"}
	case <-ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health check timeout"}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	if result.Status != types.StatusHealthy {
		hm.logger.Warn("Health check failed",
			zap.String("name", name),
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message))
	}
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	var summary types.HealthSummary
	for _, result := range results {
		summary.Add(result.Status)
	}

	service := types.ServiceInfo{Name: config.Name, Version: config.Version}
	if config.Server != nil && config.Server.HTTP != nil {
		service.Host = config.Server.HTTP.Host
		service.Port = config.Server.HTTP.Port
	}

	return types.HealthReport{
		Status:    summary.Status(),
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service:   service,
		Checks:    results,
		Summary:   summary,
	}
}
