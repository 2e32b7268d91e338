// Package service assembles the configured components around an FX facade
// and runs them as one process.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-fx/cache"
	"github.com/saiset-co/sai-fx/client"
	"github.com/saiset-co/sai-fx/config"
	"github.com/saiset-co/sai-fx/cron"
	"github.com/saiset-co/sai-fx/env"
	"github.com/saiset-co/sai-fx/execution"
	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/fx"
	"github.com/saiset-co/sai-fx/health"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/manifest"
	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/middleware"
	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/retry"
	"github.com/saiset-co/sai-fx/server"
	"github.com/saiset-co/sai-fx/storage"
	"github.com/saiset-co/sai-fx/tracing"
	"github.com/saiset-co/sai-fx/types"
)

const pruneJobName = "cache_prune"

type Option func(*Service)

// WithFs serves resources, manifests and the dotenv file from fs.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

// WithListener serves HTTP on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(s *Service) { s.listener = ln }
}

// WithModules registers Go modules before manifests are loaded.
func WithModules(register func(*resource.ModuleRegistry)) Option {
	return func(s *Service) { s.registerModules = register }
}

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	state           atomic.Value
	wg              sync.WaitGroup
	shutdownTimeout time.Duration

	fs              afero.Fs
	listener        net.Listener
	registerModules func(*resource.ModuleRegistry)

	config      *config.ConfigurationManager
	logger      types.LoggerManager
	metrics     types.MetricsManager
	tracing     *tracing.Provider
	cache       types.CacheManager
	results     *cache.ResultCache
	store       types.Store
	client      *client.Manager
	fetcher     *fetch.Fetcher
	watcher     *fetch.Watcher
	middlewares *middleware.Manager
	router      *server.Router
	server      *server.FastHTTPServer
	health      *health.Manager
	cron        *cron.Manager
	registry    *resource.Registry
	resolver    *manifest.Resolver
	fx          *fx.FX
}

// NewService loads configuration from configPath and builds every component.
func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}
	return New(ctx, configManager, opts...)
}

func New(ctx context.Context, configManager *config.ConfigurationManager, opts ...Option) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager,
		fs:              afero.NewOsFs(),
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(types.StateStopped)

	if err := s.registerProviders(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	return s, nil
}

func (s *Service) FX() *fx.FX                    { return s.fx }
func (s *Service) Router() *server.Router        { return s.router }
func (s *Service) Logger() types.Logger          { return s.logger }
func (s *Service) Metrics() types.MetricsManager { return s.metrics }
func (s *Service) Context() context.Context      { return s.ctx }

func (s *Service) Resolver() *manifest.Resolver { return s.resolver }

// Cancel ends the service context; Run then stops the service.
func (s *Service) Cancel() {
	s.cancel()
}

// LoadManifests merges the configured manifests without starting anything,
// for one-shot tooling.
func (s *Service) LoadManifests() error {
	return s.loadManifests(s.config.GetConfig())
}

func (s *Service) registerProviders() error {
	ctx := s.ctx
	cfg := s.config.GetConfig()

	var err error
	if s.logger, err = logger.NewManager(ctx, s.config); err != nil {
		return types.WrapError(err, "failed to register logger")
	}

	if s.metrics, err = metrics.NewManager(ctx, s.config, s.logger); err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}

	if s.tracing, err = tracing.NewProvider(ctx, cfg.Tracing, s.logger); err != nil {
		return types.WrapError(err, "failed to register tracing")
	}

	s.cache, err = cache.NewCacheManager(ctx, s.config, s.logger, s.metrics)
	switch {
	case err == nil:
		s.results = cache.NewResultCache(s.cache, s.logger, s.metrics)
	case errors.Is(err, types.ErrCacheIsDisabled):
		s.logger.Info("Result cache disabled")
	default:
		return types.WrapError(err, "failed to register cache manager")
	}

	if s.store, err = storage.NewManager(ctx, s.config, s.logger, s.metrics); err != nil {
		return types.WrapError(err, "failed to register storage")
	}

	if s.client, err = client.NewManager(ctx, s.config, s.logger, s.metrics); err != nil {
		return types.WrapError(err, "failed to register client manager")
	}

	s.fetcher = fetch.NewFetcher(s.fs, cfg.Fetch, s.client, s.logger)
	if cfg.Fetch != nil && cfg.Fetch.Watch {
		if s.watcher, err = fetch.NewWatcher(s.fetcher, s.logger); err != nil {
			return types.WrapError(err, "failed to register file watcher")
		}
	}

	s.middlewares = middleware.NewManager(ctx, s.config, s.logger, s.metrics, s.cache)
	if err = s.middlewares.RegisterMiddlewares(); err != nil {
		return types.WrapError(err, "failed to register middlewares")
	}

	s.router = server.NewRouter(s.middlewares)
	if s.server, err = server.NewHTTPServer(ctx, s.config, s.logger, s.router); err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}
	if s.listener != nil {
		s.server.UseListener(s.listener)
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		s.health = health.NewManager(ctx, s.config, s.logger, s.router)
	}

	if (cfg.Cron != nil && cfg.Cron.Enabled) || s.pruneSchedule() != "" {
		s.cron = cron.NewManager(ctx, s.config, s.logger, s.metrics)
	}

	s.registry = resource.NewRegistry(&resource.Deps{
		Fetcher:     s.fetcher,
		Client:      s.client,
		Middlewares: s.middlewares,
		Logger:      s.logger,
	}, s.logger)
	if s.registerModules != nil {
		s.registerModules(s.registry.Deps().Modules)
	}

	fxConfig := cfg.FX
	if fxConfig == nil {
		fxConfig = &types.FXConfig{}
	}
	s.resolver = manifest.NewResolver(s.registry, s.logger, manifest.WithMaxDepth(fxConfig.ManifestMaxDepth))

	var results types.ResultCache
	if s.results != nil {
		results = s.results
	}
	exec := execution.New(results, s.logger, s.metrics,
		execution.WithTracer(s.tracing.Tracer()),
		execution.WithRetryRunner(retry.NewRunner(s.logger, retry.WithMetrics(s.metrics))),
		execution.WithAwaitBound(fxConfig.AwaitMaxAttempts, fxConfig.AwaitInterval),
	)

	source, err := env.NewSource(s.logger, cfg.Env, env.WithFs(s.fs))
	if err != nil {
		return types.WrapError(err, "failed to register env source")
	}

	s.fx = fx.New(fx.Options{
		Execution:    exec,
		Resolver:     s.resolver,
		Env:          source,
		Store:        s.store,
		Logger:       s.logger,
		Defaults:     defaultOperationConfig(fxConfig),
		DrainTimeout: fxConfig.DrainTimeout,
	})

	return nil
}

func defaultOperationConfig(cfg *types.FXConfig) types.OperationConfig {
	op := types.DefaultOperationConfig()
	if cfg.Sequence != "" {
		op.SequenceKey = types.SequenceKey(cfg.Sequence)
	}
	op.RetryCount = cfg.Retry
	op.CacheTTL = cfg.CacheTTL
	if cfg.DisableCache {
		op.CacheTTL = types.CacheDisabled
	}
	return op
}

func (s *Service) pruneSchedule() string {
	if cfg := s.config.GetConfig().Cache; cfg != nil && cfg.Enabled {
		return cfg.PruneSchedule
	}
	return ""
}

// Start brings every component up, loads the configured manifests and
// mounts their route tables. It returns once the HTTP server listens.
func (s *Service) Start() error {
	if !s.state.CompareAndSwap(types.StateStopped, types.StateStarting) {
		return types.ErrServiceIsRunning
	}

	if err := s.startComponents(); err != nil {
		s.state.Store(types.StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.state.Store(types.StateRunning)
	s.logger.Info("Service started", zap.String("name", s.config.GetConfig().Name))
	return nil
}

// Run starts the service and blocks until a shutdown signal or the parent
// context ends, then stops it.
func (s *Service) Run() (runErr error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			runErr = fmt.Errorf("service panic: %v", r)
			s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
		}
	}()

	if err := s.Start(); err != nil {
		return err
	}
	s.setupSignalHandling()

	<-s.ctx.Done()

	err := s.Stop()
	s.wg.Wait()
	if errors.Is(err, types.ErrServiceIsNotRunning) {
		return nil
	}
	return err
}

func (s *Service) Stop() error {
	if !s.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServiceIsNotRunning
	}
	defer s.state.Store(types.StateStopped)

	s.logger.Info("Stopping service...")
	err := s.stopComponents()
	s.cancel()
	return err
}

func (s *Service) IsRunning() bool {
	return s.state.Load().(types.State) == types.StateRunning
}

func (s *Service) startComponents() error {
	cfg := s.config.GetConfig()

	if err := s.config.Start(); err != nil {
		return types.WrapError(err, "failed to start config manager")
	}
	if err := s.logger.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	g, _ := errgroup.WithContext(s.ctx)
	for _, c := range s.foundation() {
		c := c
		g.Go(func() error {
			if err := c.component.Start(); err != nil {
				return types.Errorf(types.ErrComponentStartFailed, "%s: %v", c.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.loadManifests(cfg); err != nil {
		return err
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		s.router.GET(cfg.Metrics.Path, s.metrics.Handler()).
			WithoutMiddlewares("auth", "cache", "signature")
	}

	if s.health != nil {
		s.health.RegisterChecker("storage", health.LifecycleChecker(s.store))
		s.health.RegisterChecker("client", health.LifecycleChecker(s.client))
		if s.cache != nil {
			s.health.RegisterChecker("cache", health.LifecycleChecker(s.cache))
		}
		if err := s.health.Start(); err != nil {
			return types.WrapError(err, "failed to start health manager")
		}
	}

	if s.watcher != nil {
		if err := s.watcher.Watch("."); err != nil {
			return err
		}
		s.watcher.OnChange(func(path string) {
			if s.results != nil {
				_ = s.results.Clear()
			}
			s.logger.Info("Source changed, result cache cleared", zap.String("path", path))
		})
		if err := s.watcher.Start(); err != nil {
			return types.WrapError(err, "failed to start file watcher")
		}
	}

	if s.cron != nil {
		if spec := s.pruneSchedule(); spec != "" && s.results != nil {
			if err := SchedulePrune(s.cron, s.results, spec, s.logger); err != nil {
				return err
			}
		}
		if err := s.cron.Start(); err != nil {
			return types.WrapError(err, "failed to start cron manager")
		}
	}

	if err := s.server.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	return nil
}

// loadManifests merges every configured manifest file. Route tables are
// mounted after all resources are declared so handlers may reference any
// of them.
func (s *Service) loadManifests(cfg *types.ServiceConfig) error {
	if cfg.FX == nil {
		return nil
	}

	var routes []map[string]interface{}
	for _, path := range cfg.FX.Manifests {
		doc, err := manifest.LoadFile(s.fs, path)
		if err != nil {
			return err
		}
		if err = s.resolver.Load(s.ctx, doc.Resources, ""); err != nil {
			return types.WrapError(err, "failed to load manifest "+path)
		}
		if len(doc.Routes) > 0 {
			routes = append(routes, doc.Routes)
		}
		s.logger.Info("Manifest loaded", zap.String("path", path))
	}

	for _, table := range routes {
		if err := server.Mount(s.ctx, s.router, s.registry, table, s.logger); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	if err := s.server.Stop(); err != nil && !errors.Is(err, types.ErrServerNotRunning) {
		errs = append(errs, err)
	}

	if err := s.fx.WaitForAll(ctx, 0); err != nil {
		s.logger.Warn("Operations still pending at shutdown", zap.Error(err))
	}

	if err := stopAll(ctx, s.logger, s.background()); err != nil {
		errs = append(errs, err)
	}

	if err := s.middlewares.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := stopAll(ctx, s.logger, s.foundation()); err != nil {
		errs = append(errs, err)
	}

	if err := s.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("All components stopped")
	_ = s.logger.Stop()
	_ = s.config.Stop()

	return errors.Join(errs...)
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
}

// SchedulePrune runs results.Prune on spec.
func SchedulePrune(scheduler types.CronManager, results types.ResultCache, spec string, log types.Logger) error {
	return scheduler.Add(pruneJobName, spec, func() {
		if removed := results.Prune(); removed > 0 {
			log.Debug("Result cache pruned", zap.Int("removed", removed))
		}
	})
}

type namedComponent struct {
	name      string
	component types.LifecycleManager
}

// foundation lists the components everything else depends on.
func (s *Service) foundation() []namedComponent {
	components := []namedComponent{
		{"metrics", s.metrics},
		{"storage", s.store},
		{"client", s.client},
	}
	if s.cache != nil {
		components = append(components, namedComponent{"cache", s.cache})
	}
	return components
}

func (s *Service) background() []namedComponent {
	var components []namedComponent
	if s.cron != nil {
		components = append(components, namedComponent{"cron", s.cron})
	}
	if s.watcher != nil {
		components = append(components, namedComponent{"watcher", s.watcher})
	}
	if s.health != nil {
		components = append(components, namedComponent{"health", s.health})
	}
	return components
}

func stopAll(ctx context.Context, log types.Logger, components []namedComponent) error {
	g, _ := errgroup.WithContext(ctx)
	for _, c := range components {
		c := c
		g.Go(func() error {
			if err := c.component.Stop(); err != nil && !errors.Is(err, types.ErrServerNotRunning) {
				log.Error("Failed to stop component", zap.String("component", c.name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
