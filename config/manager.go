package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-fx/types"
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Value
	mu          sync.Mutex
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := newManager(ctx, configPath)

	if err := cm.Load(); err != nil {
		cm.cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager serves an already built configuration. Missing sections
// are filled from the loader defaults.
func NewStaticManager(ctx context.Context, config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := newManager(ctx, "")

	merged := cm.loader.Defaults()
	if config != nil {
		mergeSections(merged, config)
	}

	if err := cm.loader.Validate(merged); err != nil {
		cm.cancel()
		return nil, err
	}

	cm.store(merged, nil)

	return cm, nil
}

func newManager(ctx context.Context, configPath string) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}
	cm.state.Store(types.StateStopped)

	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.state.CompareAndSwap(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.state.CompareAndSwap(types.StateRunning, types.StateStopped) {
		return types.ErrServerNotRunning
	}
	cm.cancel()
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.state.Load().(types.State) == types.StateRunning
}

// Load reads the configuration file again and swaps it in atomically.
func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, raw, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.store(config, raw)

	return nil
}

func (cm *ConfigurationManager) store(config *types.ServiceConfig, raw map[string]interface{}) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(config, raw))
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func mergeSections(dst, src *types.ServiceConfig) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.FX != nil {
		dst.FX = src.FX
	}
	if src.Server != nil {
		dst.Server = src.Server
	}
	if src.Logger != nil {
		dst.Logger = src.Logger
	}
	if src.Cache != nil {
		dst.Cache = src.Cache
	}
	if src.Storage != nil {
		dst.Storage = src.Storage
	}
	if src.Cron != nil {
		dst.Cron = src.Cron
	}
	if src.Middlewares != nil {
		dst.Middlewares = src.Middlewares
	}
	if src.Metrics != nil {
		dst.Metrics = src.Metrics
	}
	if src.Client != nil {
		dst.Client = src.Client
	}
	if src.Health != nil {
		dst.Health = src.Health
	}
	if src.Tracing != nil {
		dst.Tracing = src.Tracing
	}
	if src.Fetch != nil {
		dst.Fetch = src.Fetch
	}
	if src.Env != nil {
		dst.Env = src.Env
	}
}
