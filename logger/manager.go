package logger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

const defaultLoggerType = "zap"

var (
	creatorsMu sync.RWMutex
	creators   = map[string]types.LoggerCreator{}
)

// RegisterLogger makes a logger type selectable through logger.type.
func RegisterLogger(loggerType string, creator types.LoggerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	creators[loggerType] = creator
}

// Manager owns the process logger. Logging works in every state; Stop only
// flushes buffered entries.
type Manager struct {
	types.Logger

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Value
}

func NewManager(ctx context.Context, config types.ConfigManager) (types.LoggerManager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		loggerConfig = &types.LoggerConfig{Level: "info"}
	}

	log, err := create(loggerConfig)
	if err != nil {
		return nil, err
	}

	managerCtx, cancel := context.WithCancel(ctx)
	m := &Manager{Logger: log, ctx: managerCtx, cancel: cancel}
	m.state.Store(types.StateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer func() {
		m.state.Store(types.StateStopped)
		m.cancel()
	}()

	if syncer, ok := m.Logger.(interface{ Sync() error }); ok {
		// stdout and stderr refuse fsync on most terminals.
		if err := syncer.Sync(); err != nil {
			m.Logger.Debug("Logger sync failed", zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(types.State) == types.StateRunning
}

func create(config *types.LoggerConfig) (types.Logger, error) {
	loggerType := config.Type
	if loggerType == "" || loggerType == "default" {
		loggerType = defaultLoggerType
	}

	if loggerType == defaultLoggerType {
		return NewDefaultLogger(config)
	}

	creatorsMu.RLock()
	creator, ok := creators[loggerType]
	creatorsMu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "%s (registered: %v)", loggerType, registered())
	}

	log, err := creator(config.Config)
	if err != nil {
		return nil, types.Errorf(types.ErrLoggerConfigInvalid, "%s: %v", loggerType, err)
	}
	return log, nil
}

func registered() []string {
	creatorsMu.RLock()
	defer creatorsMu.RUnlock()

	names := make([]string, 0, len(creators)+1)
	names = append(names, defaultLoggerType)
	for name := range creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
