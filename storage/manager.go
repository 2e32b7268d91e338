package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

var (
	creatorsMu     sync.RWMutex
	customCreators = make(map[string]types.StoreCreator)
)

// RegisterStore makes a custom backend selectable by storage.type.
func RegisterStore(storeType string, creator types.StoreCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	customCreators[storeType] = creator
}

// NewManager builds the configured store. An absent section yields the
// in-memory store.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metricsManager types.MetricsManager) (types.Store, error) {
	storageConfig := config.GetConfig().Storage
	if storageConfig == nil {
		storageConfig = &types.StorageConfig{Type: "memory"}
	}
	if metricsManager == nil {
		metricsManager = metrics.NewNop()
	}

	var impl types.Store
	var err error

	switch storageConfig.Type {
	case "", "memory":
		impl = NewMemoryStore(logger)
	case "clover":
		impl, err = NewCloverStore(logger, storageConfig)
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, storageConfig)
	default:
		creatorsMu.RLock()
		creator, exists := customCreators[storageConfig.Type]
		creatorsMu.RUnlock()
		if !exists {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", storageConfig.Type)
		}
		impl, err = creator(storageConfig.Config)
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(impl, storageConfig.Type, logger, metricsManager), nil
}

type instrumentedStore struct {
	impl      types.Store
	storeType string
	logger    types.Logger
	metrics   types.MetricsManager
	state     atomic.Value
}

func newInstrumentedStore(impl types.Store, storeType string, logger types.Logger, metricsManager types.MetricsManager) *instrumentedStore {
	if storeType == "" {
		storeType = "memory"
	}

	s := &instrumentedStore{
		impl:      impl,
		storeType: storeType,
		logger:    logger,
		metrics:   metricsManager,
	}
	s.state.Store(types.StateStopped)
	return s
}

func (s *instrumentedStore) Start() error {
	if !s.state.CompareAndSwap(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := s.impl.Start(); err != nil {
		s.state.Store(types.StateStopped)
		return err
	}

	s.state.Store(types.StateRunning)
	s.logger.Info("Storage started", zap.String("type", s.storeType))
	return nil
}

func (s *instrumentedStore) Stop() error {
	if !s.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer s.state.Store(types.StateStopped)

	if err := s.impl.Stop(); err != nil {
		s.logger.Error("Failed to stop storage", zap.String("type", s.storeType), zap.Error(err))
		return err
	}

	s.logger.Info("Storage stopped", zap.String("type", s.storeType))
	return nil
}

func (s *instrumentedStore) IsRunning() bool {
	return s.state.Load().(types.State) == types.StateRunning
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.impl.Get(ctx, key)
	s.observe("get", start, err)
	return value, err
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.impl.Put(ctx, key, value)
	s.observe("put", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.impl.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.impl.Keys(ctx, prefix)
	s.observe("keys", start, err)
	return keys, err
}

func (s *instrumentedStore) observe(operation string, start time.Time, err error) {
	result := "success"
	switch {
	case err == nil:
	case types.IsError(err, types.ErrStorageKeyNotFound):
		result = "miss"
	default:
		result = "error"
		s.logger.Debug("Storage operation failed",
			zap.String("type", s.storeType),
			zap.String("operation", operation),
			zap.Error(err))
	}

	s.metrics.Counter("storage_operations_total", map[string]string{
		"type":      s.storeType,
		"operation": operation,
		"result":    result,
	}).Inc()
	s.metrics.Histogram("storage_operation_duration_seconds",
		[]float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		map[string]string{"type": s.storeType, "operation": operation},
	).ObserveDuration(start)
}
