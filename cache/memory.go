package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type MemoryConfig struct {
	MaxEntries      int    `json:"max_entries"`
	CleanupInterval string `json:"cleanup_interval"`
}

type memoryItem struct {
	value     interface{}
	createdAt time.Time
	expiresAt time.Time
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryCache is an in-process backend. Entries stored with ttl <= 0 never
// expire; once MaxEntries is reached the oldest entry is evicted.
type MemoryCache struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      *MemoryConfig
	logger      types.Logger
	data        map[string]*memoryItem
	evictions   uint64
	mu          sync.RWMutex
	state       atomic.Value
	cleanupDone chan struct{}
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (*MemoryCache, error) {
	var memConfig = &MemoryConfig{
		MaxEntries:      10000,
		CleanupInterval: "5m",
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:         cacheCtx,
		cancel:      cancel,
		logger:      logger,
		config:      memConfig,
		data:        make(map[string]*memoryItem),
		cleanupDone: make(chan struct{}),
	}

	cache.state.Store(types.StateStopped)

	return cache, nil
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	now := time.Now()

	m.mu.RLock()
	item, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if item.expired(now) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && current.expired(now) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return item.value, true
}

func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	now := time.Now()
	item := &memoryItem{value: value, createdAt: now}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOneUnsafe()
		}
	}

	m.data[key] = item
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*memoryItem)
	return nil
}

// Range visits a snapshot of the live entries.
func (m *MemoryCache) Range(fn func(key string, value interface{}) bool) error {
	now := time.Now()

	m.mu.RLock()
	snapshot := make(map[string]interface{}, len(m.data))
	for key, item := range m.data {
		if !item.expired(now) {
			snapshot[key] = item.value
		}
	}
	m.mu.RUnlock()

	for key, value := range snapshot {
		if !fn(key, value) {
			break
		}
	}
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) Evictions() uint64 {
	return atomic.LoadUint64(&m.evictions)
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if interval := m.cleanupInterval(); interval > 0 {
		go m.startCleanupRoutine(interval)
	} else {
		close(m.cleanupDone)
	}

	m.state.Store(types.StateRunning)
	m.logger.Debug("Memory cache started", zap.Int("max_entries", m.config.MaxEntries))
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.state.Store(types.StateStopped)

	m.cancel()

	select {
	case <-m.cleanupDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Cleanup routine stop timeout")
	}

	m.mu.Lock()
	entries := len(m.data)
	m.data = make(map[string]*memoryItem)
	m.mu.Unlock()

	m.logger.Debug("Memory cache stopped", zap.Int("cleared_entries", entries))
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.state.Load().(types.State) == types.StateRunning
}

func (m *MemoryCache) transitionState(from, to types.State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryCache) cleanupInterval() time.Duration {
	if m.config.CleanupInterval == "" {
		return 0
	}

	interval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 5m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		return 5 * time.Minute
	}
	return interval
}

func (m *MemoryCache) cleanup() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for key, item := range m.data {
		if item.expired(now) {
			delete(m.data, key)
			expired++
		}
	}

	return expired
}

func (m *MemoryCache) startCleanupRoutine(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if expired := m.cleanup(); expired > 0 {
				m.logger.Debug("Cleanup completed", zap.Int("expired_entries", expired))
			}
		}
	}
}

func (m *MemoryCache) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range m.data {
		if oldestKey == "" || item.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.createdAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}
