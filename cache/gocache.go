package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type GoCacheConfig struct {
	CleanupInterval string `json:"cleanup_interval"`
}

// GoCache adapts patrickmn/go-cache to the backend contract.
type GoCache struct {
	cache  *gocache.Cache
	logger types.Logger
	state  atomic.Value
}

func NewGoCache(logger types.Logger, config *types.CacheConfig) (*GoCache, error) {
	cfg := &GoCacheConfig{CleanupInterval: "5m"}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, cfg); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal go-cache config")
		}
	}

	interval, err := time.ParseDuration(cfg.CleanupInterval)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cleanup_interval: %v", err)
	}

	c := &GoCache{
		cache:  gocache.New(gocache.NoExpiration, interval),
		logger: logger,
	}
	c.state.Store(types.StateStopped)

	return c, nil
}

func (g *GoCache) Get(key string) (interface{}, bool) {
	return g.cache.Get(key)
}

func (g *GoCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	g.cache.Set(key, value, ttl)
	return nil
}

func (g *GoCache) Delete(key string) error {
	g.cache.Delete(key)
	return nil
}

func (g *GoCache) Clear() error {
	g.cache.Flush()
	return nil
}

func (g *GoCache) Range(fn func(key string, value interface{}) bool) error {
	for key, item := range g.cache.Items() {
		if !fn(key, item.Object) {
			break
		}
	}
	return nil
}

func (g *GoCache) Len() int {
	return g.cache.ItemCount()
}

func (g *GoCache) Start() error {
	if !g.state.CompareAndSwap(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (g *GoCache) Stop() error {
	if !g.state.CompareAndSwap(types.StateRunning, types.StateStopped) {
		return types.ErrServerNotRunning
	}
	g.cache.Flush()
	return nil
}

func (g *GoCache) IsRunning() bool {
	return g.state.Load().(types.State) == types.StateRunning
}
