package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type RedisConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	PoolSize           int    `json:"pool_size"`
	MinIdleConnections int    `json:"min_idle_connections"`
	DialTimeout        string `json:"dial_timeout"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	KeyPrefix          string `json:"key_prefix"`
	ScanCount          int64  `json:"scan_count"`
}

// RedisCache stores values as JSON. Get returns the raw bytes and leaves
// decoding to the caller.
type RedisCache struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  redis.UniversalClient
	started int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (*RedisCache, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        "5s",
		ReadTimeout:        "3s",
		WriteTimeout:       "3s",
		KeyPrefix:          "fx",
		ScanCount:          100,
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  utils.ParseDuration(redisConfig.DialTimeout, 5*time.Second),
		ReadTimeout:  utils.ParseDuration(redisConfig.ReadTimeout, 3*time.Second),
		WriteTimeout: utils.ParseDuration(redisConfig.WriteTimeout, 3*time.Second),
	})

	return NewRedisCacheWithClient(ctx, logger, client, redisConfig), nil
}

func NewRedisCacheWithClient(ctx context.Context, logger types.Logger, client redis.UniversalClient, config *RedisConfig) *RedisCache {
	if config == nil {
		config = &RedisConfig{KeyPrefix: "fx", ScanCount: 100}
	}
	return &RedisCache{
		ctx:    ctx,
		logger: logger,
		config: config,
		client: client,
	}
}

func (r *RedisCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	data, err := r.client.Get(r.ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return data, true
}

func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(value)
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "marshal %s: %v", key, err)
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(r.ctx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "set %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(r.ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "delete %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) Clear() error {
	var keys []string
	err := r.scan(func(fullKey string) bool {
		keys = append(keys, fullKey)
		return true
	})
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	return r.client.Del(r.ctx, keys...).Err()
}

func (r *RedisCache) Range(fn func(key string, value interface{}) bool) error {
	return r.scan(func(fullKey string) bool {
		data, err := r.client.Get(r.ctx, fullKey).Bytes()
		if err != nil {
			return true
		}
		return fn(r.stripPrefix(fullKey), data)
	})
}

func (r *RedisCache) Len() int {
	count := 0
	if err := r.scan(func(string) bool { count++; return true }); err != nil {
		r.logger.Error("Failed to count cache entries", zap.Error(err))
	}
	return count
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.Errorf(types.ErrCacheConnectionFailed, "%v", err)
	}

	r.logger.Info("Redis cache started")
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache closed")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) scan(fn func(fullKey string) bool) error {
	var cursor uint64
	pattern := r.buildFullKey("*")

	for {
		keys, next, err := r.client.Scan(r.ctx, cursor, pattern, r.config.ScanCount).Result()
		if err != nil {
			return types.Errorf(types.ErrCacheOperationFailed, "scan: %v", err)
		}

		for _, key := range keys {
			if !fn(key) {
				return nil
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

func (r *RedisCache) stripPrefix(fullKey string) string {
	if r.config.KeyPrefix != "" {
		return strings.TrimPrefix(fullKey, r.config.KeyPrefix+":")
	}
	return fullKey
}
