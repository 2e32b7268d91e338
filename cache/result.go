package cache

import (
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// ResultKeyPrefix namespaces result entries inside a backend shared with
// other users such as the HTTP response cache.
const ResultKeyPrefix = "fx:result:"

// ResultCache memoizes operation results by fingerprint. It only reads,
// prunes and clears keys under ResultKeyPrefix.
//
// Policy: a TTL of CacheForever (0) never goes stale, a positive TTL goes
// stale once now-createdAt reaches it, and CacheDisabled bypasses the
// backend entirely. A nil backend behaves as if every config were disabled.
type ResultCache struct {
	backend types.CacheManager
	logger  types.Logger
	metrics types.MetricsManager
	now     func() time.Time
}

type fingerprintPayload struct {
	Identity string `json:"identity"`
	Sequence string `json:"sequence"`
	TTL      int64  `json:"ttl_ms"`
	Retry    int    `json:"retry"`
	ChainTo  string `json:"chain_to"`
}

func NewResultCache(backend types.CacheManager, logger types.Logger, metrics types.MetricsManager) *ResultCache {
	return &ResultCache{
		backend: backend,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// ComputeFingerprint hashes the operation identity together with the
// canonical form of its config. Equal inputs always give equal output.
func (c *ResultCache) ComputeFingerprint(identity string, cfg types.OperationConfig) (types.Fingerprint, error) {
	payload := fingerprintPayload{
		Identity: identity,
		Sequence: string(cfg.SequenceKey),
		TTL:      cfg.CacheTTL.Milliseconds(),
		Retry:    cfg.RetryCount,
		ChainTo:  string(cfg.ChainTo),
	}
	if !cfg.CacheEnabled() {
		payload.TTL = -1
	}

	data, err := utils.MarshalCanonical(payload)
	if err != nil {
		return "", types.Errorf(types.ErrCacheOperationFailed, "fingerprint: %v", err)
	}

	sum := blake2b.Sum256(data)
	return types.Fingerprint(hex.EncodeToString(sum[:])), nil
}

// Fresh reports whether entry may be served under ttl at now.
func Fresh(entry *types.CacheEntry, ttl time.Duration, now time.Time) bool {
	if entry == nil || ttl == types.CacheDisabled || ttl < 0 {
		return false
	}
	if ttl == types.CacheForever {
		return true
	}
	return now.Sub(entry.CreatedAt) < ttl
}

func (c *ResultCache) Get(fp types.Fingerprint) (*types.CacheEntry, bool) {
	if c.backend == nil || fp == "" {
		return nil, false
	}

	raw, ok := c.backend.Get(resultKey(fp))
	if !ok {
		return nil, false
	}

	return c.decode(fp, raw)
}

func (c *ResultCache) Lookup(fp types.Fingerprint, ttl time.Duration) (*types.CacheEntry, bool) {
	if ttl == types.CacheDisabled {
		return nil, false
	}

	entry, ok := c.Get(fp)
	if !ok {
		c.record("miss")
		return nil, false
	}

	if !Fresh(entry, ttl, c.now()) {
		c.record("stale")
		_ = c.backend.Delete(resultKey(fp))
		return nil, false
	}

	c.record("hit")
	return entry, true
}

func (c *ResultCache) Put(fp types.Fingerprint, value interface{}, ttl time.Duration) error {
	if c.backend == nil || ttl == types.CacheDisabled {
		return nil
	}
	if fp == "" {
		return types.ErrCacheKeyEmpty
	}

	entry := &types.CacheEntry{
		Key:       fp,
		Value:     value,
		CreatedAt: c.now(),
		TTL:       ttl,
	}

	return c.backend.Set(resultKey(fp), entry, ttl)
}

func (c *ResultCache) Delete(fp types.Fingerprint) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Delete(resultKey(fp))
}

// Prune drops entries that are stale under the TTL they were stored with.
func (c *ResultCache) Prune() int {
	if c.backend == nil {
		return 0
	}

	now := c.now()
	stale := make([]string, 0)

	c.scan(func(key string, raw interface{}) {
		entry, ok := c.decode(fingerprintOf(key), raw)
		if !ok || !Fresh(entry, entry.TTL, now) {
			stale = append(stale, key)
		}
	})

	for _, key := range stale {
		_ = c.backend.Delete(key)
	}

	if len(stale) > 0 {
		c.logger.Debug("Result cache pruned", zap.Int("removed", len(stale)))
	}

	return len(stale)
}

// Clear drops every result entry and leaves foreign keys alone.
func (c *ResultCache) Clear() error {
	if c.backend == nil {
		return nil
	}

	keys := make([]string, 0)
	c.scan(func(key string, _ interface{}) {
		keys = append(keys, key)
	})

	for _, key := range keys {
		if err := c.backend.Delete(key); err != nil {
			return types.Errorf(types.ErrCacheOperationFailed, "clear %s: %v", key, err)
		}
	}
	return nil
}

func (c *ResultCache) Len() int {
	if c.backend == nil {
		return 0
	}

	n := 0
	c.scan(func(string, interface{}) { n++ })
	return n
}

func (c *ResultCache) scan(fn func(key string, raw interface{})) {
	err := c.backend.Range(func(key string, raw interface{}) bool {
		if strings.HasPrefix(key, ResultKeyPrefix) {
			fn(key, raw)
		}
		return true
	})
	if err != nil {
		c.logger.Error("Failed to scan result cache", zap.Error(err))
	}
}

func resultKey(fp types.Fingerprint) string {
	return ResultKeyPrefix + string(fp)
}

func fingerprintOf(key string) types.Fingerprint {
	return types.Fingerprint(strings.TrimPrefix(key, ResultKeyPrefix))
}

func (c *ResultCache) decode(fp types.Fingerprint, raw interface{}) (*types.CacheEntry, bool) {
	switch v := raw.(type) {
	case *types.CacheEntry:
		return v, true
	case []byte:
		entry := &types.CacheEntry{}
		if err := utils.Unmarshal(v, entry); err != nil {
			c.logger.Warn("Dropping undecodable cache entry", zap.String("fingerprint", string(fp)), zap.Error(err))
			_ = c.backend.Delete(resultKey(fp))
			return nil, false
		}
		return entry, true
	default:
		return nil, false
	}
}

func (c *ResultCache) record(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Counter("fx_cache_lookups_total", map[string]string{"result": result}).Inc()
}
