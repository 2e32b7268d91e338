package types

import (
	"time"
)

// CacheManager is a key/value backend holding result cache entries.
type CacheManager interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Range(fn func(key string, value interface{}) bool) error
	Len() int
}

type CacheManagerCreator func(config interface{}) (CacheManager, error)

type Fingerprint string

type CacheEntry struct {
	Key       Fingerprint   `json:"key"`
	Value     interface{}   `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

type ResultCache interface {
	Get(fp Fingerprint) (*CacheEntry, bool)
	Lookup(fp Fingerprint, ttl time.Duration) (*CacheEntry, bool)
	Put(fp Fingerprint, value interface{}, ttl time.Duration) error
	Delete(fp Fingerprint) error
	ComputeFingerprint(identity string, cfg OperationConfig) (Fingerprint, error)
	Prune() int
	Clear() error
}
