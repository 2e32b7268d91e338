package types

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type SequenceKey string

const DefaultSequenceKey SequenceKey = "0"

const (
	// CacheForever keeps a result until it is explicitly removed.
	CacheForever time.Duration = 0
	// CacheOnce is the facade default and never expires.
	CacheOnce = CacheForever
	// CacheDisabled results are never stored nor looked up.
	CacheDisabled time.Duration = -1
)

type Operation func(ctx context.Context) (interface{}, error)

type OperationConfig struct {
	SequenceKey SequenceKey   `yaml:"sequence" json:"sequence"`
	CacheTTL    time.Duration `yaml:"cache_ttl" json:"cache_ttl" validate:"min=-1"`
	RetryCount  int           `yaml:"retry" json:"retry" validate:"min=0"`
	// ChainTo names a lane that receives a no-op once this operation settles.
	// The empty key means no chaining.
	ChainTo SequenceKey `yaml:"chain_to" json:"chain_to"`
	// CacheKey identifies the operation body for fingerprinting.
	CacheKey   string                  `yaml:"-" json:"-"`
	OnComplete func(value interface{}) `yaml:"-" json:"-"`
}

func DefaultOperationConfig() OperationConfig {
	return OperationConfig{
		SequenceKey: DefaultSequenceKey,
		CacheTTL:    CacheOnce,
		RetryCount:  0,
	}
}

func (c OperationConfig) CacheEnabled() bool {
	return c.CacheTTL != CacheDisabled
}

// SeqKey converts strings and integers into a SequenceKey.
func SeqKey(v interface{}) SequenceKey {
	switch k := v.(type) {
	case SequenceKey:
		return k
	case string:
		return SequenceKey(k)
	case int:
		return SequenceKey(strconv.Itoa(k))
	case int64:
		return SequenceKey(strconv.FormatInt(k, 10))
	case uint64:
		return SequenceKey(strconv.FormatUint(k, 10))
	case nil:
		return DefaultSequenceKey
	default:
		return SequenceKey(fmt.Sprint(k))
	}
}

type ExecutionContext interface {
	RunAsync(ctx context.Context, op Operation, cfg OperationConfig) *Future
	Await(ctx context.Context, v interface{}) (interface{}, error)
	WaitForAll(ctx context.Context, timeout time.Duration) error
}
