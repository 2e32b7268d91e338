package types

import "context"

// Store is a persistent key/value store.
type Store interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type StoreCreator func(config interface{}) (Store, error)
