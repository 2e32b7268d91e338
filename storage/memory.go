package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/saiset-co/sai-fx/types"
)

type MemoryStore struct {
	logger types.Logger
	data   map[string][]byte
	mu     sync.RWMutex
}

func NewMemoryStore(logger types.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		data:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Start() error   { return nil }
func (m *MemoryStore) Stop() error    { return nil }
func (m *MemoryStore) IsRunning() bool { return true }

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, types.Errorf(types.ErrStorageKeyNotFound, "%s", key)
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}
