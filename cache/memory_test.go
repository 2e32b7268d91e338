package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/types"
)

func newTestMemoryCache(t *testing.T, cfg map[string]interface{}) *MemoryCache {
	t.Helper()

	c, err := NewMemoryCache(t.Context(), logger.NewNop(), &types.CacheConfig{Enabled: true, Type: "memory", Config: cfg})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := newTestMemoryCache(t, nil)

	require.NoError(t, c.Set("a", 1, 0))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.ErrorIs(t, c.Set("", 1, 0), types.ErrCacheKeyEmpty)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := newTestMemoryCache(t, nil)

	require.NoError(t, c.Set("short", "v", 10*time.Millisecond))
	require.NoError(t, c.Set("forever", "v", 0))

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	c := newTestMemoryCache(t, map[string]interface{}{"max_entries": 2})

	require.NoError(t, c.Set("first", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set("second", 2, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set("third", 3, 0))

	_, ok := c.Get("first")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Evictions())
}

func TestMemoryCacheRangeAndClear(t *testing.T) {
	c := newTestMemoryCache(t, nil)

	require.NoError(t, c.Set("a", 1, 0))
	require.NoError(t, c.Set("b", 2, 0))

	seen := map[string]interface{}{}
	require.NoError(t, c.Range(func(key string, value interface{}) bool {
		seen[key] = value
		return true
	}))
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, seen)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheLifecycle(t *testing.T) {
	c, err := NewMemoryCache(t.Context(), logger.NewNop(), nil)
	require.NoError(t, err)

	assert.False(t, c.IsRunning())
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Stop(), types.ErrServerNotRunning)
}

func TestGoCacheBackend(t *testing.T) {
	c, err := NewGoCache(logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer func() { _ = c.Stop() }()

	require.NoError(t, c.Set("k", "v", 0))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, c.Len())

	keys := []string{}
	require.NoError(t, c.Range(func(key string, _ interface{}) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestGoCacheRejectsBadInterval(t *testing.T) {
	_, err := NewGoCache(logger.NewNop(), &types.CacheConfig{Config: map[string]interface{}{"cleanup_interval": "soon"}})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}
