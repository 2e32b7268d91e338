package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestResultCache(t *testing.T) (*ResultCache, *fakeClock, *metrics.MemoryMetrics) {
	t.Helper()

	backend := newTestMemoryCache(t, nil)
	m := metrics.NewMemoryMetrics(logger.NewNop(), nil)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	rc := NewResultCache(backend, logger.NewNop(), m)
	rc.now = clock.Now

	return rc, clock, m
}

func TestResultCacheForeverNeverStale(t *testing.T) {
	rc, clock, _ := newTestResultCache(t)

	require.NoError(t, rc.Put("fp", "value", types.CacheForever))
	clock.Advance(24 * 365 * time.Hour)

	entry, ok := rc.Lookup("fp", types.CacheForever)
	require.True(t, ok)
	assert.Equal(t, "value", entry.Value)
}

func TestResultCacheTTLGoesStale(t *testing.T) {
	rc, clock, m := newTestResultCache(t)

	require.NoError(t, rc.Put("fp", 42, time.Hour))

	clock.Advance(59 * time.Minute)
	_, ok := rc.Lookup("fp", time.Hour)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = rc.Lookup("fp", time.Hour)
	assert.False(t, ok)

	_, ok = rc.Get("fp")
	assert.False(t, ok, "stale entries are dropped on lookup")

	assert.Equal(t, 1.0, m.Counter("fx_cache_lookups_total", map[string]string{"result": "hit"}).Get())
	assert.Equal(t, 1.0, m.Counter("fx_cache_lookups_total", map[string]string{"result": "stale"}).Get())
}

func TestResultCacheDisabledIsNeverStored(t *testing.T) {
	rc, _, m := newTestResultCache(t)

	require.NoError(t, rc.Put("fp", "value", types.CacheDisabled))
	assert.Equal(t, 0, rc.Len())

	_, ok := rc.Lookup("fp", types.CacheDisabled)
	assert.False(t, ok)
	assert.Equal(t, 0.0, m.Counter("fx_cache_lookups_total", map[string]string{"result": "miss"}).Get())
}

func TestResultCacheNilBackend(t *testing.T) {
	rc := NewResultCache(nil, logger.NewNop(), nil)

	require.NoError(t, rc.Put("fp", 1, types.CacheForever))
	_, ok := rc.Lookup("fp", types.CacheForever)
	assert.False(t, ok)
	assert.Equal(t, 0, rc.Prune())
	assert.NoError(t, rc.Clear())
}

func TestResultCachePutRequiresFingerprint(t *testing.T) {
	rc, _, _ := newTestResultCache(t)
	assert.ErrorIs(t, rc.Put("", 1, types.CacheForever), types.ErrCacheKeyEmpty)
}

func TestResultCachePruneUsesStoredTTL(t *testing.T) {
	rc, clock, _ := newTestResultCache(t)

	require.NoError(t, rc.Put("short", 1, time.Minute))
	require.NoError(t, rc.Put("long", 2, time.Hour))
	require.NoError(t, rc.Put("forever", 3, types.CacheForever))

	clock.Advance(10 * time.Minute)

	assert.Equal(t, 1, rc.Prune())
	assert.Equal(t, 2, rc.Len())

	_, ok := rc.Get("short")
	assert.False(t, ok)
}

func TestResultCacheDecodesSerializedEntries(t *testing.T) {
	backend := newTestMemoryCache(t, nil)
	rc := NewResultCache(backend, logger.NewNop(), nil)

	require.NoError(t, backend.Set(ResultKeyPrefix+"fp", []byte(`{"key":"fp","value":"remote","created_at":"2024-01-01T00:00:00Z","ttl":0}`), 0))

	entry, ok := rc.Lookup("fp", types.CacheForever)
	require.True(t, ok)
	assert.Equal(t, "remote", entry.Value)

	require.NoError(t, backend.Set(ResultKeyPrefix+"bad", []byte(`not json`), 0))
	_, ok = rc.Get("bad")
	assert.False(t, ok)
	_, ok = backend.Get(ResultKeyPrefix + "bad")
	assert.False(t, ok, "undecodable entries are dropped")
}

type cachedPage struct {
	Body string
}

func TestResultCacheLeavesForeignKeysAlone(t *testing.T) {
	backend := newTestMemoryCache(t, nil)
	rc := NewResultCache(backend, logger.NewNop(), nil)
	clock := &fakeClock{now: time.Now()}
	rc.now = clock.Now

	require.NoError(t, backend.Set("http:GET:/users", &cachedPage{Body: "[]"}, time.Hour))
	require.NoError(t, rc.Put("short", 1, time.Minute))
	require.NoError(t, rc.Put("forever", 2, types.CacheForever))
	assert.Equal(t, 2, rc.Len())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, rc.Prune())

	page, ok := backend.Get("http:GET:/users")
	require.True(t, ok)
	assert.Equal(t, "[]", page.(*cachedPage).Body)

	require.NoError(t, rc.Clear())
	assert.Equal(t, 0, rc.Len())
	_, ok = backend.Get("http:GET:/users")
	assert.True(t, ok)
	assert.Equal(t, 1, backend.Len())
}

func TestFresh(t *testing.T) {
	now := time.Now()
	entry := &types.CacheEntry{CreatedAt: now.Add(-time.Minute)}

	assert.True(t, Fresh(entry, types.CacheForever, now))
	assert.True(t, Fresh(entry, 2*time.Minute, now))
	assert.False(t, Fresh(entry, time.Minute, now))
	assert.False(t, Fresh(entry, types.CacheDisabled, now))
	assert.False(t, Fresh(nil, types.CacheForever, now))
}

func TestComputeFingerprintDistinguishesConfig(t *testing.T) {
	rc := NewResultCache(nil, logger.NewNop(), nil)

	base := types.DefaultOperationConfig()
	a, err := rc.ComputeFingerprint("users.get(1)", base)
	require.NoError(t, err)

	other := base
	other.RetryCount = 3
	b, err := rc.ComputeFingerprint("users.get(1)", other)
	require.NoError(t, err)

	c, err := rc.ComputeFingerprint("users.get(2)", base)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
}

func TestComputeFingerprintIgnoresCallback(t *testing.T) {
	rc := NewResultCache(nil, logger.NewNop(), nil)

	cfg := types.DefaultOperationConfig()
	a, err := rc.ComputeFingerprint("op", cfg)
	require.NoError(t, err)

	cfg.OnComplete = func(interface{}) {}
	b, err := rc.ComputeFingerprint("op", cfg)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	rc := NewResultCache(nil, logger.NewNop(), nil)

	rapid.Check(t, func(t *rapid.T) {
		identity := rapid.String().Draw(t, "identity")
		cfg := types.OperationConfig{
			SequenceKey: types.SequenceKey(rapid.StringMatching(`[a-z0-9]{0,4}`).Draw(t, "seq")),
			CacheTTL:    time.Duration(rapid.Int64Range(-1, int64(time.Hour)).Draw(t, "ttl")),
			RetryCount:  rapid.IntRange(0, 10).Draw(t, "retry"),
		}

		a, err := rc.ComputeFingerprint(identity, cfg)
		if err != nil {
			t.Fatal(err)
		}
		b, err := rc.ComputeFingerprint(identity, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("fingerprint differs for equal input: %s vs %s", a, b)
		}
	})
}
