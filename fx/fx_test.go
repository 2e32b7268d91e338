package fx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-fx/cache"
	"github.com/saiset-co/sai-fx/env"
	"github.com/saiset-co/sai-fx/execution"
	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/manifest"
	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/storage"
	"github.com/saiset-co/sai-fx/types"
)

type harness struct {
	fx    *FX
	fs    afero.Fs
	calls *int32
}

func newHarness(t *testing.T, opts ...execution.Option) *harness {
	t.Helper()

	log := logger.NewNop()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/greeting.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/site/.env", []byte("REGION=eu\n"), 0o644))

	backend, err := cache.NewMemoryCache(t.Context(), log, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Start())
	t.Cleanup(func() { _ = backend.Stop() })

	registry := resource.NewRegistry(&resource.Deps{
		Fetcher: fetch.NewFetcher(fs, &types.FetchConfig{Root: "/site"}, nil, log),
	}, log)

	var calls int32
	registry.Deps().Modules.Register("users", map[string]interface{}{
		"get": types.Method(func(_ context.Context, args ...interface{}) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return "user-" + args[0].(string), nil
		}),
		"fail": types.Method(func(context.Context, ...interface{}) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("backend down")
		}),
	})

	source, err := env.NewSource(log, &types.EnvConfig{File: "/site/.env"}, env.WithFs(fs))
	require.NoError(t, err)

	store := storage.NewMemoryStore(log)

	f := New(Options{
		Execution:    execution.New(cache.NewResultCache(backend, log, nil), log, nil, opts...),
		Resolver:     manifest.NewResolver(registry, log),
		Env:          source,
		Store:        store,
		Logger:       log,
		Defaults:     types.DefaultOperationConfig(),
		DrainTimeout: time.Second,
	})

	require.NoError(t, f.Manifest(t.Context(), "api", map[string]interface{}{
		"users":    map[string]interface{}{"type": "module", "path": "users"},
		"greeting": map[string]interface{}{"type": "raw", "path": "greeting.txt"},
		"getUser":  map[string]interface{}{"type": "function", "path": "users", "export": "get"},
	}))

	return &harness{fx: f, fs: fs, calls: &calls}
}

func TestLoadResolvesDottedPath(t *testing.T) {
	h := newHarness(t)

	v, err := h.fx.Load(t.Context(), "api.greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = h.fx.Load(t.Context(), "api.nothing")
	assert.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestCallCachesByArguments(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		v, err := h.fx.Call(t.Context(), "api.users", "get", "1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", v)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(h.calls))

	v, err := h.fx.Call(t.Context(), "api.users", "get", "2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", v)
	assert.EqualValues(t, 2, atomic.LoadInt32(h.calls))

	_, err = h.fx.Call(t.Context(), "api.users", "nope")
	assert.ErrorIs(t, err, types.ErrMethodNotFound)
}

func TestWithScopesOperationConfig(t *testing.T) {
	h := newHarness(t)

	uncached := h.fx.With(types.OperationConfig{CacheTTL: types.CacheDisabled})
	assert.Equal(t, types.DefaultSequenceKey, uncached.Config().SequenceKey)

	for i := 0; i < 2; i++ {
		_, err := uncached.Call(t.Context(), "api.users", "get", "1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(h.calls))

	uncached.Set("theme", "dark")
	v, ok := h.fx.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
	assert.Equal(t, map[string]interface{}{"theme": "dark"}, h.fx.Data())
}

func TestCallRetriesThenExhausts(t *testing.T) {
	h := newHarness(t)

	_, err := h.fx.With(types.OperationConfig{RetryCount: 2, CacheTTL: types.CacheDisabled}).
		Call(t.Context(), "api.users", "fail")

	var exhausted *types.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(h.calls))
}

func TestInvokeSplitsMethod(t *testing.T) {
	h := newHarness(t)

	v, err := h.fx.Invoke(t.Context(), "api.users.get", "7")
	require.NoError(t, err)
	assert.Equal(t, "user-7", v)

	v, err = h.fx.Invoke(t.Context(), "api.getUser", "8")
	require.NoError(t, err)
	assert.Equal(t, "user-8", v)

	_, err = h.fx.Invoke(t.Context(), "orphan")
	assert.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestLaneOrderThroughFacade(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	h.fx.Registry().Deps().Modules.Register("log", map[string]interface{}{
		"append": types.Method(func(_ context.Context, args ...interface{}) (interface{}, error) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, args[0].(string))
			mu.Unlock()
			return nil, nil
		}),
	})
	require.NoError(t, h.fx.Manifest(t.Context(), "journal", map[string]interface{}{"type": "module", "path": "log"}))

	lane := h.fx.With(types.OperationConfig{SequenceKey: "journal", CacheTTL: types.CacheDisabled})
	futures := make([]*types.Future, 0, 5)
	for _, entry := range []string{"a", "b", "c", "d", "e"} {
		futures = append(futures, lane.CallAsync(t.Context(), "journal", "append", entry))
	}

	require.NoError(t, h.fx.WaitForAll(t.Context(), 0))
	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestAwaitBoundThroughFacade(t *testing.T) {
	h := newHarness(t, execution.WithAwaitBound(3, 5*time.Millisecond))

	release := make(chan struct{})
	h.fx.Registry().Deps().Modules.Register("slow", map[string]interface{}{
		"run": types.Method(func(context.Context, ...interface{}) (interface{}, error) {
			<-release
			return "done", nil
		}),
	})
	require.NoError(t, h.fx.Manifest(t.Context(), "slow", map[string]interface{}{"type": "module", "path": "slow"}))

	_, err := h.fx.Call(t.Context(), "slow", "run")
	assert.ErrorIs(t, err, types.ErrMaxAttemptsExceeded)

	close(release)
	require.NoError(t, h.fx.WaitForAll(t.Context(), time.Second))
}

func TestEnvAndStore(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "eu", h.fx.Env("region"))

	require.NoError(t, h.fx.Store().Put(t.Context(), "k", []byte("v")))
	v, err := h.fx.Store().Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestDeferredManifestEntry(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.fx.Manifest(t.Context(), "late.greeting", map[string]interface{}{
		"type": "raw", "path": "greeting.txt", "defer": true,
	}))

	_, built := h.fx.Registry().Lookup("late.greeting")
	assert.False(t, built)

	v, err := h.fx.Load(t.Context(), "late.greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestRedefinedPathDropsCachedResults(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, "/site/other.txt", []byte("corrected"), 0o644))

	v, err := h.fx.Load(t.Context(), "api.greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	require.NoError(t, h.fx.Manifest(t.Context(), "api.greeting", map[string]interface{}{
		"type": "raw", "path": "other.txt",
	}))

	v, err = h.fx.Load(t.Context(), "api.greeting")
	require.NoError(t, err)
	assert.Equal(t, "corrected", v)

	_, err = h.fx.Call(t.Context(), "api.users", "get", "1")
	require.NoError(t, err)
	require.NoError(t, h.fx.Manifest(t.Context(), "api.users", map[string]interface{}{
		"type": "module", "path": "users",
	}))
	_, err = h.fx.Call(t.Context(), "api.users", "get", "1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(h.calls))
}
