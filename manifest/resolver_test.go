package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/types"
)

func newResolver(t *testing.T, files map[string]string, opts ...Option) (*Resolver, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(body), 0o644))
	}

	log := logger.NewNop()
	registry := resource.NewRegistry(&resource.Deps{
		Fetcher: fetch.NewFetcher(fs, &types.FetchConfig{Root: "/", Cache: true}, nil, log),
	}, log)
	return NewResolver(registry, log, opts...), fs
}

func leaf(typ, path string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "path": path}
}

func TestLoadNestedLeafLoadsOnce(t *testing.T) {
	r, fs := newResolver(t, map[string]string{"/x": "payload"})

	err := r.Load(t.Context(), types.Manifest{
		"a": map[string]interface{}{"b": leaf("raw", "/x")},
	}, "")
	require.NoError(t, err)

	res, err := r.Registry().Resolve("a.b")
	require.NoError(t, err)

	first, err := res.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "payload", first)

	require.NoError(t, fs.Remove("/x"))
	second, err := res.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "payload", second)
}

func TestLoadConstructsEagerlyUnlessDeferred(t *testing.T) {
	r, _ := newResolver(t, nil)

	lazy := leaf("raw", "/later")
	lazy["defer"] = true

	require.NoError(t, r.Load(t.Context(), types.Manifest{
		"now":   leaf("raw", "/now"),
		"later": lazy,
	}, "docs"))

	_, built := r.Registry().Lookup("docs.now")
	assert.True(t, built)
	_, built = r.Registry().Lookup("docs.later")
	assert.False(t, built)

	_, err := r.Registry().Resolve("docs.later")
	require.NoError(t, err)
	_, built = r.Registry().Lookup("docs.later")
	assert.True(t, built)
}

func TestLoadMergesSiblings(t *testing.T) {
	r, _ := newResolver(t, nil)

	require.NoError(t, r.Load(t.Context(), types.Manifest{"api": map[string]interface{}{"x": leaf("raw", "/x")}}, ""))
	require.NoError(t, r.Load(t.Context(), types.Manifest{"y": leaf("raw", "/y")}, "api"))
	require.NoError(t, r.Load(t.Context(), types.Manifest{"api.z": leaf("raw", "/z")}, ""))

	assert.Equal(t, []string{"api.x", "api.y", "api.z"}, r.Leaves())
	assert.Equal(t, []string{"api.x", "api.y", "api.z"}, r.Registry().Paths())
}

func TestLoadInvokesProducers(t *testing.T) {
	r, _ := newResolver(t, nil)
	calls := 0

	err := r.Load(t.Context(), types.Manifest{
		"lazy": types.ManifestProducer(func(context.Context) (interface{}, error) {
			calls++
			return map[string]interface{}{"doc": leaf("raw", "/doc")}, nil
		}),
		"plain": func() interface{} {
			return types.Manifest{"doc": leaf("raw", "/plain")}
		},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"lazy.doc", "plain.doc"}, r.Leaves())
}

func TestFailingProducerDoesNotStopSiblings(t *testing.T) {
	r, _ := newResolver(t, nil)
	boom := errors.New("boom")

	err := r.Load(t.Context(), types.Manifest{
		"bad":  func() (interface{}, error) { return nil, boom },
		"good": leaf("raw", "/good"),
	}, "")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"good"}, r.Leaves())
}

func TestUnknownTypeDoesNotBreakSiblings(t *testing.T) {
	r, _ := newResolver(t, map[string]string{"/x": "ok"})

	err := r.Load(t.Context(), types.Manifest{
		"bogus": leaf("bogus", "/y"),
		"good":  leaf("raw", "/x"),
	}, "")
	assert.ErrorIs(t, err, types.ErrUnknownResourceType)

	res, err := r.Registry().Resolve("good")
	require.NoError(t, err)
	v, err := res.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = r.Registry().Resolve("bogus")
	assert.ErrorIs(t, err, types.ErrUnknownResourceType)
	_, built := r.Registry().Lookup("bogus")
	assert.False(t, built)
}

func TestInvalidLeafIsRejected(t *testing.T) {
	r, _ := newResolver(t, nil)

	err := r.Load(t.Context(), types.Manifest{
		"data":  map[string]interface{}{"type": "json"},
		"other": 42,
	}, "")

	var invalid *types.InvalidManifestEntryError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)
	assert.Empty(t, r.Registry().Paths())
}

func TestDepthLimitSkipsBranch(t *testing.T) {
	r, _ := newResolver(t, nil, WithMaxDepth(3))

	err := r.Load(t.Context(), types.Manifest{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": leaf("raw", "/c"),
				"d": map[string]interface{}{"e": leaf("raw", "/e")},
			},
		},
		"top": leaf("raw", "/top"),
	}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.b.c", "top"}, r.Registry().Paths())
}

func TestSelfReferentialProducerStopsAtDepth(t *testing.T) {
	r, _ := newResolver(t, nil)

	var loop types.ManifestProducer
	loop = func(context.Context) (interface{}, error) { return loop, nil }

	require.NoError(t, r.Load(t.Context(), types.Manifest{"loop": loop}, ""))
	assert.Empty(t, r.Registry().Paths())
}

func TestInsertAndNode(t *testing.T) {
	r, _ := newResolver(t, nil)

	cfg := &types.ResourceConfig{Type: types.ResourceObject, Params: map[string]interface{}{"k": "v"}}
	require.NoError(t, r.Insert(t.Context(), "app.settings.theme", cfg))

	node, ok := r.Node("app.settings.theme")
	require.True(t, ok)
	assert.Same(t, cfg, node)

	sub, ok := r.Node("app")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{
		"settings": map[string]interface{}{"theme": cfg},
	}, sub)

	_, ok = r.Node("app.missing")
	assert.False(t, ok)
	_, ok = r.Node("app.settings.theme.deeper")
	assert.False(t, ok)

	err := r.Insert(t.Context(), "app.settings.theme.deeper", leaf("raw", "/d"))
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)

	err = r.Insert(t.Context(), "app", leaf("raw", "/d"))
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)

	assert.ErrorIs(t, r.Insert(t.Context(), "", cfg), types.ErrInvalidManifestEntry)
}

func TestLoadStopsOnCancelledContext(t *testing.T) {
	r, _ := newResolver(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := r.Load(ctx, types.Manifest{"a": leaf("raw", "/a")}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Leaves())
}

func TestLeavesMatchInsertedPaths(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		segment := rapid.SampledFrom([]string{"a", "b", "c", "d"})
		paths := rapid.SliceOfNDistinct(
			rapid.Custom(func(t *rapid.T) string {
				return strings.Join([]string{segment.Draw(t, "s1"), segment.Draw(t, "s2"), segment.Draw(t, "s3")}, ".")
			}),
			1, 20, rapid.ID[string],
		).Draw(t, "paths")

		log := logger.NewNop()
		r := NewResolver(resource.NewRegistry(nil, log), log)

		for i, path := range paths {
			cfg := &types.ResourceConfig{Type: types.ResourceObject, Params: map[string]interface{}{"i": i}}
			if err := r.Insert(context.Background(), path, cfg); err != nil {
				t.Fatalf("insert %s: %v", path, err)
			}
		}

		want := append([]string(nil), paths...)
		sort.Strings(want)
		if got := r.Leaves(); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("leaves %v, want %v", got, want)
		}
	})
}
