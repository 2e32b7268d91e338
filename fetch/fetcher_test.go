package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/types"
)

type stubClient struct {
	resp *types.ClientResponse
	err  error
	urls []string
}

func (s *stubClient) Start() error    { return nil }
func (s *stubClient) Stop() error     { return nil }
func (s *stubClient) IsRunning() bool { return true }

func (s *stubClient) Do(_ context.Context, _ string, url string, _ []byte, _ *types.CallOptions) (*types.ClientResponse, error) {
	s.urls = append(s.urls, url)
	return s.resp, s.err
}

func newMemFetcher(t *testing.T, files map[string]string) (*Fetcher, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("/site", name), []byte(body), 0o644))
	}

	return NewFetcher(fs, &types.FetchConfig{Root: "/site", Cache: true}, nil, logger.NewNop()), fs
}

func TestFetchReadsFile(t *testing.T) {
	f, _ := newMemFetcher(t, map[string]string{"data/users.json": `{"a":1}`})

	content, err := f.Fetch(t.Context(), "data/users.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content.Body))
	assert.Equal(t, "application/json", content.ContentType)
}

func TestFetchCachesUntilFileChanges(t *testing.T) {
	f, fs := newMemFetcher(t, map[string]string{"a.txt": "one"})

	first, err := f.Fetch(t.Context(), "a.txt")
	require.NoError(t, err)
	second, err := f.Fetch(t.Context(), "a.txt")
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, afero.WriteFile(fs, "/site/a.txt", []byte("three"), 0o644))

	third, err := f.Fetch(t.Context(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "three", string(third.Body))
}

func TestFetchInvalidate(t *testing.T) {
	f, _ := newMemFetcher(t, map[string]string{"a.txt": "one"})

	_, err := f.Fetch(t.Context(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Cached())

	f.Invalidate("a.txt")
	assert.Equal(t, 0, f.Cached())
}

func TestFetchMissingFile(t *testing.T) {
	f, _ := newMemFetcher(t, nil)

	_, err := f.Fetch(t.Context(), "nope.txt")
	assert.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestFetchRejectsTraversal(t *testing.T) {
	f, _ := newMemFetcher(t, nil)

	_, err := f.Fetch(t.Context(), "../etc/passwd")
	assert.ErrorIs(t, err, types.ErrPathOutsideRoot)

	_, err = f.Resolve("a/../../b")
	assert.ErrorIs(t, err, types.ErrPathOutsideRoot)

	full, err := f.Resolve("a/../b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/site", "b"), full)
}

func TestFetchRemote(t *testing.T) {
	client := &stubClient{resp: &types.ClientResponse{StatusCode: 200, ContentType: "text/css", Body: []byte("a{}")}}
	f := NewFetcher(afero.NewMemMapFs(), nil, client, logger.NewNop())

	content, err := f.Fetch(t.Context(), "https://cdn.test/site.css")
	require.NoError(t, err)
	assert.Equal(t, "text/css", content.ContentType)
	assert.Equal(t, []string{"https://cdn.test/site.css"}, client.urls)

	client.resp = &types.ClientResponse{StatusCode: 500}
	_, err = f.Fetch(t.Context(), "https://cdn.test/site.css")
	assert.ErrorIs(t, err, types.ErrHTTPStatus)
}

func TestFetchRemoteWithoutClient(t *testing.T) {
	f := NewFetcher(afero.NewMemMapFs(), nil, nil, logger.NewNop())
	_, err := f.Fetch(t.Context(), "http://x.test/a")
	assert.ErrorIs(t, err, types.ErrNotSupported)
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>one</p>"), 0o644))

	f := NewFetcher(afero.NewOsFs(), &types.FetchConfig{Root: dir, Cache: true}, nil, logger.NewNop())
	_, err := f.Fetch(t.Context(), "page.html")
	require.NoError(t, err)
	require.Equal(t, 1, f.Cached())

	w, err := NewWatcher(f, logger.NewNop())
	require.NoError(t, err)

	changed := make(chan string, 8)
	w.OnChange(func(p string) { changed <- p })

	require.NoError(t, w.Start())
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("<p>two</p>"), 0o644))

	select {
	case p := <-changed:
		assert.Equal(t, path, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}
	assert.Equal(t, 0, f.Cached())
}
