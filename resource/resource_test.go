package resource

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/types"
)

type stubClient struct {
	resp    *types.ClientResponse
	err     error
	methods []string
	urls    []string
	bodies  [][]byte
	headers []map[string]string
}

func (s *stubClient) Start() error    { return nil }
func (s *stubClient) Stop() error     { return nil }
func (s *stubClient) IsRunning() bool { return true }

func (s *stubClient) Do(_ context.Context, method, url string, body []byte, opts *types.CallOptions) (*types.ClientResponse, error) {
	s.methods = append(s.methods, method)
	s.urls = append(s.urls, url)
	s.bodies = append(s.bodies, body)
	if opts != nil {
		s.headers = append(s.headers, opts.Headers)
	}
	return s.resp, s.err
}

func newTestRegistry(t *testing.T, files map[string]string) (*Registry, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("/site", name), []byte(body), 0o644))
	}

	log := logger.NewNop()
	deps := &Deps{
		Fetcher: fetch.NewFetcher(fs, &types.FetchConfig{Root: "/site", Cache: true}, nil, log),
	}
	return NewRegistry(deps, log), fs
}

func define(t *testing.T, r *Registry, path string, cfg *types.ResourceConfig) {
	t.Helper()
	require.NoError(t, r.Define(path, cfg))
}

func load(t *testing.T, r *Registry, path string) interface{} {
	t.Helper()

	res, err := r.Resolve(path)
	require.NoError(t, err)
	v, err := res.Load(t.Context())
	require.NoError(t, err)
	return v
}

func writeFile(fs afero.Fs, name, body string) error {
	return afero.WriteFile(fs, filepath.Join("/site", name), []byte(body), 0o644)
}
