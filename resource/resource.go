// Package resource builds and memoizes the typed assets a manifest declares.
package resource

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/types"
)

// Deps are the collaborators resource variants draw on. Any of them may be
// nil; variants that need a missing one fail at load time.
type Deps struct {
	Fetcher     *fetch.Fetcher
	Client      types.ClientManager
	Modules     *ModuleRegistry
	Middlewares types.MiddlewareManager
	Styles      StyleSink
	Logger      types.Logger
}

type loadFunc func(ctx context.Context) (interface{}, error)

// base carries the parts every variant shares. Load memoizes the first
// success; a failed load is retried on the next call.
type base struct {
	path   string
	config *types.ResourceConfig
	load   loadFunc

	mu     sync.Mutex
	value  interface{}
	loaded bool
}

func newBase(path string, cfg *types.ResourceConfig, load loadFunc) *base {
	return &base{path: path, config: cfg, load: load}
}

func (b *base) Path() string                  { return b.path }
func (b *base) Type() types.ResourceType      { return b.config.Type }
func (b *base) Config() *types.ResourceConfig { return b.config }

func (b *base) Load(ctx context.Context) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return b.value, nil
	}

	value, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	b.value = value
	b.loaded = true
	return value, nil
}

func (b *base) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// source returns the location to fetch for cfg: Path, else File.
func source(cfg *types.ResourceConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return cfg.File
}

func (d *Deps) fetch(ctx context.Context, path string) (*fetch.Content, error) {
	if d == nil || d.Fetcher == nil {
		return nil, types.Errorf(types.ErrNotSupported, "no fetcher configured for %s", path)
	}
	return d.Fetcher.Fetch(ctx, path)
}
