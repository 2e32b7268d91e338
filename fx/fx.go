// Package fx is the access facade over resources: it resolves dotted paths,
// runs every load and method call through the execution context and holds
// the dynamic data, environment and store collaborators.
package fx

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/env"
	"github.com/saiset-co/sai-fx/execution"
	"github.com/saiset-co/sai-fx/manifest"
	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type Options struct {
	Execution    *execution.Context
	Resolver     *manifest.Resolver
	Env          *env.Source
	Store        types.Store
	Logger       types.Logger
	Defaults     types.OperationConfig
	DrainTimeout time.Duration
}

// FX is passed explicitly to whatever needs resource access. Scoped copies
// made by With share everything except the operation config.
type FX struct {
	exec     *execution.Context
	resolver *manifest.Resolver
	registry *resource.Registry
	env      *env.Source
	store    types.Store
	logger   types.Logger
	data     *dataSet
	config   types.OperationConfig
	drain    time.Duration
}

func New(opts Options) *FX {
	cfg := opts.Defaults
	if cfg.SequenceKey == "" {
		cfg.SequenceKey = types.DefaultSequenceKey
	}

	return &FX{
		exec:     opts.Execution,
		resolver: opts.Resolver,
		registry: opts.Resolver.Registry(),
		env:      opts.Env,
		store:    opts.Store,
		logger:   opts.Logger,
		data:     &dataSet{values: make(map[string]interface{})},
		config:   cfg,
		drain:    opts.DrainTimeout,
	}
}

// With returns a facade whose loads and calls use cfg.
func (f *FX) With(cfg types.OperationConfig) *FX {
	if cfg.SequenceKey == "" {
		cfg.SequenceKey = types.DefaultSequenceKey
	}

	scoped := *f
	scoped.config = cfg
	return &scoped
}

func (f *FX) Config() types.OperationConfig { return f.config }

func (f *FX) Execution() *execution.Context { return f.exec }
func (f *FX) Resolver() *manifest.Resolver  { return f.resolver }
func (f *FX) Registry() *resource.Registry  { return f.registry }
func (f *FX) Store() types.Store            { return f.store }

func (f *FX) Resolve(path string) (types.Resource, error) {
	return f.registry.Resolve(path)
}

// Load resolves path and loads it on the scope's lane.
func (f *FX) Load(ctx context.Context, path string) (interface{}, error) {
	return f.exec.Await(ctx, f.LoadAsync(ctx, path))
}

func (f *FX) LoadAsync(ctx context.Context, path string) *types.Future {
	gen, _ := f.registry.Generation(path)
	res, err := f.registry.Resolve(path)
	if err != nil {
		return types.ResolvedFuture(nil, err)
	}

	cfg := f.config
	cfg.CacheKey = "load:" + definitionKey(path, gen)
	return f.exec.RunAsync(ctx, res.Load, cfg)
}

// Call invokes method on the value loaded at path. An empty method calls a
// function resource directly.
func (f *FX) Call(ctx context.Context, path, method string, args ...interface{}) (interface{}, error) {
	return f.exec.Await(ctx, f.CallAsync(ctx, path, method, args...))
}

func (f *FX) CallAsync(ctx context.Context, path, method string, args ...interface{}) *types.Future {
	gen, _ := f.registry.Generation(path)
	res, err := f.registry.Resolve(path)
	if err != nil {
		return types.ResolvedFuture(nil, err)
	}

	op := func(ctx context.Context) (interface{}, error) {
		value, err := res.Load(ctx)
		if err != nil {
			return nil, err
		}

		fn, err := methodOf(value, path, method)
		if err != nil {
			return nil, err
		}
		return fn(ctx, args...)
	}

	cfg := f.config
	cfg.CacheKey = f.callKey(definitionKey(path, gen), method, args)
	if cfg.CacheKey == "" {
		cfg.CacheTTL = types.CacheDisabled
	}
	return f.exec.RunAsync(ctx, op, cfg)
}

// Invoke splits "api.users.get" into the resource path and the method.
func (f *FX) Invoke(ctx context.Context, ref string, args ...interface{}) (interface{}, error) {
	if _, defined := f.registry.Definition(ref); defined {
		return f.Call(ctx, ref, "", args...)
	}

	idx := strings.LastIndexByte(ref, '.')
	if idx <= 0 {
		return nil, types.Errorf(types.ErrResourceNotFound, "%s", ref)
	}
	return f.Call(ctx, ref[:idx], ref[idx+1:], args...)
}

// Manifest places value at path. Leaves marked defer are built on first
// resolution, the rest immediately.
func (f *FX) Manifest(ctx context.Context, path string, value interface{}) error {
	return f.resolver.Insert(ctx, path, value)
}

// Set stores a dynamic property. Properties live beside resources and are
// never loaded or cached.
func (f *FX) Set(path string, value interface{}) {
	f.data.set(path, value)
}

func (f *FX) Get(path string) (interface{}, bool) {
	return f.data.get(path)
}

// Data returns a snapshot of every dynamic property.
func (f *FX) Data() map[string]interface{} {
	return f.data.snapshot()
}

func (f *FX) Env(key string) string {
	if f.env == nil {
		return ""
	}
	return f.env.Get(key)
}

// WaitForAll waits for every lane to drain. A zero timeout uses the
// configured drain timeout.
func (f *FX) WaitForAll(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = f.drain
	}
	return f.exec.WaitForAll(ctx, timeout)
}

func (f *FX) callKey(path, method string, args []interface{}) string {
	encoded, err := utils.MarshalCanonical(args)
	if err != nil {
		f.logger.Debug("Call arguments are not serializable, skipping cache",
			zap.String("path", path),
			zap.String("method", method),
			zap.Error(err))
		return ""
	}
	return "call:" + path + "#" + method + ":" + utils.BytesToString(encoded)
}

// definitionKey ties cached results to one definition of path, so a
// redefined path never serves values computed by its predecessor.
func definitionKey(path string, gen uint64) string {
	return path + "@" + strconv.FormatUint(gen, 10)
}

func methodOf(value interface{}, path, method string) (types.Method, error) {
	if method == "" {
		switch fn := value.(type) {
		case types.Method:
			return fn, nil
		case func(ctx context.Context, args ...interface{}) (interface{}, error):
			return fn, nil
		}
		return nil, types.Errorf(types.ErrMethodNotFound, "%s is not callable", path)
	}

	set, ok := value.(types.MethodSet)
	if !ok {
		return nil, types.Errorf(types.ErrMethodNotFound, "%s has no methods", path)
	}
	fn, ok := set.Method(method)
	if !ok {
		return nil, types.Errorf(types.ErrMethodNotFound, "%s.%s", path, method)
	}
	return fn, nil
}

type dataSet struct {
	values map[string]interface{}
	mu     sync.RWMutex
}

func (d *dataSet) set(path string, value interface{}) {
	d.mu.Lock()
	d.values[path] = value
	d.mu.Unlock()
}

func (d *dataSet) get(path string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[path]
	return v, ok
}

func (d *dataSet) snapshot() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]interface{}, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}
