package resource

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-fx/types"
)

// Creator builds a resource variant. Composite variants use the registry
// to build nested resources.
type Creator func(path string, cfg *types.ResourceConfig, r *Registry) (types.Resource, error)

var customResourceCreators = sync.Map{}

// RegisterResourceType adds a variant beyond the built-in ones.
func RegisterResourceType(resourceType types.ResourceType, creator Creator) {
	customResourceCreators.Store(resourceType, creator)
}

var _ types.ResourceRegistry = (*Registry)(nil)

// Registry maps dotted paths to definitions and memoizes the resource built
// for each one. Construction failures are returned to the caller and are
// not remembered, so a corrected definition resolves on the next attempt.
type Registry struct {
	deps      *Deps
	logger    types.Logger
	validator *validator.Validate

	mu        sync.RWMutex
	defs      map[string]*types.ResourceConfig
	gens      map[string]uint64
	lastGen   uint64
	instances map[string]types.Resource
	sf        singleflight.Group
}

func NewRegistry(deps *Deps, logger types.Logger) *Registry {
	if deps == nil {
		deps = &Deps{}
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if deps.Modules == nil {
		deps.Modules = NewModuleRegistry()
	}
	if deps.Styles == nil {
		deps.Styles = NewMemoryStyleSink()
	}

	return &Registry{
		deps:      deps,
		logger:    logger,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		defs:      make(map[string]*types.ResourceConfig),
		gens:      make(map[string]uint64),
		instances: make(map[string]types.Resource),
	}
}

func (r *Registry) Deps() *Deps {
	return r.deps
}

// Define records cfg at path, replacing any previous definition and the
// instance built from it. Every call moves the path to a new generation.
func (r *Registry) Define(path string, cfg *types.ResourceConfig) error {
	if path == "" {
		return &types.InvalidManifestEntryError{Path: path, Reason: "empty path"}
	}
	if err := r.Validate(path, cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.defs[path] = cfg
	r.lastGen++
	r.gens[path] = r.lastGen
	old, built := r.instances[path]
	delete(r.instances, path)
	r.mu.Unlock()

	if built {
		r.closeResource(path, old)
	}
	return nil
}

// Validate checks the fields each variant requires.
func (r *Registry) Validate(path string, cfg *types.ResourceConfig) error {
	if cfg == nil {
		return &types.InvalidManifestEntryError{Path: path, Reason: "nil config"}
	}
	if err := r.validator.Struct(cfg); err != nil {
		return &types.InvalidManifestEntryError{Path: path, Reason: err.Error()}
	}

	missing := func(field string) error {
		return &types.InvalidManifestEntryError{Path: path, Reason: "missing " + field}
	}

	switch cfg.Type {
	case types.ResourceAPI:
		if cfg.BaseURL == "" {
			return missing("baseUrl")
		}
	case types.ResourceCSS, types.ResourceHTML, types.ResourceJSON, types.ResourceXML,
		types.ResourceYML, types.ResourceYAML, types.ResourceData, types.ResourceRaw,
		types.ResourceModule, types.ResourceClass, types.ResourceInstance, types.ResourceFunction:
		if source(cfg) == "" {
			return missing("path")
		}
	case types.ResourceStatic, types.ResourceMarkdown:
		if cfg.Dir == "" && cfg.File == "" {
			return missing("dir")
		}
	case types.ResourceImage:
		if source(cfg) == "" {
			return missing("file")
		}
	case types.ResourceRoute:
		if cfg.Handler == nil {
			return missing("handler")
		}
	}
	return nil
}

// Resolve returns the memoized resource for path, building it on first use.
func (r *Registry) Resolve(path string) (types.Resource, error) {
	if res, ok := r.Lookup(path); ok {
		return res, nil
	}

	v, err, _ := r.sf.Do(path, func() (interface{}, error) {
		if res, ok := r.Lookup(path); ok {
			return res, nil
		}

		cfg, ok := r.Definition(path)
		if !ok {
			return nil, types.Errorf(types.ErrResourceNotFound, "%s", path)
		}

		res, err := r.Build(path, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.defs[path]; !ok || current != cfg {
			return res, nil
		}
		r.instances[path] = res
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(types.Resource), nil
}

// Build constructs a resource without memoizing it.
func (r *Registry) Build(path string, cfg *types.ResourceConfig) (types.Resource, error) {
	switch cfg.Type {
	case types.ResourceAPI:
		return newAPIResource(path, cfg, r.deps), nil
	case types.ResourceCSS:
		return newCSSResource(path, cfg, r.deps), nil
	case types.ResourceHTML:
		return newHTMLResource(path, cfg, r.deps), nil
	case types.ResourceModule, types.ResourceClass, types.ResourceInstance, types.ResourceFunction:
		return newModuleResource(path, cfg, r.deps), nil
	case types.ResourceJSON, types.ResourceXML, types.ResourceYML, types.ResourceYAML, types.ResourceData:
		return newDataResource(path, cfg, r.deps), nil
	case types.ResourceRaw:
		return newRawResource(path, cfg, r.deps), nil
	case types.ResourceObject:
		return newObjectResource(path, cfg), nil
	case types.ResourceStatic, types.ResourceMarkdown, types.ResourceImage:
		return newFileResource(path, cfg, r.deps), nil
	case types.ResourceStream:
		return newStreamResource(path, cfg, r.deps), nil
	case types.ResourceRoute:
		return newRouteResource(path, cfg, r), nil
	default:
		creator, ok := customResourceCreators.Load(cfg.Type)
		if !ok {
			return nil, &types.UnknownResourceTypeError{Path: path, Type: string(cfg.Type)}
		}
		return creator.(Creator)(path, cfg, r)
	}
}

func (r *Registry) Lookup(path string) (types.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.instances[path]
	return res, ok
}

func (r *Registry) Definition(path string) (*types.ResourceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.defs[path]
	return cfg, ok
}

// Generation identifies the definition currently held at path. Values
// derived from a resource stay valid only while its generation is unchanged.
func (r *Registry) Generation(path string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.gens[path]
	return gen, ok
}

// Paths lists every defined path in lexical order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.defs))
	for path := range r.defs {
		paths = append(paths, path)
	}
	r.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// PathsUnder lists defined paths at or below prefix.
func (r *Registry) PathsUnder(prefix string) []string {
	if prefix == "" {
		return r.Paths()
	}

	var out []string
	for _, path := range r.Paths() {
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			out = append(out, path)
		}
	}
	return out
}

// Close releases resources whose loaded values hold external state.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]types.Resource)
	r.mu.Unlock()

	var firstErr error
	for path, res := range instances {
		if err := r.closeResourceCtx(ctx, path, res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) closeResource(path string, res types.Resource) {
	_ = r.closeResourceCtx(context.Background(), path, res)
}

func (r *Registry) closeResourceCtx(ctx context.Context, path string, res types.Resource) error {
	if !res.Loaded() {
		return nil
	}

	value, err := res.Load(ctx)
	if err != nil {
		return nil
	}

	var closeErr error
	switch v := value.(type) {
	case interface{ Close(context.Context) error }:
		closeErr = v.Close(ctx)
	case io.Closer:
		closeErr = v.Close()
	}

	if closeErr != nil {
		r.logger.Warn("Failed to close resource", zap.String("path", path), zap.Error(closeErr))
	}
	return closeErr
}
