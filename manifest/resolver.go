// Package manifest flattens declaration trees into registry definitions.
package manifest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

const DefaultMaxDepth = 10

type Option func(*Resolver)

func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// Resolver walks manifest trees, records every leaf in the registry and
// keeps the merged tree for Node lookups. Leaves are built eagerly unless
// marked defer.
type Resolver struct {
	registry *resource.Registry
	logger   types.Logger
	maxDepth int

	mu   sync.RWMutex
	tree map[string]interface{}
}

func NewResolver(registry *resource.Registry, logger types.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
		tree:     make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Registry() *resource.Registry {
	return r.registry
}

// Load merges tree under prefix. A failing leaf or producer does not stop
// its siblings; all such failures are joined into the returned error.
// Branches deeper than the configured maximum are skipped with a warning.
func (r *Resolver) Load(ctx context.Context, tree interface{}, prefix string) error {
	w := &walk{resolver: r}
	w.node(ctx, prefix, tree, depthOf(prefix))
	return errors.Join(w.errs...)
}

// Insert places value at a dotted path, creating interior nodes as needed.
func (r *Resolver) Insert(ctx context.Context, path string, value interface{}) error {
	if path == "" {
		return &types.InvalidManifestEntryError{Path: path, Reason: "empty path"}
	}
	return r.Load(ctx, value, path)
}

// Node returns what the merged tree holds at path: a *types.ResourceConfig
// for a leaf, a copy of the sub-tree for an interior node.
func (r *Resolver) Node(path string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var current interface{} = r.tree
	if path != "" {
		for _, segment := range strings.Split(path, ".") {
			interior, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			if current, ok = interior[segment]; !ok {
				return nil, false
			}
		}
	}

	if interior, ok := current.(map[string]interface{}); ok {
		return copyTree(interior), true
	}
	return current, true
}

// Leaves lists every leaf path in the merged tree.
func (r *Resolver) Leaves() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	collectLeaves(r.tree, "", &out)
	sort.Strings(out)
	return out
}

func (r *Resolver) setLeaf(path string, cfg *types.ResourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	segments := strings.Split(path, ".")
	parent, err := r.interiorUnsafe(segments[:len(segments)-1], path)
	if err != nil {
		return err
	}

	last := segments[len(segments)-1]
	if existing, ok := parent[last].(map[string]interface{}); ok && len(existing) > 0 {
		return &types.InvalidManifestEntryError{Path: path, Reason: "leaf would replace an interior node"}
	}
	parent[last] = cfg
	return nil
}

func (r *Resolver) ensureInterior(path string) error {
	if path == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.interiorUnsafe(strings.Split(path, "."), path)
	return err
}

func (r *Resolver) interiorUnsafe(segments []string, path string) (map[string]interface{}, error) {
	current := r.tree
	for _, segment := range segments {
		next, ok := current[segment]
		if !ok {
			created := make(map[string]interface{})
			current[segment] = created
			current = created
			continue
		}

		interior, ok := next.(map[string]interface{})
		if !ok {
			return nil, &types.InvalidManifestEntryError{Path: path, Reason: "interior node would replace a leaf"}
		}
		current = interior
	}
	return current, nil
}

type walk struct {
	resolver *Resolver
	errs     []error
}

func (w *walk) fail(err error) {
	w.errs = append(w.errs, err)
}

func (w *walk) node(ctx context.Context, path string, value interface{}, depth int) {
	if err := ctx.Err(); err != nil {
		w.fail(err)
		return
	}

	r := w.resolver
	if depth > r.maxDepth {
		r.logger.Warn("Manifest branch exceeds max depth, skipping",
			zap.String("path", path),
			zap.Int("max_depth", r.maxDepth))
		return
	}

	if producer, ok := asProducer(value); ok {
		produced, err := producer(ctx)
		if err != nil {
			w.fail(types.WrapError(err, "manifest producer at "+quote(path)+" failed"))
			return
		}
		w.node(ctx, path, produced, depth+1)
		return
	}

	switch v := value.(type) {
	case *types.ResourceConfig:
		w.leaf(ctx, path, v)
		return
	case types.ResourceConfig:
		w.leaf(ctx, path, &v)
		return
	case types.Manifest:
		value = map[string]interface{}(v)
	}

	node, ok := value.(map[string]interface{})
	if !ok {
		w.fail(&types.InvalidManifestEntryError{Path: path, Reason: "not a manifest node"})
		return
	}

	if resource.IsLeaf(node) {
		cfg, err := resource.ConfigFromMap(path, node)
		if err != nil {
			w.fail(err)
			return
		}
		w.leaf(ctx, path, cfg)
		return
	}

	if err := r.ensureInterior(path); err != nil {
		w.fail(err)
		return
	}

	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "" {
			w.fail(&types.InvalidManifestEntryError{Path: path, Reason: "empty key"})
			continue
		}
		w.node(ctx, utils.JoinPath(path, key), node[key], depth+strings.Count(key, ".")+1)
	}
}

func (w *walk) leaf(ctx context.Context, path string, cfg *types.ResourceConfig) {
	r := w.resolver
	if path == "" {
		w.fail(&types.InvalidManifestEntryError{Path: path, Reason: "leaf at manifest root"})
		return
	}

	if err := r.registry.Validate(path, cfg); err != nil {
		w.fail(err)
		return
	}
	if err := r.setLeaf(path, cfg); err != nil {
		w.fail(err)
		return
	}
	if err := r.registry.Define(path, cfg); err != nil {
		w.fail(err)
		return
	}

	if cfg.Defer {
		r.logger.Debug("Resource deferred", zap.String("path", path))
		return
	}

	if _, err := r.registry.Resolve(path); err != nil {
		r.logger.Warn("Failed to construct resource",
			zap.String("path", path),
			zap.String("type", string(cfg.Type)),
			zap.Error(err))
		w.fail(err)
	}
}

func asProducer(value interface{}) (types.ManifestProducer, bool) {
	switch fn := value.(type) {
	case types.ManifestProducer:
		return fn, true
	case func(context.Context) (interface{}, error):
		return fn, true
	case func() (interface{}, error):
		return func(context.Context) (interface{}, error) { return fn() }, true
	case func() interface{}:
		return func(context.Context) (interface{}, error) { return fn(), nil }, true
	}
	return nil, false
}

func depthOf(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

func quote(path string) string {
	return `"` + path + `"`
}

func copyTree(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		if interior, ok := v.(map[string]interface{}); ok {
			out[k] = copyTree(interior)
			continue
		}
		out[k] = v
	}
	return out
}

func collectLeaves(node map[string]interface{}, prefix string, out *[]string) {
	for key, value := range node {
		path := utils.JoinPath(prefix, key)
		if interior, ok := value.(map[string]interface{}); ok {
			collectLeaves(interior, path, out)
			continue
		}
		*out = append(*out, path)
	}
}
