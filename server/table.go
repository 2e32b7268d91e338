package server

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/types"
)

// RouteKey is the registry path of the route mounted at pattern. URL
// patterns contain dots and slashes, so they are kept out of the dotted
// resource tree.
func RouteKey(pattern string) string {
	return "routes[" + pattern + "]"
}

// Mount defines every entry of a manifest route table in the registry,
// loads it and registers it on the router. An entry is a resource leaf, a
// map with a handler and no type (a route), or a "module.export" string.
// Failing entries are skipped and reported together.
func Mount(ctx context.Context, router *Router, registry *resource.Registry, routes map[string]interface{}, logger types.Logger) error {
	patterns := make([]string, 0, len(routes))
	for pattern := range routes {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	var errs []error
	for _, pattern := range patterns {
		if err := mountOne(ctx, router, registry, pattern, routes[pattern]); err != nil {
			logger.Error("Failed to mount route", zap.String("pattern", pattern), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Debug("Route mounted", zap.String("pattern", pattern))
	}

	return errors.Join(errs...)
}

func mountOne(ctx context.Context, router *Router, registry *resource.Registry, pattern string, value interface{}) error {
	key := RouteKey(pattern)

	var node map[string]interface{}
	switch v := value.(type) {
	case string:
		node = map[string]interface{}{"type": string(types.ResourceRoute), "handler": v}
	case map[string]interface{}:
		node = v
		if !resource.IsLeaf(node) {
			node = make(map[string]interface{}, len(v)+1)
			for k, val := range v {
				node[k] = val
			}
			node["type"] = string(types.ResourceRoute)
		}
	default:
		return &types.InvalidManifestEntryError{Path: key, Reason: "route must be a handler reference or a map"}
	}

	cfg, err := resource.ConfigFromMap(key, node)
	if err != nil {
		return err
	}
	if err := registry.Define(key, cfg); err != nil {
		return err
	}

	res, err := registry.Resolve(key)
	if err != nil {
		return err
	}
	value, err = res.Load(ctx)
	if err != nil {
		return err
	}

	servable, ok := value.(types.Servable)
	if !ok {
		return types.Errorf(types.ErrHandlerIsNil, "%s does not serve requests", key)
	}

	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	for _, method := range methods {
		router.Add(strings.ToUpper(method), pattern, servable.Handle, &types.RouteConfig{})
	}
	return nil
}
