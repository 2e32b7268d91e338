package resource

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// Route is a loaded route resource: a handler, the methods it accepts and
// the middlewares wrapped around it.
type Route struct {
	path    string
	methods map[string]struct{}
	handler types.FastHTTPHandler
}

var _ types.Servable = (*Route)(nil)

func newRouteResource(path string, cfg *types.ResourceConfig, r *Registry) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		handler, err := r.routeHandler(ctx, path, cfg.Handler)
		if err != nil {
			return nil, err
		}

		if len(cfg.Middleware) > 0 {
			if r.deps.Middlewares == nil {
				return nil, types.Errorf(types.ErrMiddlewareNotFound, "route %s uses middleware without a manager", path)
			}
			wrapped, err := r.deps.Middlewares.Wrap(handler, cfg.Middleware...)
			if err != nil {
				return nil, err
			}
			handler = wrapped
		}

		route := &Route{path: path, handler: handler}
		if len(cfg.Methods) > 0 {
			route.methods = make(map[string]struct{}, len(cfg.Methods))
			for _, m := range cfg.Methods {
				route.methods[strings.ToUpper(m)] = struct{}{}
			}
		}
		return route, nil
	})
}

func (rt *Route) Allows(method string) bool {
	if rt.methods == nil {
		return true
	}
	_, ok := rt.methods[method]
	return ok
}

func (rt *Route) Handle(ctx *fasthttp.RequestCtx) {
	if !rt.Allows(string(ctx.Method())) {
		utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rt.handler(ctx)
}

// routeHandler accepts "module.export" references to a registered module,
// or an inline leaf whose loaded value serves requests.
func (r *Registry) routeHandler(ctx context.Context, path string, spec interface{}) (types.FastHTTPHandler, error) {
	switch h := spec.(type) {
	case string:
		export, err := r.deps.Modules.Export(h)
		if err != nil {
			return nil, err
		}
		return r.exportHandler(path, export)
	case map[string]interface{}:
		cfg, err := ConfigFromMap(path+".handler", h)
		if err != nil {
			return nil, err
		}
		return r.inlineHandler(ctx, path, cfg)
	case *types.ResourceConfig:
		return r.inlineHandler(ctx, path, h)
	case types.FastHTTPHandler:
		return h, nil
	case func(*fasthttp.RequestCtx):
		return h, nil
	}
	return nil, &types.InvalidManifestEntryError{Path: path, Reason: "unsupported handler"}
}

func (r *Registry) inlineHandler(ctx context.Context, path string, cfg *types.ResourceConfig) (types.FastHTTPHandler, error) {
	if err := r.Validate(path+".handler", cfg); err != nil {
		return nil, err
	}

	res, err := r.Build(path+".handler", cfg)
	if err != nil {
		return nil, err
	}
	value, err := res.Load(ctx)
	if err != nil {
		return nil, err
	}
	return r.exportHandler(path, value)
}

func (r *Registry) exportHandler(path string, value interface{}) (types.FastHTTPHandler, error) {
	switch h := value.(type) {
	case types.FastHTTPHandler:
		return h, nil
	case func(*fasthttp.RequestCtx):
		return h, nil
	case types.Servable:
		return h.Handle, nil
	}

	method, ok := asMethod(value)
	if !ok {
		return nil, &types.InvalidManifestEntryError{Path: path, Reason: "handler is not servable"}
	}

	return func(ctx *fasthttp.RequestCtx) {
		result, err := method(ctx, ctx)
		if err != nil {
			r.logger.Warn("Route handler failed", zap.String("route", path), zap.Error(err))
			utils.WriteError(ctx, fasthttp.StatusInternalServerError, err.Error())
			return
		}
		switch body := result.(type) {
		case nil:
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		case string:
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString(body)
		case []byte:
			ctx.SetBody(body)
		default:
			utils.WriteJSON(ctx, fasthttp.StatusOK, body)
		}
	}, nil
}
