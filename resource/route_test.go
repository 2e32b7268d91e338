package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/types"
)

type headerMiddlewares struct {
	known map[string]bool
}

func (m *headerMiddlewares) RegisterMiddlewares() error            { return nil }
func (m *headerMiddlewares) Register(types.Middleware, bool) error { return nil }
func (m *headerMiddlewares) Has(name string) bool                  { return m.known[name] }

func (m *headerMiddlewares) Execute(ctx *fasthttp.RequestCtx, h func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	h(ctx)
}

func (m *headerMiddlewares) Wrap(handler func(*fasthttp.RequestCtx), names ...string) (func(*fasthttp.RequestCtx), error) {
	for _, name := range names {
		if !m.known[name] {
			return nil, types.ErrMiddlewareNotFound
		}
	}
	return func(ctx *fasthttp.RequestCtx) {
		for _, name := range names {
			ctx.Response.Header.Add("X-Middleware", name)
		}
		handler(ctx)
	}, nil
}

func request(method string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	return ctx
}

func TestRouteModuleHandler(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.Deps().Modules.Register("users", map[string]interface{}{
		"list": types.Method(func(_ context.Context, args ...interface{}) (interface{}, error) {
			ctx := args[0].(*fasthttp.RequestCtx)
			return map[string]interface{}{"method": string(ctx.Method())}, nil
		}),
		"raw": func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("raw") },
	})

	define(t, r, "routes.users", &types.ResourceConfig{
		Type: types.ResourceRoute, Handler: "users.list", Methods: []string{"get", "head"},
	})
	define(t, r, "routes.raw", &types.ResourceConfig{Type: types.ResourceRoute, Handler: "users.raw"})

	route := load(t, r, "routes.users").(*Route)

	ctx := request(fasthttp.MethodGet)
	route.Handle(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"method":"GET"}`, string(ctx.Response.Body()))

	ctx = request(fasthttp.MethodPost)
	route.Handle(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = request(fasthttp.MethodDelete)
	load(t, r, "routes.raw").(*Route).Handle(ctx)
	assert.Equal(t, "raw", string(ctx.Response.Body()))
}

func TestRouteInlineServable(t *testing.T) {
	r, _ := newTestRegistry(t, map[string]string{"public/a.txt": "file a"})
	define(t, r, "routes.files", &types.ResourceConfig{
		Type:    types.ResourceRoute,
		Handler: map[string]interface{}{"type": "static", "dir": "public"},
	})

	ctx := request(fasthttp.MethodGet)
	ctx.SetUserValue("filename", "a.txt")
	load(t, r, "routes.files").(*Route).Handle(ctx)

	assert.Equal(t, "file a", string(ctx.Response.Body()))
}

func TestRouteMiddleware(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.Deps().Middlewares = &headerMiddlewares{known: map[string]bool{"auth": true}}
	r.Deps().Modules.Register("h", map[string]interface{}{
		"ok": func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("ok") },
	})

	define(t, r, "guarded", &types.ResourceConfig{Type: types.ResourceRoute, Handler: "h.ok", Middleware: []string{"auth"}})
	define(t, r, "broken", &types.ResourceConfig{Type: types.ResourceRoute, Handler: "h.ok", Middleware: []string{"nope"}})

	ctx := request(fasthttp.MethodGet)
	load(t, r, "guarded").(*Route).Handle(ctx)
	assert.Equal(t, "auth", string(ctx.Response.Header.Peek("X-Middleware")))
	assert.Equal(t, "ok", string(ctx.Response.Body()))

	res, err := r.Resolve("broken")
	require.NoError(t, err)
	_, err = res.Load(t.Context())
	assert.ErrorIs(t, err, types.ErrMiddlewareNotFound)
}

func TestRouteHandlerErrors(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.Deps().Modules.Register("m", map[string]interface{}{
		"value": 42,
		"fails": types.Method(func(context.Context, ...interface{}) (interface{}, error) {
			return nil, types.ErrNotSupported
		}),
	})

	define(t, r, "notServable", &types.ResourceConfig{Type: types.ResourceRoute, Handler: "m.value"})
	define(t, r, "badInline", &types.ResourceConfig{Type: types.ResourceRoute, Handler: map[string]interface{}{"type": "json"}})
	define(t, r, "fails", &types.ResourceConfig{Type: types.ResourceRoute, Handler: "m.fails"})

	for _, path := range []string{"notServable", "badInline"} {
		res, err := r.Resolve(path)
		require.NoError(t, err)
		_, err = res.Load(t.Context())
		assert.ErrorIs(t, err, types.ErrInvalidManifestEntry, path)
	}

	ctx := request(fasthttp.MethodGet)
	load(t, r, "fails").(*Route).Handle(ctx)
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}
