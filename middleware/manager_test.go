package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/config"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/types"
)

type traceMiddleware struct {
	name   string
	weight int
	trace  *[]string
}

func (t *traceMiddleware) Name() string { return t.name }
func (t *traceMiddleware) Weight() int  { return t.weight }

func (t *traceMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	*t.trace = append(*t.trace, t.name)
	next(ctx)
}

func newRequest(method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return ctx
}

func newTestManager(t *testing.T) (*Manager, *[]string) {
	t.Helper()

	trace := &[]string{}
	m := NewManager(context.Background(), nil, logger.NewNop(), nil, nil)
	require.NoError(t, m.Register(&traceMiddleware{name: "b", weight: 20, trace: trace}, true))
	require.NoError(t, m.Register(&traceMiddleware{name: "a", weight: 10, trace: trace}, true))
	require.NoError(t, m.Register(&traceMiddleware{name: "c", weight: 20, trace: trace}, false))
	return m, trace
}

func TestManagerExecuteOrdersByWeightThenName(t *testing.T) {
	m, trace := newTestManager(t)

	handled := false
	m.Execute(newRequest("GET", "/"), func(*fasthttp.RequestCtx) { handled = true }, &types.RouteConfig{
		Middlewares: []string{"c"},
	})

	assert.True(t, handled)
	assert.Equal(t, []string{"a", "b", "c"}, *trace)
}

func TestManagerExecuteDisablesGlobal(t *testing.T) {
	m, trace := newTestManager(t)

	m.Execute(newRequest("GET", "/"), func(*fasthttp.RequestCtx) {}, &types.RouteConfig{
		DisabledMiddlewares: []string{"a"},
	})
	assert.Equal(t, []string{"b"}, *trace)

	*trace = nil
	m.Execute(newRequest("GET", "/"), func(*fasthttp.RequestCtx) {}, nil)
	assert.Equal(t, []string{"a", "b"}, *trace)
}

func TestManagerWrap(t *testing.T) {
	m, trace := newTestManager(t)

	wrapped, err := m.Wrap(func(*fasthttp.RequestCtx) {}, "c")
	require.NoError(t, err)
	wrapped(newRequest("GET", "/"))
	assert.Equal(t, []string{"c"}, *trace)

	_, err = m.Wrap(func(*fasthttp.RequestCtx) {}, "c", "missing")
	assert.ErrorIs(t, err, types.ErrMiddlewareNotFound)

	_, err = m.Wrap(nil, "c")
	assert.ErrorIs(t, err, types.ErrHandlerIsNil)
}

func TestManagerRegisterRejectsDuplicates(t *testing.T) {
	m, trace := newTestManager(t)

	err := m.Register(&traceMiddleware{name: "a", trace: trace}, false)
	assert.ErrorIs(t, err, types.ErrMiddlewareInvalidType)
	assert.True(t, m.Has("a"))
	assert.False(t, m.Has("zzz"))
}

func TestManagerRegisterMiddlewaresFromConfig(t *testing.T) {
	cfg, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Middlewares: &types.MiddlewaresConfig{
			Enabled:  true,
			Recovery: &types.MiddlewareItemConfig{Enabled: true, Global: true},
			Logging:  &types.MiddlewareItemConfig{Enabled: true, Global: true},
			Auth: &types.MiddlewareItemConfig{Enabled: true, Params: map[string]interface{}{
				"tokens": []interface{}{"secret"},
			}},
		},
	})
	require.NoError(t, err)

	m := NewManager(context.Background(), cfg, logger.NewNop(), nil, nil)
	require.NoError(t, m.RegisterMiddlewares())
	defer m.Stop()

	assert.True(t, m.Has("recovery"))
	assert.True(t, m.Has("logging"))
	assert.True(t, m.Has("auth"))
	assert.False(t, m.Has("cors"))

	ctx := newRequest("GET", "/")
	m.Execute(ctx, func(*fasthttp.RequestCtx) { panic("boom") }, nil)
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Header.Peek(RequestIDHeader))

	ctx = newRequest("GET", "/")
	m.Execute(ctx, func(c *fasthttp.RequestCtx) { c.SetStatusCode(fasthttp.StatusOK) }, &types.RouteConfig{
		Middlewares: []string{"auth"},
	})
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}
