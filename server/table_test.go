package server

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/fetch"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/resource"
	"github.com/saiset-co/sai-fx/types"
)

func newSiteRegistry(t *testing.T) *resource.Registry {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/public/index.html", []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/site/public/app.js", []byte("run()"), 0o644))

	log := logger.NewNop()
	registry := resource.NewRegistry(&resource.Deps{
		Fetcher: fetch.NewFetcher(fs, &types.FetchConfig{Root: "/site"}, nil, log),
	}, log)

	registry.Deps().Modules.Register("users", map[string]interface{}{
		"show": func(ctx *fasthttp.RequestCtx) {
			ctx.SetBodyString("user " + ctx.UserValue("id").(string))
		},
		"list": func(args ...interface{}) interface{} {
			return []string{"ann", "bob"}
		},
	})
	return registry
}

func TestMountRouteTable(t *testing.T) {
	registry := newSiteRegistry(t)
	router := NewRouter(nil)

	err := Mount(context.Background(), router, registry, map[string]interface{}{
		"/users":     map[string]interface{}{"handler": "users.list", "methods": []interface{}{"get"}},
		"/users/:id": "users.show",
		"/static/*filename": map[string]interface{}{
			"type": "static",
			"dir":  "public",
		},
	}, logger.NewNop())
	require.NoError(t, err)

	ctx := serve(router, "GET", "/users")
	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.JSONEq(t, `["ann","bob"]`, string(ctx.Response.Body()))

	assert.Equal(t, 405, serve(router, "POST", "/users").Response.StatusCode())
	assert.Equal(t, "user 7", string(serve(router, "GET", "/users/7").Response.Body()))
	assert.Equal(t, "run()", string(serve(router, "GET", "/static/app.js").Response.Body()))
	assert.Equal(t, "<h1>home</h1>", string(serve(router, "GET", "/static/").Response.Body()))
	assert.Equal(t, 404, serve(router, "GET", "/static/nope.css").Response.StatusCode())
	assert.Equal(t, 404, serve(router, "GET", "/elsewhere").Response.StatusCode())

	_, ok := registry.Lookup(RouteKey("/users/:id"))
	assert.True(t, ok)
}

func TestMountReportsBadEntriesAndKeepsOthers(t *testing.T) {
	registry := newSiteRegistry(t)
	router := NewRouter(nil)

	err := Mount(context.Background(), router, registry, map[string]interface{}{
		"/ok":      "users.list",
		"/missing": "nobody.here",
		"/bad":     42,
		"/data":    map[string]interface{}{"type": "raw", "path": "public/app.js"},
	}, logger.NewNop())

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrModuleNotFound)
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)
	assert.ErrorIs(t, err, types.ErrHandlerIsNil)

	assert.Equal(t, 200, serve(router, "GET", "/ok").Response.StatusCode())
	assert.Equal(t, 404, serve(router, "GET", "/missing").Response.StatusCode())
}
