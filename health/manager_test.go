package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-fx/config"
	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/server"
	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type fakeComponent struct{ running bool }

func (f *fakeComponent) Start() error    { return nil }
func (f *fakeComponent) Stop() error     { return nil }
func (f *fakeComponent) IsRunning() bool { return f.running }

func newTestManager(t *testing.T) (*Manager, *server.Router) {
	t.Helper()

	cfg, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{Name: "fx", Version: "1.2.3"})
	require.NoError(t, err)

	router := server.NewRouter(nil)
	hm := NewManager(context.Background(), cfg, logger.NewNop(), router)
	require.NoError(t, hm.Start())
	t.Cleanup(func() { _ = hm.Stop() })
	return hm, router
}

func serve(t *testing.T, router *server.Router) *fasthttp.HostClient {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: fasthttp.RequestHandler(router.Handler())}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return &fasthttp.HostClient{
		Addr: "health.test",
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
}

func get(t *testing.T, client *fasthttp.HostClient, uri string) (int, []byte) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("http://health.test" + uri)
	require.NoError(t, client.Do(req, resp))

	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func TestHealthReportAggregates(t *testing.T) {
	hm, _ := newTestManager(t)

	hm.RegisterChecker("cache", LifecycleChecker(&fakeComponent{running: true}))
	hm.RegisterChecker("queue", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := hm.Check(context.Background())
	assert.Equal(t, types.StatusUnknown, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.Equal(t, "cache", report.Checks["cache"].Name)
	assert.Equal(t, "fx", report.Service.Name)

	hm.RegisterChecker("store", LifecycleChecker(&fakeComponent{}))
	hm.RegisterChecker("boom", func(context.Context) types.HealthCheck { panic("bad") })

	report = hm.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Unhealthy)
	assert.Contains(t, report.Checks["boom"].Message, "panicked")
}

func TestHealthCheckTimeout(t *testing.T) {
	hm, _ := newTestManager(t)
	hm.checkTimeout = 20 * time.Millisecond

	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := hm.Check(context.Background())
	assert.Equal(t, "Health check timeout", report.Checks["slow"].Message)
}

func TestHealthRoutes(t *testing.T) {
	hm, router := newTestManager(t)
	hm.RegisterChecker("ok", LifecycleChecker(&fakeComponent{running: true}))
	client := serve(t, router)

	status, body := get(t, client, "/health")
	require.Equal(t, fasthttp.StatusOK, status)

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(body, &report))
	assert.Equal(t, types.StatusHealthy, report.Status)

	_, body = get(t, client, "/version")
	assert.Contains(t, string(body), `"1.2.3"`)

	hm.RegisterChecker("down", LifecycleChecker(&fakeComponent{}))
	status, _ = get(t, client, "/health")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
}

func TestHealthRouteCheckersSeeLiveContext(t *testing.T) {
	hm, router := newTestManager(t)
	hm.RegisterChecker("ctx", func(ctx context.Context) types.HealthCheck {
		if _, ok := ctx.Deadline(); !ok || ctx.Err() != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "no deadline"}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	status, body := get(t, serve(t, router), "/health")
	require.Equal(t, fasthttp.StatusOK, status, string(body))

	_ = hm.Stop()
	status, _ = get(t, serve(t, router), "/health")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
}
