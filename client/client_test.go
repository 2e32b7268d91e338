package client

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-fx/logger"
	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

func startUpstream(t *testing.T, handler fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown() })

	return ln
}

func newTestManager(t *testing.T, ln *fasthttputil.InmemoryListener, cfg *types.ClientConfig) (*Manager, *metrics.MemoryMetrics) {
	t.Helper()

	if cfg == nil {
		cfg = &types.ClientConfig{DefaultTimeout: time.Second}
	}

	m := metrics.NewMemoryMetrics(logger.NewNop(), nil)
	c := New(t.Context(), cfg, logger.NewNop(), m,
		WithDialer(func(string) (net.Conn, error) { return ln.Dial() }),
		WithBackoff(func(int) time.Duration { return time.Millisecond }),
	)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	return c, m
}

func TestDoReturnsResponse(t *testing.T) {
	ln := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "POST", string(ctx.Method()))
		assert.Equal(t, "token", string(ctx.Request.Header.Peek("X-Token")))
		ctx.SetContentType("application/json")
		ctx.SetBody(ctx.PostBody())
	})
	c, m := newTestManager(t, ln, nil)

	resp, err := c.Do(t.Context(), "POST", "http://upstream.test/echo", []byte(`{"a":1}`), &types.CallOptions{
		Headers: map[string]string{"X-Token": "token"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"a":1}`, string(resp.Body))
	assert.Equal(t, 1.0, m.Counter("http_client_requests_total", map[string]string{
		"host": "upstream.test", "method": "POST", "status": "success",
	}).Get())
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	var hits int32
	ln := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&hits, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString("ok")
	})
	c, _ := newTestManager(t, ln, nil)

	resp, err := c.Do(t.Context(), "GET", "http://upstream.test/", nil, &types.CallOptions{Retry: 3})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	ln := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&hits, 1)
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})
	c, _ := newTestManager(t, ln, nil)

	resp, err := c.Do(t.Context(), "GET", "http://upstream.test/missing", nil, &types.CallOptions{Retry: 3})
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDoOpensBreaker(t *testing.T) {
	ln := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})
	c, _ := newTestManager(t, ln, &types.ClientConfig{
		DefaultTimeout: time.Second,
		CircuitBreaker: &types.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
			HalfOpenRequests: 1,
		},
	})

	for i := 0; i < 2; i++ {
		_, err := c.Do(t.Context(), "GET", "http://upstream.test/", nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, BreakerOpen, c.BreakerState("upstream.test"))

	_, err := c.Do(t.Context(), "GET", "http://upstream.test/", nil, nil)
	assert.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
}

func TestDoRejectsWhenStopped(t *testing.T) {
	c := New(t.Context(), &types.ClientConfig{}, logger.NewNop(), nil)
	_, err := c.Do(t.Context(), "GET", "http://upstream.test/", nil, nil)
	assert.ErrorIs(t, err, types.ErrClientNotRunning)
}

func TestDoRejectsRelativeURL(t *testing.T) {
	ln := startUpstream(t, func(*fasthttp.RequestCtx) {})
	c, _ := newTestManager(t, ln, nil)

	_, err := c.Do(t.Context(), "GET", "/relative", nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenRequests: 2,
	}, logger.NewNop(), "h")
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())

	now = now.Add(time.Minute)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(nil, logger.NewNop(), "h")
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.CanExecute())
}
