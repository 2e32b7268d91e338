package resource

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/types"
)

func TestStreamTicksUntilLimit(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	define(t, r, "events", &types.ResourceConfig{
		Type:   types.ResourceStream,
		Params: map[string]interface{}{"interval": "1ms", "limit": 3, "event": "tick"},
	})

	stream := load(t, r, "events").(*Stream)

	var buf bytes.Buffer
	require.NoError(t, stream.WriteTo(t.Context(), bufio.NewWriter(&buf)))

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "event: tick\n"))
	assert.Contains(t, out, "id: 0\n")
	assert.Contains(t, out, "id: 2\n")
	assert.Contains(t, out, `data: {"seq":2,`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestStreamStopsOnCancel(t *testing.T) {
	stream := &Stream{event: "tick", interval: time.Hour}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var buf bytes.Buffer
	err := stream.WriteTo(ctx, bufio.NewWriter(&buf))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, strings.Count(buf.String(), "event: tick\n"))
}

func TestStreamRejectsBadInterval(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	define(t, r, "events", &types.ResourceConfig{
		Type:   types.ResourceStream,
		Params: map[string]interface{}{"interval": "soon"},
	})

	res, err := r.Resolve("events")
	require.NoError(t, err)
	_, err = res.Load(t.Context())
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)
}

func TestStreamRelaysUpstreamWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range []string{"alpha", "beta\ngamma"} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	stream := &Stream{
		event:    "relay",
		upstream: "ws" + strings.TrimPrefix(srv.URL, "http"),
		dialer:   websocket.DefaultDialer,
	}

	var buf bytes.Buffer
	require.NoError(t, stream.WriteTo(t.Context(), bufio.NewWriter(&buf)))

	out := buf.String()
	assert.Contains(t, out, "id: 0\nevent: relay\ndata: alpha\n\n")
	assert.Contains(t, out, "id: 1\nevent: relay\ndata: beta\ndata: gamma\n\n")
}

func TestStreamUpstreamDialFailure(t *testing.T) {
	stream := &Stream{event: "relay", upstream: "ws://127.0.0.1:1", dialer: websocket.DefaultDialer}

	var buf bytes.Buffer
	err := stream.WriteTo(t.Context(), bufio.NewWriter(&buf))
	assert.ErrorIs(t, err, types.ErrFetchFailed)
}

func TestStreamHandleSetsEventStream(t *testing.T) {
	stream := &Stream{event: "tick", interval: time.Millisecond, limit: 1}

	ctx := &fasthttp.RequestCtx{}
	stream.Handle(ctx)

	assert.Equal(t, "text/event-stream", string(ctx.Response.Header.ContentType()))
	assert.True(t, ctx.Response.IsBodyStream())
}
