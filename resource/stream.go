package resource

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// Stream serves server-sent events. With an upstream websocket URL every
// upstream message becomes one event; otherwise a tick event is emitted
// every interval. A positive limit ends the stream after that many events.
type Stream struct {
	event    string
	interval time.Duration
	limit    int
	upstream string
	dialer   *websocket.Dialer
	logger   types.Logger
}

var _ types.Servable = (*Stream)(nil)

func newStreamResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(context.Context) (interface{}, error) {
		interval := time.Second
		if raw := cfg.StringParam("interval", ""); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				return nil, &types.InvalidManifestEntryError{Path: path, Reason: "bad interval " + raw}
			}
			interval = parsed
		}

		return &Stream{
			event:    cfg.StringParam("event", "message"),
			interval: interval,
			limit:    intParam(cfg, "limit"),
			upstream: cfg.StringParam("upstream", ""),
			dialer:   websocket.DefaultDialer,
			logger:   deps.Logger,
		}, nil
	})
}

func (s *Stream) Handle(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := s.WriteTo(context.Background(), w); err != nil && s.logger != nil {
			s.logger.Debug("Stream closed", zap.Error(err))
		}
	})
}

// WriteTo writes events to w until the limit, ctx is done, the upstream
// closes, or a flush fails because the client went away.
func (s *Stream) WriteTo(ctx context.Context, w *bufio.Writer) error {
	if s.upstream != "" {
		return s.relay(ctx, w)
	}
	return s.tick(ctx, w)
}

func (s *Stream) tick(ctx context.Context, w *bufio.Writer) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for sent := 0; s.limit <= 0 || sent < s.limit; sent++ {
		payload, err := utils.Marshal(map[string]interface{}{
			"seq":  sent,
			"time": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
		if err := writeEvent(w, s.event, sent, payload); err != nil {
			return err
		}

		if s.limit > 0 && sent+1 >= s.limit {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Stream) relay(ctx context.Context, w *bufio.Writer) error {
	conn, _, err := s.dialer.DialContext(ctx, s.upstream, nil)
	if err != nil {
		return types.Errorf(types.ErrFetchFailed, "dial %s: %v", s.upstream, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for sent := 0; s.limit <= 0 || sent < s.limit; sent++ {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := writeEvent(w, s.event, sent, message); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w *bufio.Writer, event string, id int, data []byte) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", id, event); err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func intParam(cfg *types.ResourceConfig, name string) int {
	v, ok := cfg.Param(name)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
