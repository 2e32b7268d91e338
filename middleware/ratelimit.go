package middleware

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

const shardCount = 64

type RateLimitConfig struct {
	RequestsPerWindow int64  `json:"requests_per_window"`
	Window            string `json:"window"`
	CleanupInterval   string `json:"cleanup_interval"`
}

type rateWindow struct {
	start int64
	count int64
}

type rateShard struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
}

// RateLimitMiddleware allows RequestsPerWindow requests per client address
// in each fixed window and answers 429 beyond that.
type RateLimitMiddleware struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	rejected        types.Counter
	rateLimitConfig *RateLimitConfig
	window          time.Duration
	weight          int
	shards          [shardCount]*rateShard
	now             func() time.Time
	stopped         int32
	workerGroup     sync.WaitGroup
}

func NewRateLimitMiddleware(ctx context.Context, item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	rateLimitConfig := &RateLimitConfig{
		RequestsPerWindow: 100,
		Window:            "1m",
		CleanupInterval:   "5m",
	}
	decodeParams(item, rateLimitConfig, logger, "rate_limit")

	rlCtx, cancel := context.WithCancel(ctx)

	rl := &RateLimitMiddleware{
		ctx:             rlCtx,
		cancel:          cancel,
		logger:          logger,
		rejected:        metrics.Counter("http_rate_limited_total", nil),
		rateLimitConfig: rateLimitConfig,
		window:          utils.ParseDuration(rateLimitConfig.Window, time.Minute),
		weight:          weightOf(item, 40),
		now:             time.Now,
	}

	for i := range rl.shards {
		rl.shards[i] = &rateShard{clients: make(map[string]*rateWindow)}
	}

	if interval := utils.ParseDuration(rateLimitConfig.CleanupInterval, 0); interval > 0 {
		rl.workerGroup.Add(1)
		go rl.cleanupWorker(interval)
	}

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	client := remoteAddr(ctx)

	remaining, ok := rl.allow(client)
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(rl.rateLimitConfig.RequestsPerWindow, 10))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if !ok {
		rl.rejected.Inc()
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.ByteString("path", ctx.Path()))

		ctx.Response.Header.Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
		utils.WriteError(ctx, fasthttp.StatusTooManyRequests, types.ErrRateLimitExceeded.Error())
		return
	}

	next(ctx)
}

func (rl *RateLimitMiddleware) allow(client string) (int64, bool) {
	limit := rl.rateLimitConfig.RequestsPerWindow
	if limit <= 0 {
		return 0, true
	}

	now := rl.now().UnixNano()
	shard := rl.shard(client)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, exists := shard.clients[client]
	if !exists || now-w.start >= int64(rl.window) {
		w = &rateWindow{start: now}
		shard.clients[client] = w
	}

	if w.count >= limit {
		return 0, false
	}

	w.count++
	return limit - w.count, true
}

func (rl *RateLimitMiddleware) shard(client string) *rateShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(client))
	return rl.shards[h.Sum32()%shardCount]
}

func (rl *RateLimitMiddleware) cleanupWorker(interval time.Duration) {
	defer rl.workerGroup.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops clients whose window has ended.
func (rl *RateLimitMiddleware) cleanup() int {
	now := rl.now().UnixNano()
	removed := 0

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, w := range shard.clients {
			if now-w.start >= int64(rl.window) {
				delete(shard.clients, client)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		rl.logger.Debug("Rate limit windows cleaned", zap.Int("removed", removed))
	}
	return removed
}

func (rl *RateLimitMiddleware) Stop() error {
	if !atomic.CompareAndSwapInt32(&rl.stopped, 0, 1) {
		return nil
	}

	rl.cancel()
	rl.workerGroup.Wait()
	return nil
}
