package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type CacheConfig struct {
	DefaultTTL string `json:"default_ttl"`
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// decodeCachedResponse accepts the stored pointer from in-process backends
// and the JSON forms that serializing backends such as redis hand back.
func decodeCachedResponse(raw interface{}) (*cachedResponse, bool) {
	resp := &cachedResponse{}
	switch v := raw.(type) {
	case *cachedResponse:
		return v, true
	case []byte:
		if err := utils.Unmarshal(v, resp); err != nil {
			return nil, false
		}
	case string:
		if err := utils.Unmarshal([]byte(v), resp); err != nil {
			return nil, false
		}
	case map[string]interface{}:
		if err := utils.UnmarshalConfig(v, resp); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}
	return resp, resp.Status != 0
}

// CacheMiddleware stores successful GET responses in the cache backend.
// A route opts in through RouteConfig.Cache; global use caches every GET
// with the default ttl.
type CacheMiddleware struct {
	logger      types.Logger
	hits        types.Counter
	misses      types.Counter
	cache       types.CacheManager
	cacheConfig *CacheConfig
	defaultTTL  time.Duration
	weight      int
}

func NewCacheMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager) *CacheMiddleware {
	cacheConfig := &CacheConfig{DefaultTTL: "5m"}
	decodeParams(item, cacheConfig, logger, "cache")

	return &CacheMiddleware{
		logger:      logger,
		hits:        metrics.Counter("http_cache_hits_total", nil),
		misses:      metrics.Counter("http_cache_misses_total", nil),
		cache:       cache,
		cacheConfig: cacheConfig,
		defaultTTL:  utils.ParseDuration(cacheConfig.DefaultTTL, 5*time.Minute),
		weight:      weightOf(item, 80),
	}
}

func (c *CacheMiddleware) Name() string { return "cache" }
func (c *CacheMiddleware) Weight() int  { return c.weight }

func (c *CacheMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if c.cache == nil || !ctx.IsGet() {
		next(ctx)
		return
	}

	key := c.cacheKey(ctx)

	if cached, ok := c.cache.Get(key); ok {
		if resp, ok := decodeCachedResponse(cached); ok {
			c.hits.Inc()
			c.logger.Debug("Cache hit", zap.String("cache_key", key))

			ctx.SetStatusCode(resp.Status)
			ctx.SetContentType(resp.ContentType)
			ctx.SetBody(resp.Body)
			ctx.Response.Header.Set("X-Cache", "HIT")
			return
		}
	}

	c.misses.Inc()
	next(ctx)

	if !c.cacheable(ctx) {
		return
	}

	resp := &cachedResponse{
		Status:      ctx.Response.StatusCode(),
		ContentType: string(ctx.Response.Header.ContentType()),
		Body:        append([]byte(nil), ctx.Response.Body()...),
	}

	if err := c.cache.Set(key, resp, c.ttl(config)); err != nil {
		c.logger.Error("Failed to set cache",
			zap.String("cache_key", key),
			zap.Error(err))
		return
	}
	ctx.Response.Header.Set("X-Cache", "MISS")
}

func (c *CacheMiddleware) cacheable(ctx *fasthttp.RequestCtx) bool {
	status := ctx.Response.StatusCode()
	if status < 200 || status >= 300 || ctx.Response.IsBodyStream() {
		return false
	}

	cacheControl := strings.ToLower(string(ctx.Response.Header.Peek("Cache-Control")))
	return !strings.Contains(cacheControl, "no-cache") && !strings.Contains(cacheControl, "no-store")
}

func (c *CacheMiddleware) cacheKey(ctx *fasthttp.RequestCtx) string {
	return "http:" + string(ctx.Method()) + ":" + string(ctx.RequestURI())
}

func (c *CacheMiddleware) ttl(config *types.RouteConfig) time.Duration {
	if config != nil && config.Cache != nil && config.Cache.TTL > 0 {
		return config.Cache.TTL
	}
	return c.defaultTTL
}
