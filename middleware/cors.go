package middleware

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// CORSMiddleware answers preflight requests itself and decorates the rest.
// Origins are matched exactly, or by host suffix for "*.domain" entries.
type CORSMiddleware struct {
	logger  types.Logger
	blocked types.Counter
	weight  int

	any         bool
	credentials bool
	origins     map[string]struct{}
	suffixes    []string

	methods string
	headers string
	exposed string
	maxAge  string
}

func NewCORSMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CORSMiddleware {
	cfg := &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID", "X-Signature"},
		MaxAge:         86400,
	}
	decodeParams(item, cfg, logger, "cors")

	c := &CORSMiddleware{
		logger:      logger,
		blocked:     metrics.Counter("http_cors_blocked_total", nil),
		weight:      weightOf(item, 30),
		credentials: cfg.AllowCredentials,
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		methods:     strings.Join(cfg.AllowedMethods, ", "),
		headers:     strings.Join(cfg.AllowedHeaders, ", "),
		exposed:     strings.Join(cfg.ExposedHeaders, ", "),
		maxAge:      strconv.Itoa(cfg.MaxAge),
	}

	for _, origin := range cfg.AllowedOrigins {
		switch {
		case origin == "*":
			c.any = true
		case strings.HasPrefix(origin, "*."):
			c.suffixes = append(c.suffixes, origin[1:])
		default:
			c.origins[origin] = struct{}{}
		}
	}

	return c
}

func (c *CORSMiddleware) Name() string { return "cors" }
func (c *CORSMiddleware) Weight() int  { return c.weight }

func (c *CORSMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		next(ctx)
		return
	}

	if !c.allowed(origin) {
		c.logger.Warn("CORS request blocked",
			zap.String("origin", origin),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()))
		c.blocked.Inc()
		utils.WriteError(ctx, fasthttp.StatusForbidden, "Origin not allowed")
		return
	}

	header := &ctx.Response.Header
	if c.any && !c.credentials {
		header.Set("Access-Control-Allow-Origin", "*")
	} else {
		header.Set("Access-Control-Allow-Origin", origin)
	}
	if c.credentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}

	if ctx.IsOptions() {
		header.Set("Access-Control-Allow-Methods", c.methods)
		header.Set("Access-Control-Allow-Headers", c.headers)
		header.Set("Access-Control-Max-Age", c.maxAge)
		header.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		ctx.ResetBody()
		return
	}

	if c.exposed != "" {
		header.Set("Access-Control-Expose-Headers", c.exposed)
	}
	header.Add("Vary", "Origin")
	next(ctx)
}

func (c *CORSMiddleware) allowed(origin string) bool {
	if c.any {
		return true
	}
	if _, ok := c.origins[origin]; ok {
		return true
	}

	host := originHost(origin)
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(host, suffix) || host == suffix[1:] {
			return true
		}
	}
	return false
}

// originHost strips scheme and port from an Origin header value.
func originHost(origin string) string {
	if i := strings.Index(origin, "://"); i >= 0 {
		origin = origin[i+3:]
	}
	if i := strings.LastIndexByte(origin, ':'); i >= 0 {
		origin = origin[:i]
	}
	return origin
}
