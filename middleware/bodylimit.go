package middleware

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

type BodyLimitMiddleware struct {
	logger          types.Logger
	rejected        types.Counter
	bodyLimitConfig *BodyLimitConfig
	weight          int
	message         string
}

func NewBodyLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *BodyLimitMiddleware {
	bodyLimitConfig := &BodyLimitConfig{MaxBodySize: 1024 * 1024}
	decodeParams(item, bodyLimitConfig, logger, "body_limit")

	return &BodyLimitMiddleware{
		logger:          logger,
		rejected:        metrics.Counter("http_body_too_large_total", nil),
		bodyLimitConfig: bodyLimitConfig,
		weight:          weightOf(item, 50),
		message:         "Request body exceeds maximum size of " + strconv.FormatInt(bodyLimitConfig.MaxBodySize, 10) + " bytes",
	}
}

func (bl *BodyLimitMiddleware) Name() string { return "body_limit" }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if ctx.IsGet() || ctx.IsHead() || ctx.IsOptions() {
		next(ctx)
		return
	}

	size := int64(ctx.Request.Header.ContentLength())
	if size <= 0 {
		size = int64(len(ctx.PostBody()))
	}

	if size > bl.bodyLimitConfig.MaxBodySize {
		bl.rejected.Inc()
		bl.logger.Warn("Request body too large",
			zap.ByteString("path", ctx.Path()),
			zap.Int64("size", size),
			zap.Int64("max_size", bl.bodyLimitConfig.MaxBodySize))

		ctx.SetConnectionClose()
		utils.WriteError(ctx, fasthttp.StatusRequestEntityTooLarge, bl.message)
		return
	}

	next(ctx)
}
