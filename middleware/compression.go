package middleware

import (
	"bytes"
	"compress/gzip"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

const (
	AlgorithmGzip    = "gzip"
	AlgorithmBrotli  = "br"
	DefaultLevel     = 6
	DefaultThreshold = 1024
)

type CompressionConfig struct {
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

// CompressionMiddleware encodes response bodies with brotli or gzip,
// preferring brotli when the client accepts both.
type CompressionMiddleware struct {
	logger            types.Logger
	compressed        types.Counter
	compressionConfig *CompressionConfig
	weight            int
	bufferPool        sync.Pool
}

func NewCompressionMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Level:     DefaultLevel,
		Threshold: DefaultThreshold,
		AllowedTypes: []string{
			"application/json",
			"application/xml",
			"application/javascript",
			"image/svg+xml",
			"text/*",
		},
	}
	decodeParams(item, compressionConfig, logger, "compression")

	if compressionConfig.Level < 0 || compressionConfig.Level > 9 {
		logger.Warn("Invalid compression level, using default", zap.Int("level", compressionConfig.Level))
		compressionConfig.Level = DefaultLevel
	}

	return &CompressionMiddleware{
		logger:            logger,
		compressed:        metrics.Counter("http_compressed_responses_total", nil),
		compressionConfig: compressionConfig,
		weight:            weightOf(item, 90),
		bufferPool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	next(ctx)

	algorithm := negotiate(string(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding)))
	if algorithm == "" || ctx.Response.IsBodyStream() {
		return
	}
	if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.Threshold || !c.allowed(string(ctx.Response.Header.ContentType())) {
		return
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := c.compress(buf, algorithm, body); err != nil {
		c.logger.Error("Compression failed",
			zap.String("algorithm", algorithm),
			zap.Error(err))
		return
	}

	if buf.Len() >= len(body) {
		return
	}

	c.compressed.Inc()
	ctx.Response.SetBody(buf.Bytes())
	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
}

func (c *CompressionMiddleware) compress(buf *bytes.Buffer, algorithm string, body []byte) error {
	switch algorithm {
	case AlgorithmBrotli:
		w := brotli.NewWriterLevel(buf, c.compressionConfig.Level)
		if _, err := w.Write(body); err != nil {
			return err
		}
		return w.Close()
	default:
		w, err := gzip.NewWriterLevel(buf, c.compressionConfig.Level)
		if err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
		return w.Close()
	}
}

func (c *CompressionMiddleware) allowed(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(contentType, prefix) {
				return true
			}
			continue
		}
		if contentType == allowed {
			return true
		}
	}
	return false
}

func negotiate(acceptEncoding string) string {
	var gzipOK bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.Contains(strings.ReplaceAll(params, " ", ""), "q=0") && !strings.Contains(params, "q=0.") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case AlgorithmBrotli:
			return AlgorithmBrotli
		case AlgorithmGzip:
			gzipOK = true
		}
	}
	if gzipOK {
		return AlgorithmGzip
	}
	return ""
}
