package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

const SignatureHeader = "X-Signature"

type SignatureConfig struct {
	Secret string `json:"secret"`
	Header string `json:"header"`
}

// SignatureMiddleware verifies a hex HMAC-SHA256 of the request body.
type SignatureMiddleware struct {
	logger          types.Logger
	failures        types.Counter
	signatureConfig *SignatureConfig
	weight          int
}

func NewSignatureMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *SignatureMiddleware {
	signatureConfig := &SignatureConfig{Header: SignatureHeader}
	decodeParams(item, signatureConfig, logger, "signature")

	return &SignatureMiddleware{
		logger:          logger,
		failures:        metrics.Counter("http_signature_failures_total", nil),
		signatureConfig: signatureConfig,
		weight:          weightOf(item, 70),
	}
}

func (s *SignatureMiddleware) Name() string { return "signature" }
func (s *SignatureMiddleware) Weight() int  { return s.weight }

func (s *SignatureMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if err := s.verify(ctx.Request.Header.Peek(s.signatureConfig.Header), ctx.PostBody()); err != nil {
		s.failures.Inc()
		s.logger.Warn("Signature verification failed",
			zap.ByteString("path", ctx.Path()),
			zap.Error(err))
		utils.WriteError(ctx, fasthttp.StatusUnauthorized, err.Error())
		return
	}

	next(ctx)
}

func (s *SignatureMiddleware) verify(signature, body []byte) error {
	if s.signatureConfig.Secret == "" {
		return types.Errorf(types.ErrSignatureInvalid, "no secret configured")
	}
	if len(signature) == 0 {
		return types.Errorf(types.ErrSignatureInvalid, "missing %s header", s.signatureConfig.Header)
	}

	got, err := hex.DecodeString(string(signature))
	if err != nil {
		return types.Errorf(types.ErrSignatureInvalid, "signature is not hex")
	}

	if !hmac.Equal(got, Sign([]byte(s.signatureConfig.Secret), body)) {
		return types.ErrSignatureInvalid
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
