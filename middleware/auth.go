package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// AuthConfig selects the credential check. The token provider accepts any
// of Tokens via "Authorization: Bearer" or X-API-Key; the basic provider
// checks Users against HTTP basic credentials.
type AuthConfig struct {
	Provider string            `json:"provider"`
	Tokens   []string          `json:"tokens"`
	Users    map[string]string `json:"users"`
	Realm    string            `json:"realm"`
}

type AuthMiddleware struct {
	logger     types.Logger
	failures   types.Counter
	authConfig *AuthConfig
	weight     int
}

func NewAuthMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *AuthMiddleware {
	authConfig := &AuthConfig{
		Provider: "token",
		Realm:    "Protected Area",
	}
	decodeParams(item, authConfig, logger, "auth")

	return &AuthMiddleware{
		logger:     logger,
		failures:   metrics.Counter("http_auth_failures_total", nil),
		authConfig: authConfig,
		weight:     weightOf(item, 60),
	}
}

func (a *AuthMiddleware) Name() string { return "auth" }
func (a *AuthMiddleware) Weight() int  { return a.weight }

func (a *AuthMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if ctx.IsOptions() {
		next(ctx)
		return
	}

	var err error
	switch a.authConfig.Provider {
	case "basic":
		err = a.checkBasic(ctx)
	default:
		err = a.checkToken(ctx)
	}

	if err == nil {
		next(ctx)
		return
	}

	a.failures.Inc()
	a.logger.Warn("Authentication failed",
		zap.ByteString("path", ctx.Path()),
		zap.String("provider", a.authConfig.Provider),
		zap.Error(err))

	if a.authConfig.Provider == "basic" {
		ctx.Response.Header.Set("WWW-Authenticate", `Basic realm="`+a.authConfig.Realm+`"`)
	}
	utils.CreateUnauthorizedResponse(ctx)
}

func (a *AuthMiddleware) checkToken(ctx *fasthttp.RequestCtx) error {
	token := string(ctx.Request.Header.Peek("X-API-Key"))
	if token == "" {
		header := string(ctx.Request.Header.Peek("Authorization"))
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}

	if token == "" {
		return types.Errorf(types.ErrAuthTokenInvalid, "no token presented")
	}

	for _, allowed := range a.authConfig.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			ctx.SetUserValue("auth_type", "token")
			return nil
		}
	}

	return types.ErrAuthTokenInvalid
}

func (a *AuthMiddleware) checkBasic(ctx *fasthttp.RequestCtx) error {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(header, "Basic ") {
		return types.Errorf(types.ErrAuthTokenInvalid, "basic credentials required")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return types.Errorf(types.ErrAuthTokenInvalid, "invalid encoding")
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return types.Errorf(types.ErrAuthTokenInvalid, "invalid format")
	}

	expected, exists := a.authConfig.Users[username]
	if !exists || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return types.ErrAuthTokenInvalid
	}

	ctx.SetUserValue("authenticated_user", username)
	ctx.SetUserValue("auth_type", "basic")
	return nil
}
