package utils

import (
	"github.com/valyala/fasthttp"
)

func setNoCache(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")

	if requestID := ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
		ctx.Response.Header.SetBytesV("X-Request-ID", requestID)
	}
}

// WriteError writes a JSON error body with the given status.
func WriteError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	setNoCache(ctx)

	body, err := Marshal(map[string]string{
		"error":   fasthttp.StatusMessage(statusCode),
		"message": message,
	})
	if err != nil {
		ctx.SetBodyString(`{"error":"Internal Server Error"}`)
		return
	}
	ctx.SetBody(body)
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	WriteError(ctx, fasthttp.StatusInternalServerError, "An unexpected error occurred")
}

func CreateUnauthorizedResponse(ctx *fasthttp.RequestCtx) {
	WriteError(ctx, fasthttp.StatusUnauthorized, "Authentication required")
}

func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, data interface{}) {
	body, err := Marshal(data)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
