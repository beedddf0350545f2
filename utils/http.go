package utils

import (
	"github.com/valyala/fasthttp"
)

func WriteJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")

	data, err := Marshal(payload)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}

	ctx.SetBody(data)
}

func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	WriteJSON(ctx, fasthttp.StatusBadRequest, map[string]interface{}{
		"error":   "Bad Request",
		"message": message,
	})
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}

func CreateUnauthorizedResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	ctx.SetBodyString(`{"error":"Unauthorized","message":"Authentication required"}`)
}
