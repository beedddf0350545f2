package server

import (
	"bytes"
	"fmt"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const compressionThreshold = 1024

var (
	bearerPrefix = []byte("Bearer ")
	brEncoding   = []byte("br")
	gzipEncoding = []byte("gzip")
)

// executeHandler runs the shared middleware chain around the route handler:
// panic recovery, bearer-token auth for protected routes, response
// compression, then request logging and metrics.
func (h *FastHTTPServer) executeHandler(ctx *fasthttp.RequestCtx, rt *route) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic recovered",
				zap.String("path", rt.pattern),
				zap.Any("panic", r))
			utils.CreateErrorResponse(ctx)
		}

		h.logRequest(ctx, rt, start)
	}()

	if rt.config.Auth && !h.authorize(ctx) {
		return
	}

	rt.handler(ctx)
	h.compressResponse(ctx)
}

// authorize enforces the shared-secret admin token. An empty configured
// token leaves the surface open, which is the expected dev setup.
func (h *FastHTTPServer) authorize(ctx *fasthttp.RequestCtx) bool {
	if h.authConfig == nil || h.authConfig.AdminToken == "" {
		return true
	}

	header := ctx.Request.Header.Peek("Authorization")
	if len(header) == 0 || !bytes.HasPrefix(header, bearerPrefix) {
		utils.CreateUnauthorizedResponse(ctx)
		return false
	}

	token := bytes.TrimPrefix(header, bearerPrefix)
	if string(token) != h.authConfig.AdminToken {
		h.logger.Warn("request rejected",
			zap.String("path", string(ctx.Path())),
			zap.Error(types.ErrAuthTokenInvalid))
		utils.WriteJSON(ctx, fasthttp.StatusForbidden, map[string]interface{}{
			"error":   "Forbidden",
			"message": "Invalid token",
		})
		return false
	}

	return true
}

func (h *FastHTTPServer) compressResponse(ctx *fasthttp.RequestCtx) {
	body := ctx.Response.Body()
	if len(body) < compressionThreshold {
		return
	}

	accept := ctx.Request.Header.Peek("Accept-Encoding")

	switch {
	case bytes.Contains(accept, brEncoding):
		var buf bytes.Buffer
		writer := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := writer.Write(body); err != nil {
			return
		}
		if err := writer.Close(); err != nil {
			return
		}
		ctx.Response.SetBody(buf.Bytes())
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "br")

	case bytes.Contains(accept, gzipEncoding):
		ctx.Response.SetBody(fasthttp.AppendGzipBytes(nil, body))
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
	}
}

func (h *FastHTTPServer) logRequest(ctx *fasthttp.RequestCtx, rt *route, start time.Time) {
	duration := time.Since(start)
	status := ctx.Response.StatusCode()

	h.logger.Debug("Request handled",
		zap.String("method", rt.method),
		zap.String("path", string(ctx.Path())),
		zap.Int("status", status),
		zap.Duration("duration", duration))

	if h.metrics != nil {
		labels := map[string]string{
			"method": rt.method,
			"path":   rt.pattern,
			"status": fmt.Sprintf("%d", status),
		}
		h.metrics.Counter("http_requests_total", labels).Inc()
		h.metrics.Histogram("http_request_duration_seconds",
			[]float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
			map[string]string{"method": rt.method, "path": rt.pattern},
		).ObserveDuration(start)
	}
}
