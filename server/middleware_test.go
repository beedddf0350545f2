package server

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peakfeed/cache-service/types"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...zap.Field)              {}
func (nopLogger) Warn(string, ...zap.Field)               {}
func (nopLogger) Info(string, ...zap.Field)               {}
func (nopLogger) Debug(string, ...zap.Field)              {}
func (nopLogger) Log(zapcore.Level, string, ...zap.Field) {}

func newTestServer(token string) *FastHTTPServer {
	s := &FastHTTPServer{
		logger:     nopLogger{},
		authConfig: &types.AuthConfig{AdminToken: token},
	}
	s.state.Store(StateRunning)
	return s
}

func TestAuthorizeOpenWhenNoTokenConfigured(t *testing.T) {
	s := newTestServer("")
	ctx := &fasthttp.RequestCtx{}

	assert.True(t, s.authorize(ctx))
}

func TestAuthorizeMissingHeader(t *testing.T) {
	s := newTestServer("secret")
	ctx := &fasthttp.RequestCtx{}

	assert.False(t, s.authorize(ctx))
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestAuthorizeWrongToken(t *testing.T) {
	s := newTestServer("secret")
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer wrong")

	assert.False(t, s.authorize(ctx))
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestAuthorizeValidToken(t *testing.T) {
	s := newTestServer("secret")
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer secret")

	assert.True(t, s.authorize(ctx))
}

func TestCompressResponseGzip(t *testing.T) {
	s := newTestServer("")
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Accept-Encoding", "gzip")

	body := []byte(strings.Repeat("cache invalidation ", 200))
	ctx.Response.SetBody(body)

	s.compressResponse(ctx)

	assert.Equal(t, "gzip", string(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)))
	assert.NotEqual(t, body, ctx.Response.Body())
	assert.Less(t, len(ctx.Response.Body()), len(body))
}

func TestCompressResponsePrefersBrotli(t *testing.T) {
	s := newTestServer("")
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Accept-Encoding", "gzip, br")

	body := bytes.Repeat([]byte("pattern matcher "), 200)
	ctx.Response.SetBody(body)

	s.compressResponse(ctx)

	assert.Equal(t, "br", string(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)))
}

func TestCompressResponseSkipsSmallBodies(t *testing.T) {
	s := newTestServer("")
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Accept-Encoding", "br")

	ctx.Response.SetBody([]byte("small"))
	s.compressResponse(ctx)

	assert.Empty(t, ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding))
	assert.Equal(t, "small", string(ctx.Response.Body()))
}
