package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func noopHandler(_ *fasthttp.RequestCtx) {}

func TestRouterStaticLookup(t *testing.T) {
	r := NewRouter()
	r.GET("/cache/stats", noopHandler, nil)
	r.POST("/cache/invalidate", noopHandler, &routeConfig{Auth: true})

	rt, params := r.lookup("GET", "/cache/stats")
	require.NotNil(t, rt)
	assert.Nil(t, params)
	assert.False(t, rt.config.Auth)

	rt, _ = r.lookup("POST", "/cache/invalidate")
	require.NotNil(t, rt)
	assert.True(t, rt.config.Auth)

	rt, _ = r.lookup("DELETE", "/cache/stats")
	assert.Nil(t, rt)

	rt, _ = r.lookup("GET", "/nope")
	assert.Nil(t, rt)
}

func TestRouterTrailingSlashNormalized(t *testing.T) {
	r := NewRouter()
	r.GET("/cache/stats", noopHandler, nil)

	rt, _ := r.lookup("GET", "/cache/stats/")
	assert.NotNil(t, rt)
}

func TestRouterDynamicLookup(t *testing.T) {
	r := NewRouter()
	r.GET("/cache/rules/{id}", noopHandler, nil)
	r.DELETE("/cache/rules/{id}", noopHandler, &routeConfig{Auth: true})

	rt, params := r.lookup("GET", "/cache/rules/rule-42")
	require.NotNil(t, rt)
	assert.Equal(t, "rule-42", params["id"])

	rt, params = r.lookup("DELETE", "/cache/rules/abc")
	require.NotNil(t, rt)
	assert.Equal(t, "abc", params["id"])
	assert.True(t, rt.config.Auth)

	rt, _ = r.lookup("GET", "/cache/rules/a/b")
	assert.Nil(t, rt)

	rt, _ = r.lookup("GET", "/cache/rules")
	assert.Nil(t, rt)
}
