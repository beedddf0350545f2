package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/peakfeed/cache-service/cache"
	"github.com/peakfeed/cache-service/invalidation"
	"github.com/peakfeed/cache-service/kv"
	"github.com/peakfeed/cache-service/types"
)

func newCacheServer(t *testing.T) (*FastHTTPServer, types.CacheAdapter) {
	t.Helper()

	store, err := kv.NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	index := cache.NewIndex(store, nopLogger{}, nil)
	adapter := cache.NewAdapter(store, index, nopLogger{}, nil)
	executor := invalidation.NewPatternExecutor(adapter, nil, nopLogger{}, nil, nil)

	s := &FastHTTPServer{
		logger: nopLogger{},
		deps: &Deps{
			Cache:    adapter,
			Index:    index,
			Executor: executor,
		},
	}
	s.state.Store(StateRunning)

	return s, adapter
}

func TestClearUserRemovesTaggedKeys(t *testing.T) {
	s, adapter := newCacheServer(t)
	ctx := context.Background()

	// One key under the user prefix, one tagged to the user elsewhere in
	// the keyspace, one unrelated.
	require.NoError(t, adapter.SetTagged(ctx, "user:42:profile", "p", time.Hour, "application/json", "42"))
	require.NoError(t, adapter.SetTagged(ctx, "feed:home:42", "f", time.Hour, "application/json", "42"))
	require.NoError(t, adapter.Set(ctx, "feed:home:7", "f", time.Hour))

	reqCtx := &fasthttp.RequestCtx{}
	reqCtx.Init(&fasthttp.Request{}, nil, nil)
	reqCtx.Request.SetBody([]byte(`{"user_id":"42"}`))

	s.handleClearUser(reqCtx)

	assert.Equal(t, fasthttp.StatusOK, reqCtx.Response.StatusCode())

	_, found := adapter.Get(ctx, "user:42:profile")
	assert.False(t, found)
	_, found = adapter.Get(ctx, "feed:home:42")
	assert.False(t, found)
	_, found = adapter.Get(ctx, "feed:home:7")
	assert.True(t, found)
}

func TestClearUserRequiresUserID(t *testing.T) {
	s, _ := newCacheServer(t)

	reqCtx := &fasthttp.RequestCtx{}
	reqCtx.Request.SetBody([]byte(`{}`))

	s.handleClearUser(reqCtx)

	assert.Equal(t, fasthttp.StatusBadRequest, reqCtx.Response.StatusCode())
}
