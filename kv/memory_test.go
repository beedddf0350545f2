package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newTestStore(t *testing.T) types.KVStore {
	t.Helper()

	store, err := NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func TestMemoryStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user:1:profile", []byte("alice"), time.Minute))

	value, found, err := store.Get(ctx, "user:1:profile")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("alice"), value)

	_, found, err = store.Get(ctx, "user:2:profile")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "short", []byte("v"), 20*time.Millisecond))

	_, found, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)

	_, found, err = store.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "post:1"} {
		require.NoError(t, store.Put(ctx, key, []byte("v"), 0))
	}

	keys, err := store.List(ctx, types.ListOptions{Prefix: "user:"})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "user:1", keys[0].Name)
	assert.Equal(t, "user:2", keys[1].Name)

	limited, err := store.List(ctx, types.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
