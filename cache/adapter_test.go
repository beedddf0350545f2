package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peakfeed/cache-service/kv"
	"github.com/peakfeed/cache-service/types"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...zap.Field)              {}
func (nopLogger) Warn(string, ...zap.Field)               {}
func (nopLogger) Info(string, ...zap.Field)               {}
func (nopLogger) Debug(string, ...zap.Field)              {}
func (nopLogger) Log(zapcore.Level, string, ...zap.Field) {}

func newTestAdapter(t *testing.T) (*Adapter, *Index) {
	t.Helper()

	store, err := kv.NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	index := NewIndex(store, nopLogger{}, nil)
	adapter := NewAdapter(store, index, nopLogger{}, &types.CacheConfig{
		DefaultTTL:    time.Minute,
		MetadataGrace: time.Minute,
	})

	return adapter, index
}

func TestAdapterSetGet(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "user:1:profile", map[string]interface{}{"name": "alice"}, time.Minute))

	value, found := adapter.Get(ctx, "user:1:profile")
	require.True(t, found)

	profile, ok := value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", profile["name"])
}

func TestAdapterGetMiss(t *testing.T) {
	adapter, index := newTestAdapter(t)
	ctx := context.Background()

	_, found := adapter.Get(ctx, "absent")
	assert.False(t, found)

	metrics, err := index.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.Misses)
	assert.Equal(t, float64(1), metrics.MissRate)
}

func TestAdapterExpiredValueIsCleanMiss(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "short", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, found := adapter.Get(ctx, "short")
	assert.False(t, found)
}

func TestAdapterDelete(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, adapter.Delete(ctx, "k"))
	require.NoError(t, adapter.Delete(ctx, "k"))

	_, found := adapter.Get(ctx, "k")
	assert.False(t, found)
}

func TestGetOrSetFetchesOnceAndReturnsValue(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	calls := 0
	fetcher := func(context.Context) (interface{}, error) {
		calls++
		return "fresh", nil
	}

	value, err := adapter.GetOrSet(ctx, "feed:home", fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
	assert.Equal(t, 1, calls)

	// The background write may still be in flight; wait for it.
	require.Eventually(t, func() bool {
		_, found := adapter.Get(ctx, "feed:home")
		return found
	}, time.Second, 10*time.Millisecond)

	_, err = adapter.GetOrSet(ctx, "feed:home", fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetOrSetFetcherError(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	fetcher := func(context.Context) (interface{}, error) {
		return nil, types.ErrStoreUnavailable
	}

	_, err := adapter.GetOrSet(ctx, "k", fetcher, time.Minute)
	require.Error(t, err)
}

func TestListKeysByPrefix(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	for _, key := range []string{"user:1:profile", "user:2:profile", "post:1"} {
		require.NoError(t, adapter.Set(ctx, key, "v", time.Minute))
	}

	keys, err := adapter.ListKeys(ctx, "user:", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1:profile", "user:2:profile"}, keys)
}
