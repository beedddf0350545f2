package invalidation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakfeed/cache-service/cache"
	"github.com/peakfeed/cache-service/types"
)

// slowFailingAdapter simulates a backend whose deletes outlive the
// invalidation deadline and fail.
type slowFailingAdapter struct {
	keys  []string
	delay time.Duration
}

func (s *slowFailingAdapter) Get(context.Context, string) (interface{}, bool) { return nil, false }

func (s *slowFailingAdapter) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (s *slowFailingAdapter) SetTagged(context.Context, string, interface{}, time.Duration, string, ...string) error {
	return nil
}

func (s *slowFailingAdapter) GetOrSet(context.Context, string, types.Fetcher, time.Duration) (interface{}, error) {
	return nil, nil
}

func (s *slowFailingAdapter) ListKeys(context.Context, string, int) ([]string, error) {
	return s.keys, nil
}

func (s *slowFailingAdapter) Delete(context.Context, string) error {
	time.Sleep(s.delay)
	return types.ErrStoreUnavailable
}

func newTestExecutor(t *testing.T) (*PatternExecutor, types.CacheAdapter, *Recorder) {
	t.Helper()

	store := newTestStore(t)
	index := cache.NewIndex(store, nopLogger{}, nil)
	adapter := cache.NewAdapter(store, index, nopLogger{}, nil)
	recorder := NewRecorder(store, nopLogger{}, "")

	return NewPatternExecutor(adapter, recorder, nopLogger{}, nil, nil), adapter, recorder
}

func seedKeys(t *testing.T, adapter types.CacheAdapter, keys ...string) {
	t.Helper()
	ctx := context.Background()
	for _, key := range keys {
		require.NoError(t, adapter.Set(ctx, key, "payload", time.Hour))
	}
}

func TestInvalidateByPatternDeletesOnlyMatches(t *testing.T) {
	executor, adapter, _ := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1:profile", "user:2:profile", "post:1")

	result, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ItemsInvalidated)
	assert.Empty(t, result.Errors)

	_, found := adapter.Get(ctx, "user:1:profile")
	assert.False(t, found)
	_, found = adapter.Get(ctx, "user:2:profile")
	assert.False(t, found)
	_, found = adapter.Get(ctx, "post:1")
	assert.True(t, found)
}

func TestInvalidateByPatternIdempotent(t *testing.T) {
	executor, adapter, _ := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1:profile", "user:2:profile")

	first, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.ItemsInvalidated)

	second, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Zero(t, second.ItemsInvalidated)
}

func TestInvalidateByPatternDryRun(t *testing.T) {
	executor, adapter, _ := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1:profile", "user:2:profile")

	result, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.ItemsInvalidated)

	_, found := adapter.Get(ctx, "user:1:profile")
	assert.True(t, found)
}

func TestInvalidateByPatternInvalidPattern(t *testing.T) {
	executor, _, _ := newTestExecutor(t)

	result, err := executor.InvalidateByPattern(context.Background(), "user:{a|b", types.InvalidateOptions{})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, types.ErrInvalidPattern)
}

func TestInvalidateByPatternMaxItems(t *testing.T) {
	executor, adapter, _ := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1", "user:2", "user:3", "user:4")

	result, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsInvalidated)

	remaining, err := adapter.ListKeys(ctx, "user:", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

// Deletes that straggle past the deadline keep reporting errors after the
// call returns; the returned error list must be a stable snapshot.
func TestInvalidateByPatternTimeout(t *testing.T) {
	adapter := &slowFailingAdapter{delay: 5 * time.Millisecond}
	for i := 0; i < 200; i++ {
		adapter.keys = append(adapter.keys, fmt.Sprintf("user:%d", i))
	}

	executor := NewPatternExecutor(adapter, nil, nopLogger{}, nil, nil)

	result, err := executor.InvalidateByPattern(context.Background(), "user:*", types.InvalidateOptions{
		Timeout:  8 * time.Millisecond,
		Priority: types.PriorityLow,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Errors, "Invalidation timeout")
	assert.Zero(t, result.ItemsInvalidated)
}

func TestInvalidateByKey(t *testing.T) {
	executor, adapter, _ := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1:profile")

	require.NoError(t, executor.InvalidateByKey(ctx, "user:1:profile"))
	_, found := adapter.Get(ctx, "user:1:profile")
	assert.False(t, found)

	// Deleting an absent key is a successful no-op.
	require.NoError(t, executor.InvalidateByKey(ctx, "user:1:profile"))
}

func TestInvalidateByPatternRecordsMetrics(t *testing.T) {
	executor, adapter, recorder := newTestExecutor(t)
	ctx := context.Background()

	seedKeys(t, adapter, "user:1:profile")

	_, err := executor.InvalidateByPattern(ctx, "user:*", types.InvalidateOptions{TrackPerformance: true})
	require.NoError(t, err)

	metrics, err := recorder.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics.TotalCount)
	assert.EqualValues(t, 1, metrics.SuccessCount)
	require.Contains(t, metrics.Patterns, "user:*")
	assert.EqualValues(t, 1, metrics.Patterns["user:*"].Calls)
	assert.Equal(t, 1.0, metrics.Patterns["user:*"].SuccessRate)
	require.Len(t, metrics.Recent, 1)
	assert.Equal(t, 1, metrics.Recent[0].ItemsInvalidated)
}

func TestRecorderRunningStats(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nopLogger{}, "")
	ctx := context.Background()

	recorder.Record(ctx, &types.InvalidationResult{
		Pattern:          "user:*",
		Success:          true,
		ItemsInvalidated: 3,
		Duration:         100 * time.Millisecond,
	})
	recorder.Record(ctx, &types.InvalidationResult{
		Pattern:  "user:*",
		Success:  false,
		Duration: 300 * time.Millisecond,
		Errors:   []string{"store unavailable"},
	})

	metrics, err := recorder.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, metrics.TotalCount)
	assert.EqualValues(t, 1, metrics.SuccessCount)
	assert.EqualValues(t, 1, metrics.FailureCount)
	assert.InDelta(t, 200.0, metrics.AverageDurationMs, 0.001)

	stats := metrics.Patterns["user:*"]
	require.NotNil(t, stats)
	assert.EqualValues(t, 2, stats.Calls)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.InDelta(t, 200.0, stats.AverageTimeMs, 0.001)
}

func TestRecorderBoundsRecentLog(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nopLogger{}, "")
	ctx := context.Background()

	for i := 0; i < maxRecentRecords+10; i++ {
		recorder.Record(ctx, &types.InvalidationResult{
			Pattern:  "user:*",
			Success:  true,
			Duration: time.Millisecond,
		})
	}

	metrics, err := recorder.Metrics(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics.Recent, maxRecentRecords)
	assert.EqualValues(t, maxRecentRecords+10, metrics.TotalCount)
}
