package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...zap.Field)              {}
func (nopLogger) Warn(string, ...zap.Field)               {}
func (nopLogger) Info(string, ...zap.Field)               {}
func (nopLogger) Debug(string, ...zap.Field)              {}
func (nopLogger) Log(zapcore.Level, string, ...zap.Field) {}

func newTestMemoryMetrics(t *testing.T) types.MetricsManager {
	t.Helper()

	m, err := NewMemoryMetrics(context.Background(), nopLogger{}, &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	return m
}

func TestMemoryCounter(t *testing.T) {
	m := newTestMemoryMetrics(t)

	counter := m.Counter("requests_total", map[string]string{"method": "GET"})
	counter.Inc()
	counter.Inc()
	counter.Add(3)

	same := m.Counter("requests_total", map[string]string{"method": "GET"})
	assert.Equal(t, float64(5), same.(*MemoryCounter).Get())

	other := m.Counter("requests_total", map[string]string{"method": "POST"})
	assert.Equal(t, float64(0), other.(*MemoryCounter).Get())
}

func TestMemoryGauge(t *testing.T) {
	m := newTestMemoryMetrics(t)

	gauge := m.Gauge("queue_depth", nil)
	gauge.Set(10)
	gauge.Inc()
	gauge.Dec()
	gauge.Dec()

	assert.Equal(t, float64(9), gauge.(*MemoryGauge).Get())
}

func TestMemoryHistogram(t *testing.T) {
	m := newTestMemoryMetrics(t)

	hist := m.Histogram("latency_seconds", []float64{0.1, 1, 10}, nil)
	hist.Observe(0.05)
	hist.Observe(0.5)
	hist.Observe(5)

	mh := hist.(*MemoryHistogram)
	assert.Equal(t, uint64(3), mh.GetCount())
	assert.InDelta(t, 5.55, mh.GetSum(), 0.001)
}

func TestMetricsNoopWhenStopped(t *testing.T) {
	m, err := NewMemoryMetrics(context.Background(), nopLogger{}, &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)

	// not started: operations must be safe no-ops
	m.Counter("ignored", nil).Inc()
	m.Gauge("ignored", nil).Set(1)
	m.Histogram("ignored", nil, nil).Observe(1)

	_, err = m.GetMetrics()
	assert.ErrorIs(t, err, types.ErrMetricsNotRunning)
}

func TestGetMetricsSnapshot(t *testing.T) {
	m := newTestMemoryMetrics(t)

	m.Counter("cache_hits_total", map[string]string{"layer": "memory"}).Inc()
	m.Gauge("cache_entries", nil).Set(42)

	data, err := m.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))

	byName := make(map[string]types.MetricValue, len(values))
	for _, v := range values {
		byName[v.Name] = v
	}

	hits, ok := byName["cache_hits_total"]
	require.True(t, ok)
	assert.Equal(t, "counter", hits.Type)
	assert.Equal(t, float64(1), hits.Value)
	assert.Equal(t, "memory", hits.Labels["layer"])

	entries, ok := byName["cache_entries"]
	require.True(t, ok)
	assert.Equal(t, "gauge", entries.Type)
	assert.Equal(t, float64(42), entries.Value)
}

func TestLifecycleGuards(t *testing.T) {
	m, err := NewMemoryMetrics(context.Background(), nopLogger{}, &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}

func TestSystemMetricsCollected(t *testing.T) {
	m := newTestMemoryMetrics(t)

	// the initial sample can race the running transition, so the first
	// visible goroutine gauge may only land on the next collector tick
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		data, err := m.GetMetrics()
		require.NoError(t, err)

		var values []types.MetricValue
		require.NoError(t, utils.Unmarshal(data, &values))

		for _, v := range values {
			if v.Name == "system_goroutines_count" {
				assert.Greater(t, v.Value, float64(0))
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("system goroutine gauge never appeared")
}

func TestMetricValueHasTimestamp(t *testing.T) {
	m := newTestMemoryMetrics(t)
	m.Counter("ticks_total", nil).Inc()

	data, err := m.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))
	require.NotEmpty(t, values)
	assert.False(t, values[0].Timestamp.IsZero())
}
