package monitor

import (
	"context"
	"path/filepath"
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

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()

	store, err := kv.NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	monitor := NewMonitor(context.Background(), store, nopLogger{}, &types.MonitorConfig{
		Enabled:     true,
		StoragePath: filepath.Join(t.TempDir(), "performance.db"),
	}, "")
	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop() })

	return monitor
}

func record(t *testing.T, monitor *Monitor, metric types.PerformanceMetric) {
	t.Helper()
	require.NoError(t, monitor.RecordMetrics(context.Background(), metric))
}

func TestMonitorReportAggregation(t *testing.T) {
	monitor := newTestMonitor(t)
	ctx := context.Background()
	now := time.Now()

	record(t, monitor, types.PerformanceMetric{
		Timestamp:      now,
		Endpoint:       "/feed",
		Method:         "GET",
		ResponseTimeMs: 400,
		CacheHit:       true,
		Geolocation:    "eu-west",
		StatusCode:     200,
	})
	record(t, monitor, types.PerformanceMetric{
		Timestamp:      now,
		Endpoint:       "/feed",
		Method:         "GET",
		ResponseTimeMs: 600,
		CacheHit:       false,
		CacheKey:       "feed:hot",
		Geolocation:    "eu-west",
		StatusCode:     200,
	})
	record(t, monitor, types.PerformanceMetric{
		Timestamp:      now,
		Endpoint:       "/profile",
		Method:         "GET",
		ResponseTimeMs: 1200,
		CacheHit:       false,
		CacheKey:       "feed:hot",
		Geolocation:    "us-east",
		StatusCode:     500,
		Error:          "upstream failed",
	})

	report, err := monitor.GetReport(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalRequests)
	assert.InDelta(t, (400.0+600.0+1200.0)/3, report.AverageResponseTimeMs, 0.001)
	assert.InDelta(t, 1.0/3, report.CacheHitRate, 0.001)
	assert.InDelta(t, 1.0/3, report.ErrorRate, 0.001)

	require.NotEmpty(t, report.SlowestEndpoints)
	assert.Equal(t, "/profile", report.SlowestEndpoints[0].Endpoint)

	require.NotEmpty(t, report.TopGeolocations)
	assert.Equal(t, "eu-west", report.TopGeolocations[0].Geolocation)
	assert.Equal(t, 2, report.TopGeolocations[0].Requests)

	require.Len(t, report.CacheMissHotKeys, 1)
	assert.Equal(t, "feed:hot", report.CacheMissHotKeys[0].CacheKey)
	assert.Equal(t, 2, report.CacheMissHotKeys[0].Misses)
}

func TestMonitorReportOutsideRange(t *testing.T) {
	monitor := newTestMonitor(t)
	ctx := context.Background()
	now := time.Now()

	record(t, monitor, types.PerformanceMetric{
		Timestamp:      now,
		Endpoint:       "/feed",
		Method:         "GET",
		ResponseTimeMs: 400,
		StatusCode:     200,
	})

	report, err := monitor.GetReport(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.TotalRequests)
	assert.Zero(t, report.AverageResponseTimeMs)
}

func seedResponseTimes(t *testing.T, monitor *Monitor, responseMs float64) {
	t.Helper()
	for i := 0; i < 10; i++ {
		record(t, monitor, types.PerformanceMetric{
			Endpoint:       "/feed",
			Method:         "GET",
			ResponseTimeMs: responseMs,
			CacheHit:       true,
			StatusCode:     200,
		})
	}
}

func TestMonitorAnomalyHighResponseTime(t *testing.T) {
	monitor := newTestMonitor(t)
	seedResponseTimes(t, monitor, 2500)

	anomalies, err := monitor.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "high_response_time", anomalies[0].Type)
	assert.Equal(t, types.SeverityHigh, anomalies[0].Severity)
}

func TestMonitorAnomalyMediumResponseTime(t *testing.T) {
	monitor := newTestMonitor(t)
	seedResponseTimes(t, monitor, 1200)

	anomalies, err := monitor.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "high_response_time", anomalies[0].Type)
	assert.Equal(t, types.SeverityMedium, anomalies[0].Severity)
}

func TestMonitorNoAnomalies(t *testing.T) {
	monitor := newTestMonitor(t)
	seedResponseTimes(t, monitor, 500)

	anomalies, err := monitor.DetectAnomalies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestMonitorAnomalyLowHitRate(t *testing.T) {
	monitor := newTestMonitor(t)

	for i := 0; i < 10; i++ {
		record(t, monitor, types.PerformanceMetric{
			Endpoint:       "/feed",
			Method:         "GET",
			ResponseTimeMs: 100,
			CacheHit:       i < 2, // 20% hit rate
			StatusCode:     200,
		})
	}

	anomalies, err := monitor.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "low_cache_hit_rate", anomalies[0].Type)
	assert.Equal(t, types.SeverityHigh, anomalies[0].Severity)
}

func TestMonitorAnomalyErrorRate(t *testing.T) {
	monitor := newTestMonitor(t)

	for i := 0; i < 100; i++ {
		metric := types.PerformanceMetric{
			Endpoint:       "/feed",
			Method:         "GET",
			ResponseTimeMs: 100,
			CacheHit:       true,
			StatusCode:     200,
		}
		if i < 8 {
			metric.StatusCode = 500
			metric.Error = "upstream failed"
		}
		record(t, monitor, metric)
	}

	anomalies, err := monitor.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "high_error_rate", anomalies[0].Type)
	assert.Equal(t, types.SeverityMedium, anomalies[0].Severity)
}
