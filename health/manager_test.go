package health

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

type stubConfig struct {
	cfg *types.ServiceConfig
}

func (s *stubConfig) Load() error { return nil }

func (s *stubConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func testConfig() types.ConfigManager {
	return &stubConfig{cfg: &types.ServiceConfig{
		Name:    "cache-service",
		Version: "test",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{Host: "localhost", Port: 8080},
		},
	}}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(context.Background(), testConfig(), nopLogger{})
	require.NoError(t, err)
	require.NoError(t, manager.Start())
	t.Cleanup(func() { _ = manager.Stop() })

	return manager
}

func TestCheckAggregatesHealthy(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("alpha", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy, Message: "ok"}
	})
	manager.RegisterChecker("beta", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy, Message: "ok"}
	})

	report := manager.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Healthy)
	assert.Equal(t, "cache-service", report.Service.Name)
	assert.Equal(t, "alpha", report.Checks["alpha"].Name)
}

func TestCheckUnhealthyWins(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("good", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("bad", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "down"}
	})

	report := manager.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 1, report.Summary.Unhealthy)
}

func TestCheckRecoversPanickingChecker(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("panicky", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})

	report := manager.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["panicky"].Message, "panicked")
}

func TestStartStopTransitions(t *testing.T) {
	manager, err := NewManager(context.Background(), testConfig(), nopLogger{})
	require.NoError(t, err)

	require.NoError(t, manager.Start())
	assert.True(t, manager.IsRunning())
	assert.ErrorIs(t, manager.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsRunning())
	assert.ErrorIs(t, manager.Stop(), types.ErrServerNotRunning)
}

func TestStoreCheckerRoundTrip(t *testing.T) {
	store, err := kv.NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	defer store.Stop()

	check := StoreChecker(store)(context.Background())

	assert.Equal(t, types.StatusHealthy, check.Status)
	assert.Contains(t, check.Message, "round-trip ok")
}

func TestCheckUptime(t *testing.T) {
	manager := newTestManager(t)
	time.Sleep(10 * time.Millisecond)

	report := manager.Check(context.Background())

	assert.Greater(t, report.Uptime, time.Duration(0))
}
