package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/peakfeed/cache-service/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "failed to parse YAML config: %v", err)
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "config validation failed: %v", err)
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "cache-service",
		Version: "1.0.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 10,
			},
			TLS: &types.TLSConfig{
				Enabled: false,
			},
			Auth: &types.AuthConfig{},
		},
		Logger: &types.LoggerConfig{
			Level: "debug",
		},
		Store: &types.StoreConfig{
			Type: "memory",
		},
		Cache: &types.CacheConfig{
			DefaultTTL:    time.Hour,
			MetadataGrace: 5 * time.Minute,
			MaxListKeys:   10000,
		},
		Invalidation: &types.InvalidationConfig{
			MaxItems: 1000,
			Timeout:  30 * time.Second,
			Queue: &types.QueueConfig{
				BatchSize:          10,
				MaxRetries:         3,
				RetryBackoff:       time.Minute,
				OverloadThreshold:  100,
				CompletedRetention: time.Hour,
			},
		},
		Broadcast: &types.BroadcastConfig{
			Enabled: false,
		},
		Monitor: &types.MonitorConfig{
			Enabled:       true,
			RealtimeSize:  100,
			RealtimeTTL:   5 * time.Minute,
			RetentionDays: 7,
		},
		Cron: &types.CronConfig{
			Enabled:     true,
			Timezone:    "UTC",
			QueueSpec:   "@every 30s",
			RetrySpec:   "@every 5m",
			CleanupSpec: "@every 1h",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Health: &types.HealthConfig{
			Enabled: true,
		},
	}
}
