package kv

import (
	"context"
	"time"

	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var customStoreCreators = make(map[string]types.KVStoreCreator)

func RegisterStore(storeType string, creator types.KVStoreCreator) {
	customStoreCreators[storeType] = creator
}

func NewStore(ctx context.Context, logger types.Logger, config *types.StoreConfig, metrics types.MetricsManager) (types.KVStore, error) {
	if config == nil {
		return nil, types.ErrConfigNotFound
	}

	var impl types.KVStore
	var err error

	switch config.Type {
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, config)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, config)
	case "clover":
		impl, err = NewCloverStore(ctx, logger, config)
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			impl, err = creator(config)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStore(metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.KVStore
	metrics types.MetricsManager
}

func newInstrumentedStore(metrics types.MetricsManager, impl types.KVStore) types.KVStore {
	return &instrumentedStore{impl: impl, metrics: metrics}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := is.impl.Get(ctx, key)

	result := "miss"
	if found {
		result = "hit"
	}
	if err != nil {
		result = "error"
	}

	is.recordMetric("get", result, time.Since(start))
	return value, found, err
}

func (is *instrumentedStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := is.impl.Put(ctx, key, value, ttl)
	is.recordMetric("put", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, key)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) List(ctx context.Context, opts types.ListOptions) ([]types.KeyInfo, error) {
	start := time.Now()
	keys, err := is.impl.List(ctx, opts)
	is.recordMetric("list", resultOf(err), time.Since(start))
	return keys, err
}

func (is *instrumentedStore) Start() error     { return is.impl.Start() }
func (is *instrumentedStore) Stop() error      { return is.impl.Stop() }
func (is *instrumentedStore) IsRunning() bool  { return is.impl.IsRunning() }

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	counter := is.metrics.Counter("kv_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	counter.Inc()

	histogram := is.metrics.Histogram("kv_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	histogram.Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
