package kv

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
	ScanCount          int64         `json:"scan_count"`
}

type RedisStore struct {
	ctx    context.Context
	logger types.Logger
	config *RedisConfig
	client *redis.Client
	state  atomic.Value
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.KVStore, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          config.Namespace,
		ScanCount:          500,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	store := &RedisStore{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	store.state.Store(StateStopped)
	store.initClient()

	if err := store.ping(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrKeyEmpty
	}

	result, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		r.logger.Error("failed to get key", zap.String("key", key), zap.Error(err))
		return nil, false, types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	return result, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(ctx, r.fullKey(key), value, ttl).Err(); err != nil {
		r.logger.Error("failed to put key", zap.String("key", key), zap.Error(err))
		return types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	// DEL of an absent key is a successful no-op.
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		r.logger.Error("failed to delete key", zap.String("key", key), zap.Error(err))
		return types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	return nil
}

func (r *RedisStore) List(ctx context.Context, opts types.ListOptions) ([]types.KeyInfo, error) {
	match := r.fullKey(opts.Prefix) + "*"
	stripPrefix := ""
	if r.config.KeyPrefix != "" {
		stripPrefix = r.config.KeyPrefix + ":"
	}

	var keys []types.KeyInfo
	var cursor uint64

	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, r.config.ScanCount).Result()
		if err != nil {
			r.logger.Error("failed to scan keys", zap.String("match", match), zap.Error(err))
			return keys, types.WrapError(types.ErrStoreUnavailable, err.Error())
		}

		for _, name := range batch {
			keys = append(keys, types.KeyInfo{Name: strings.TrimPrefix(name, stripPrefix)})
			if opts.Limit > 0 && len(keys) >= opts.Limit {
				return keys, nil
			}
		}

		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *RedisStore) Start() error {
	if !r.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	r.logger.Info("Redis store started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.String("prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisStore) Stop() error {
	if !r.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Error("Failed to close redis client", zap.Error(err))
			return types.WrapError(err, "failed to close redis client")
		}
	}

	r.logger.Info("Redis store stopped")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return r.state.Load() == StateRunning
}

func (r *RedisStore) initClient() {
	r.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

func (r *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) fullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
