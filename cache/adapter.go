package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const valuePrefix = "cache:v:"

type AdapterConfig struct {
	DefaultTTL    time.Duration
	MetadataGrace time.Duration
	MaxListKeys   int
}

// Adapter wraps the key-value store with TTL-aware serialization and
// per-key metadata bookkeeping. Metadata writes ride on the read/write path
// as fire-and-forget side effects and never fail the primary operation.
type Adapter struct {
	store  types.KVStore
	index  types.MetadataIndex
	logger types.Logger
	config *AdapterConfig
}

func NewAdapter(store types.KVStore, index types.MetadataIndex, logger types.Logger, config *types.CacheConfig) *Adapter {
	adapterConfig := &AdapterConfig{
		DefaultTTL:    time.Hour,
		MetadataGrace: 5 * time.Minute,
		MaxListKeys:   10000,
	}

	if config != nil {
		if config.DefaultTTL > 0 {
			adapterConfig.DefaultTTL = config.DefaultTTL
		}
		if config.MetadataGrace > 0 {
			adapterConfig.MetadataGrace = config.MetadataGrace
		}
		if config.MaxListKeys > 0 {
			adapterConfig.MaxListKeys = config.MaxListKeys
		}
	}

	return &Adapter{
		store:  store,
		index:  index,
		logger: logger,
		config: adapterConfig,
	}
}

func (a *Adapter) Get(ctx context.Context, key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	data, found, err := a.store.Get(ctx, valuePrefix+key)
	if err != nil {
		a.logger.Error("failed to get cache entry", zap.String("key", key), zap.Error(err))
		a.index.RecordMiss(ctx)
		return nil, false
	}
	if !found {
		a.index.RecordMiss(ctx)
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal(data, &entry); err != nil {
		a.logger.Error("failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		if delErr := a.store.Delete(ctx, valuePrefix+key); delErr != nil {
			a.logger.Error("failed to drop corrupt entry", zap.String("key", key), zap.Error(delErr))
		}
		a.index.RecordMiss(ctx)
		return nil, false
	}

	// A payload past its own expiry with still-live metadata is a clean miss.
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		if err := a.Delete(ctx, key); err != nil {
			a.logger.Error("failed to delete expired entry", zap.String("key", key), zap.Error(err))
		}
		a.index.RecordMiss(ctx)
		return nil, false
	}

	a.index.RecordHit(ctx)
	go a.index.RecordAccess(context.WithoutCancel(ctx), key)

	return entry.Value, true
}

func (a *Adapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.SetTagged(ctx, key, value, ttl, "application/json")
}

func (a *Adapter) SetTagged(ctx context.Context, key string, value interface{}, ttl time.Duration, contentType string, tags ...string) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	if ttl <= 0 {
		ttl = a.config.DefaultTTL
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		TTL:       ttl,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if err := a.store.Put(ctx, valuePrefix+key, data, ttl); err != nil {
		a.logger.Error("failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	meta := types.EntryMetadata{
		Key:         key,
		CreatedAt:   now,
		Size:        len(data),
		ContentType: contentType,
		Tags:        tags,
		// Metadata outlives the value slightly for diagnostics.
		ExpiresAt: now.Add(ttl + a.config.MetadataGrace),
	}

	if err := a.index.RecordWrite(ctx, key, meta); err != nil {
		a.logger.Warn("failed to record cache metadata", zap.String("key", key), zap.Error(err))
	}

	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := a.store.Delete(ctx, valuePrefix+key); err != nil {
		a.logger.Error("failed to delete cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete cache entry")
	}

	a.index.RecordDelete(ctx, key)
	return nil
}

// GetOrSet returns the cached value when present; otherwise it calls fetcher
// exactly once and caches the result in the background. A failed cache write
// never surfaces to the caller.
func (a *Adapter) GetOrSet(ctx context.Context, key string, fetcher types.Fetcher, ttl time.Duration) (interface{}, error) {
	if value, found := a.Get(ctx, key); found {
		return value, nil
	}

	value, err := fetcher(ctx)
	if err != nil {
		return nil, types.WrapError(err, "fetcher failed")
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := a.Set(bgCtx, key, value, ttl); err != nil {
			a.logger.Warn("background cache write failed", zap.String("key", key), zap.Error(err))
		}
	}()

	return value, nil
}

func (a *Adapter) ListKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 || limit > a.config.MaxListKeys {
		limit = a.config.MaxListKeys
	}

	infos, err := a.store.List(ctx, types.ListOptions{Prefix: valuePrefix + prefix, Limit: limit})
	if err != nil {
		return nil, types.WrapError(err, "failed to list cache keys")
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, strings.TrimPrefix(info.Name, valuePrefix))
	}
	return keys, nil
}
