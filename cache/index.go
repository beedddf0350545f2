package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/pattern"
	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const metaPrefix = "cache:m:"

// Index keeps one metadata document per cached key in the store and
// process-local aggregate counters. Tag and pattern lookups scan the full
// metadata listing, so callers bound listing size via MaxListKeys.
type Index struct {
	store   types.KVStore
	logger  types.Logger
	maxList int

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

func NewIndex(store types.KVStore, logger types.Logger, config *types.CacheConfig) *Index {
	maxList := 10000
	if config != nil && config.MaxListKeys > 0 {
		maxList = config.MaxListKeys
	}

	return &Index{
		store:   store,
		logger:  logger,
		maxList: maxList,
	}
}

func (i *Index) RecordHit(_ context.Context)  { i.hits.Add(1) }
func (i *Index) RecordMiss(_ context.Context) { i.misses.Add(1) }

func (i *Index) RecordWrite(ctx context.Context, key string, meta types.EntryMetadata) error {
	i.sets.Add(1)

	data, err := utils.Marshal(meta)
	if err != nil {
		return types.WrapError(err, "failed to marshal metadata")
	}

	ttl := time.Until(meta.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	return i.store.Put(ctx, metaPrefix+key, data, ttl)
}

// RecordAccess bumps hit count and access time for a key. Best effort; a
// failure here never affects the read that triggered it.
func (i *Index) RecordAccess(ctx context.Context, key string) {
	meta, err := i.load(ctx, key)
	if err != nil || meta == nil {
		return
	}

	meta.HitCount++
	meta.LastAccessed = time.Now()

	data, err := utils.Marshal(meta)
	if err != nil {
		return
	}

	ttl := time.Until(meta.ExpiresAt)
	if ttl <= 0 {
		return
	}

	if err := i.store.Put(ctx, metaPrefix+key, data, ttl); err != nil {
		i.logger.Debug("failed to update access metadata", zap.String("key", key), zap.Error(err))
	}
}

func (i *Index) RecordDelete(ctx context.Context, key string) {
	i.deletes.Add(1)

	if err := i.store.Delete(ctx, metaPrefix+key); err != nil {
		i.logger.Debug("failed to delete metadata", zap.String("key", key), zap.Error(err))
	}
}

func (i *Index) FindByTag(ctx context.Context, tag string) ([]types.EntryMetadata, error) {
	return i.scan(ctx, func(meta *types.EntryMetadata) bool {
		for _, t := range meta.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

func (i *Index) FindByPattern(ctx context.Context, p string) ([]types.EntryMetadata, error) {
	matcher, err := pattern.Compile(p)
	if err != nil {
		return nil, err
	}

	return i.scan(ctx, func(meta *types.EntryMetadata) bool {
		return matcher.Matches(meta.Key)
	})
}

func (i *Index) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	metas, err := i.scan(ctx, func(meta *types.EntryMetadata) bool {
		last := meta.LastAccessed
		if last.IsZero() {
			last = meta.CreatedAt
		}
		return last.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	for _, meta := range metas {
		if err := i.store.Delete(ctx, metaPrefix+meta.Key); err != nil {
			i.logger.Warn("failed to delete stale metadata", zap.String("key", meta.Key), zap.Error(err))
			continue
		}
		removed++
	}

	return removed, nil
}

// Metrics derives hit and miss rates from the raw counters on every call.
func (i *Index) Metrics(ctx context.Context) (types.CacheMetricsData, error) {
	data := types.CacheMetricsData{
		Hits:    i.hits.Load(),
		Misses:  i.misses.Load(),
		Sets:    i.sets.Load(),
		Deletes: i.deletes.Load(),
	}

	total := data.Hits + data.Misses
	if total > 0 {
		data.HitRate = float64(data.Hits) / float64(total)
		data.MissRate = float64(data.Misses) / float64(total)
	}

	metas, err := i.scan(ctx, func(*types.EntryMetadata) bool { return true })
	if err != nil {
		return data, err
	}

	data.TotalKeys = len(metas)
	for _, meta := range metas {
		data.TotalSize += int64(meta.Size)
	}

	return data, nil
}

func (i *Index) load(ctx context.Context, key string) (*types.EntryMetadata, error) {
	data, found, err := i.store.Get(ctx, metaPrefix+key)
	if err != nil || !found {
		return nil, err
	}

	var meta types.EntryMetadata
	if err := utils.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// scan walks the metadata listing, skipping keys that fail to load so one
// bad document never aborts the whole lookup.
func (i *Index) scan(ctx context.Context, match func(*types.EntryMetadata) bool) ([]types.EntryMetadata, error) {
	infos, err := i.store.List(ctx, types.ListOptions{Prefix: metaPrefix, Limit: i.maxList})
	if err != nil {
		return nil, types.WrapError(err, "failed to list metadata")
	}

	results := make([]types.EntryMetadata, 0, len(infos))
	for _, info := range infos {
		data, found, err := i.store.Get(ctx, info.Name)
		if err != nil {
			i.logger.Debug("skipping unreadable metadata", zap.String("key", info.Name), zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		var meta types.EntryMetadata
		if err := utils.Unmarshal(data, &meta); err != nil {
			i.logger.Debug("skipping corrupt metadata", zap.String("key", info.Name), zap.Error(err))
			continue
		}

		if match(&meta) {
			results = append(results, meta)
		}
	}

	return results, nil
}
