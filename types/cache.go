package types

import (
	"context"
	"time"
)

type Fetcher func(ctx context.Context) (interface{}, error)

type CacheAdapter interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetTagged(ctx context.Context, key string, value interface{}, ttl time.Duration, contentType string, tags ...string) error
	Delete(ctx context.Context, key string) error
	GetOrSet(ctx context.Context, key string, fetcher Fetcher, ttl time.Duration) (interface{}, error)
	ListKeys(ctx context.Context, prefix string, limit int) ([]string, error)
}

type CacheEntry struct {
	Key       string        `json:"key"`
	Value     interface{}   `json:"value"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type EntryMetadata struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	HitCount     int64     `json:"hit_count"`
	Size         int       `json:"size"`
	ContentType  string    `json:"content_type"`
	Tags         []string  `json:"tags"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// MetadataIndex tracks per-key metadata and aggregate cache statistics.
// Lookup scans are O(n) in tracked keys; callers bound listing size.
type MetadataIndex interface {
	RecordAccess(ctx context.Context, key string)
	RecordWrite(ctx context.Context, key string, meta EntryMetadata) error
	RecordHit(ctx context.Context)
	RecordMiss(ctx context.Context)
	RecordDelete(ctx context.Context, key string)
	FindByTag(ctx context.Context, tag string) ([]EntryMetadata, error)
	FindByPattern(ctx context.Context, pattern string) ([]EntryMetadata, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Metrics(ctx context.Context) (CacheMetricsData, error)
}

// CacheMetricsData carries raw counters; HitRate and MissRate are derived
// on every read, never stored.
type CacheMetricsData struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	HitRate   float64 `json:"hit_rate"`
	MissRate  float64 `json:"miss_rate"`
	TotalKeys int     `json:"total_keys"`
	TotalSize int64   `json:"total_size"`
}
