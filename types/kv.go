package types

import (
	"context"
	"time"
)

// KVStore is the storage contract every backend implements. Each call is
// individually consistent; calls do not compose atomically and List is
// best-effort with respect to very recent writes and deletes.
type KVStore interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) ([]KeyInfo, error)
}

type KVStoreCreator func(config interface{}) (KVStore, error)

type ListOptions struct {
	Prefix string
	Limit  int
}

type KeyInfo struct {
	Name string `json:"name"`
}
