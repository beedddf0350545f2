package kv

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const cloverCollection = "kv_entries"

type CloverConfig struct {
	Path            string        `json:"path"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// CloverStore is an embedded persistent backend for single-instance
// deployments and tests. TTL expiry is enforced lazily on read and by a
// periodic sweep since the engine has no server-side expiry.
type CloverStore struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	config     *CloverConfig
	db         *clover.DB
	state      atomic.Value
	shutdownCh chan struct{}
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.KVStore, error) {
	cloverConfig := &CloverConfig{
		Path:            "",
		CleanupInterval: 10 * time.Minute,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover store config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		return nil, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &CloverStore{
		ctx:        storeCtx,
		cancel:     cancel,
		logger:     logger,
		config:     cloverConfig,
		db:         db,
		shutdownCh: make(chan struct{}),
	}

	store.state.Store(StateStopped)

	return store, nil
}

func (c *CloverStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrKeyEmpty
	}

	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		c.logger.Error("failed to query key", zap.String("key", key), zap.Error(err))
		return nil, false, types.WrapError(types.ErrStoreUnavailable, err.Error())
	}
	if doc == nil {
		return nil, false, nil
	}

	expiresAt, _ := doc.Get("expires_at").(int64)
	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		if err := c.deleteByKey(key); err != nil {
			c.logger.Error("failed to delete expired key", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}

	value, _ := doc.Get("value").(string)
	return []byte(value), true, nil
}

func (c *CloverStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}

	query := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key))
	count, err := query.Count()
	if err != nil {
		return types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	if count > 0 {
		err = query.Update(map[string]interface{}{
			"value":      string(value),
			"expires_at": expiresAt,
		})
		if err != nil {
			return types.WrapError(types.ErrStoreUnavailable, err.Error())
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("value", string(value))
	doc.Set("expires_at", expiresAt)

	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := c.deleteByKey(key); err != nil {
		return types.WrapError(types.ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (c *CloverStore) List(_ context.Context, opts types.ListOptions) ([]types.KeyInfo, error) {
	docs, err := c.db.Query(cloverCollection).Sort(clover.SortOption{Field: "key", Direction: 1}).FindAll()
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, err.Error())
	}

	now := time.Now().UnixNano()
	keys := make([]types.KeyInfo, 0, len(docs))

	for _, doc := range docs {
		key, _ := doc.Get("key").(string)
		if key == "" {
			continue
		}
		if expiresAt, _ := doc.Get("expires_at").(int64); expiresAt > 0 && now > expiresAt {
			continue
		}
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}

		keys = append(keys, types.KeyInfo{Name: key})
		if opts.Limit > 0 && len(keys) >= opts.Limit {
			break
		}
	}

	return keys, nil
}

func (c *CloverStore) Start() error {
	if !c.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	go c.cleanupWorker()

	c.logger.Info("Clover store started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	close(c.shutdownCh)
	c.cancel()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover store stopped")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.state.Load() == StateRunning
}

func (c *CloverStore) deleteByKey(key string) error {
	return c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete()
}

func (c *CloverStore) cleanupWorker() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := c.db.Query(cloverCollection).
				Where(clover.Field("expires_at").Gt(int64(0)).And(clover.Field("expires_at").Lt(time.Now().UnixNano()))).
				Delete()
			if err != nil {
				c.logger.Error("failed to sweep expired documents", zap.Error(err))
			}
		case <-c.shutdownCh:
			return
		case <-c.ctx.Done():
			return
		}
	}
}
