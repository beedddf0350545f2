package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

type MemoryConfig struct {
	MaxEntries      int           `json:"max_entries"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type MemoryStore struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	config     *MemoryConfig
	data       map[string]*memoryEntry
	mu         sync.RWMutex
	state      atomic.Value
	shutdownCh chan struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.KVStore, error) {
	memConfig := &MemoryConfig{
		MaxEntries:      100000,
		CleanupInterval: 5 * time.Minute,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:        storeCtx,
		cancel:     cancel,
		logger:     logger,
		config:     memConfig,
		data:       make(map[string]*memoryEntry),
		shutdownCh: make(chan struct{}),
	}

	store.state.Store(StateStopped)

	return store, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrKeyEmpty
	}

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if entry.expired(time.Now()) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.data) >= m.config.MaxEntries {
		if _, exists := m.data[key]; !exists {
			m.evictExpiredLocked(time.Now())
		}
	}

	m.data[key] = &memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, opts types.ListOptions) ([]types.KeyInfo, error) {
	now := time.Now()

	m.mu.RLock()
	names := make([]string, 0, len(m.data))
	for key, entry := range m.data {
		if entry.expired(now) {
			continue
		}
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		names = append(names, key)
	}
	m.mu.RUnlock()

	sort.Strings(names)

	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}

	keys := make([]types.KeyInfo, len(names))
	for i, name := range names {
		keys[i] = types.KeyInfo{Name: name}
	}
	return keys, nil
}

func (m *MemoryStore) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	go m.cleanupWorker()

	m.logger.Info("Memory store started", zap.Int("max_entries", m.config.MaxEntries))
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	close(m.shutdownCh)
	m.cancel()

	m.mu.Lock()
	m.data = make(map[string]*memoryEntry)
	m.mu.Unlock()

	m.logger.Info("Memory store stopped")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.state.Load() == StateRunning
}

func (m *MemoryStore) cleanupWorker() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			removed := m.evictExpiredLocked(time.Now())
			m.mu.Unlock()

			if removed > 0 {
				m.logger.Debug("Removed expired entries", zap.Int("count", removed))
			}
		case <-m.shutdownCh:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *MemoryStore) evictExpiredLocked(now time.Time) int {
	removed := 0
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}
