package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type MemoryConfig struct {
	MaxMetrics      int           `yaml:"max_metrics" json:"max_metrics"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// MemoryMetrics keeps every metric in process memory. It is the default
// backend for tests and single-node deployments where scraping is not set up.
type MemoryMetrics struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        types.Logger
	config        *MemoryConfig
	counters      map[string]*MemoryCounter
	gauges        map[string]*MemoryGauge
	histograms    map[string]*MemoryHistogram
	systemMetrics *SystemMetricsCollector
	state         atomic.Value
	stopCleanup   chan struct{}
	collections   uint64
	mu            sync.RWMutex
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	var memConfig = &MemoryConfig{
		MaxMetrics:      10000,
		CleanupInterval: time.Hour,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	memoryCtx, cancel := context.WithCancel(ctx)

	metrics := &MemoryMetrics{
		ctx:         memoryCtx,
		cancel:      cancel,
		logger:      logger,
		config:      memConfig,
		counters:    make(map[string]*MemoryCounter),
		gauges:      make(map[string]*MemoryGauge),
		histograms:  make(map[string]*MemoryHistogram),
		stopCleanup: make(chan struct{}),
	}

	metrics.state.Store(MemoryStateStopped)

	return metrics, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory metrics is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	go m.cleanupRoutine()

	if m.systemMetrics == nil {
		m.systemMetrics = NewSystemMetricsCollector(m.ctx, m.logger, m)
	}
	if err := m.systemMetrics.Start(); err != nil {
		m.logger.Warn("Failed to start system metrics collection", zap.Error(err))
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory metrics is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
		m.cancel()
	}()

	if m.systemMetrics != nil {
		if err := m.systemMetrics.Stop(); err != nil {
			m.logger.Warn("Failed to stop system metrics collection", zap.Error(err))
		}
	}

	close(m.stopCleanup)

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryMetrics) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryMetrics) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	if !m.IsRunning() {
		return &MemoryCounter{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{
		name:   name,
		labels: labels,
	}
	m.counters[key] = counter

	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.IsRunning() {
		return &MemoryGauge{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{
		name:   name,
		labels: labels,
	}
	m.gauges[key] = gauge

	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.IsRunning() {
		return &MemoryHistogram{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: make([]float64, len(buckets)),
		counts:  make([]uint64, len(buckets)+1),
	}

	copy(histogram.buckets, buckets)

	m.histograms[key] = histogram

	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var metrics []types.MetricValue

	for _, counter := range m.counters {
		metrics = append(metrics, types.MetricValue{
			Name:      counter.name,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    counter.labels,
			Timestamp: time.Now(),
		})
	}

	for _, gauge := range m.gauges {
		metrics = append(metrics, types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: time.Now(),
		})
	}

	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: time.Now(),
		})
	}

	atomic.AddUint64(&m.collections, 1)
	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) cleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryMetrics) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalMetrics := len(m.counters) + len(m.gauges) + len(m.histograms)
	if totalMetrics <= m.config.MaxMetrics {
		return
	}

	toRemove := totalMetrics - m.config.MaxMetrics
	removed := 0

	for key := range m.counters {
		if removed >= toRemove {
			break
		}
		delete(m.counters, key)
		removed++
	}

	m.logger.Debug("Memory metrics cleanup completed", zap.Int("removed", removed))
}

func buildMemoryKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	key := name
	for k, v := range labels {
		key += "_" + k + "_" + v
	}
	return key
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *MemoryCounter) Add(value float64) {
	atomic.AddUint64(&c.value, uint64(value))
}

func (c *MemoryCounter) Get() float64 {
	return float64(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	for {
		old := atomic.LoadUint64(&g.value)
		newFloat := math.Float64frombits(old) + 1
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Dec() {
	for {
		old := atomic.LoadUint64(&g.value)
		newFloat := math.Float64frombits(old) - 1
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	if h == nil || len(h.buckets) == 0 || len(h.counts) == 0 {
		return
	}

	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1000000))

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	if bucketIndex < len(h.counts) {
		atomic.AddUint64(&h.counts[bucketIndex], 1)
	}
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1000000
}
