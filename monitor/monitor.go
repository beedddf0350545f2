package monitor

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const (
	realtimeDocumentKey = "monitor:realtime"
	dayLayout           = "2006-01-02"

	DefaultRealtimeSize  = 100
	DefaultRealtimeTTL   = 5 * time.Minute
	DefaultStoragePath   = "./performance.db"
	DefaultRetentionDays = 7

	cleanupInterval = time.Hour
	topN            = 5
)

type MonitorState int32

const (
	MonitorStateStopped MonitorState = iota
	MonitorStateStarting
	MonitorStateRunning
	MonitorStateStopping
)

// Monitor keeps request metrics twice: a short realtime ring in the
// key-value store for anomaly detection, and day-partitioned rows in a
// local sqlite database for report aggregation.
type Monitor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	store      types.KVStore
	logger     types.Logger
	config     *types.MonitorConfig
	db         *sql.DB
	docKey     string
	ringSize   int
	ringTTL    time.Duration
	retention  time.Duration
	state      atomic.Value
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ringMu     sync.Mutex
}

type realtimeBuffer struct {
	Metrics []types.PerformanceMetric `json:"metrics"`
}

func NewMonitor(ctx context.Context, store types.KVStore, logger types.Logger, config *types.MonitorConfig, namespace string) *Monitor {
	if config == nil {
		config = &types.MonitorConfig{Enabled: true}
	}

	docKey := realtimeDocumentKey
	if namespace != "" {
		docKey = namespace + ":" + realtimeDocumentKey
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	monitor := &Monitor{
		ctx:        monitorCtx,
		cancel:     cancel,
		store:      store,
		logger:     logger,
		config:     config,
		docKey:     docKey,
		ringSize:   DefaultRealtimeSize,
		ringTTL:    DefaultRealtimeTTL,
		retention:  DefaultRetentionDays * 24 * time.Hour,
		shutdownCh: make(chan struct{}),
	}
	monitor.state.Store(MonitorStateStopped)

	if config.RealtimeSize > 0 {
		monitor.ringSize = config.RealtimeSize
	}
	if config.RealtimeTTL > 0 {
		monitor.ringTTL = config.RealtimeTTL
	}
	if config.RetentionDays > 0 {
		monitor.retention = time.Duration(config.RetentionDays) * 24 * time.Hour
	}

	return monitor
}

func (m *Monitor) Start() error {
	if !m.state.CompareAndSwap(MonitorStateStopped, MonitorStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	path := m.config.StoragePath
	if path == "" {
		path = DefaultStoragePath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		m.state.Store(MonitorStateStopped)
		return types.WrapError(err, "failed to open performance storage")
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		m.state.Store(MonitorStateStopped)
		return types.WrapError(err, "failed to create performance schema")
	}
	m.db = db

	m.wg.Add(1)
	go m.retentionWorker()

	m.state.Store(MonitorStateRunning)
	m.logger.Info("Performance monitor started",
		zap.String("storage", path),
		zap.Int("realtime_size", m.ringSize))

	return nil
}

func (m *Monitor) Stop() error {
	if !m.state.CompareAndSwap(MonitorStateRunning, MonitorStateStopping) {
		return types.ErrServerNotRunning
	}

	close(m.shutdownCh)
	m.wg.Wait()
	m.cancel()

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Error("failed to close performance storage", zap.Error(err))
		}
	}

	m.state.Store(MonitorStateStopped)
	m.logger.Info("Performance monitor stopped")
	return nil
}

func (m *Monitor) IsRunning() bool {
	return m.state.Load().(MonitorState) == MonitorStateRunning
}

func createSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS performance_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		ts INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		response_time_ms REAL NOT NULL,
		cache_hit INTEGER NOT NULL,
		cdn_hit INTEGER NOT NULL,
		cache_key TEXT,
		transformation_ms REAL,
		content_size INTEGER,
		status_code INTEGER,
		error TEXT,
		geolocation TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_performance_metrics_day ON performance_metrics(day);
	CREATE INDEX IF NOT EXISTS idx_performance_metrics_ts ON performance_metrics(ts);
	`
	_, err := db.Exec(query)
	return err
}

// RecordMetrics writes the metric to long-term storage and appends it to
// the realtime ring, trimming the ring to its bound.
func (m *Monitor) RecordMetrics(ctx context.Context, metric types.PerformanceMetric) error {
	if !m.IsRunning() {
		return types.ErrServerNotRunning
	}

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	query := `INSERT INTO performance_metrics
		(day, ts, endpoint, method, response_time_ms, cache_hit, cdn_hit, cache_key, transformation_ms, content_size, status_code, error, geolocation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := m.db.ExecContext(ctx, query,
		metric.Timestamp.Format(dayLayout),
		metric.Timestamp.UnixMilli(),
		metric.Endpoint,
		metric.Method,
		metric.ResponseTimeMs,
		metric.CacheHit,
		metric.CDNHit,
		metric.CacheKey,
		metric.TransformationMs,
		metric.ContentSize,
		metric.StatusCode,
		metric.Error,
		metric.Geolocation)
	if err != nil {
		return types.Errorf(types.ErrMonitorStorageFailed, "insert failed: %v", err)
	}

	if err := m.appendRealtime(ctx, metric); err != nil {
		// Realtime ring failures degrade anomaly detection only.
		m.logger.Warn("failed to update realtime metrics", zap.Error(err))
	}

	return nil
}

func (m *Monitor) appendRealtime(ctx context.Context, metric types.PerformanceMetric) error {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()

	buffer, err := m.loadRealtime(ctx)
	if err != nil {
		return err
	}

	buffer.Metrics = append(buffer.Metrics, metric)
	if len(buffer.Metrics) > m.ringSize {
		buffer.Metrics = buffer.Metrics[len(buffer.Metrics)-m.ringSize:]
	}

	data, err := utils.Marshal(buffer)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, m.docKey, data, m.ringTTL)
}

func (m *Monitor) loadRealtime(ctx context.Context) (*realtimeBuffer, error) {
	buffer := &realtimeBuffer{}

	data, found, err := m.store.Get(ctx, m.docKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return buffer, nil
	}

	if err := utils.Unmarshal(data, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// GetReport aggregates stored metrics within [from, to].
func (m *Monitor) GetReport(ctx context.Context, from, to time.Time) (*types.PerformanceReport, error) {
	if !m.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	query := `SELECT endpoint, response_time_ms, cache_hit, cdn_hit, cache_key, transformation_ms, status_code, error, geolocation
		FROM performance_metrics WHERE ts >= ? AND ts <= ?`

	rows, err := m.db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, types.Errorf(types.ErrMonitorStorageFailed, "report query failed: %v", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	report := &types.PerformanceReport{From: from, To: to}

	var totalResponse, totalTransformation float64
	var hits, cdnHits, errors int
	endpointTotals := make(map[string]*types.EndpointStat)
	geoCounts := make(map[string]int)
	missCounts := make(map[string]int)

	for rows.Next() {
		var endpoint, cacheKey, errText, geo string
		var responseMs, transformMs float64
		var cacheHit, cdnHit bool
		var statusCode int

		if err := rows.Scan(&endpoint, &responseMs, &cacheHit, &cdnHit, &cacheKey, &transformMs, &statusCode, &errText, &geo); err != nil {
			return nil, types.Errorf(types.ErrMonitorStorageFailed, "report scan failed: %v", err)
		}

		report.TotalRequests++
		totalResponse += responseMs
		totalTransformation += transformMs

		if cacheHit {
			hits++
		} else if cacheKey != "" {
			missCounts[cacheKey]++
		}
		if cdnHit {
			cdnHits++
		}
		if errText != "" || statusCode >= 500 {
			errors++
		}

		stat := endpointTotals[endpoint]
		if stat == nil {
			stat = &types.EndpointStat{Endpoint: endpoint}
			endpointTotals[endpoint] = stat
		}
		stat.Requests++
		// AverageTimeMs holds the running sum until finalization below.
		stat.AverageTimeMs += responseMs

		if geo != "" {
			geoCounts[geo]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrMonitorStorageFailed, "report iteration failed: %v", err)
	}

	if report.TotalRequests > 0 {
		total := float64(report.TotalRequests)
		report.AverageResponseTimeMs = totalResponse / total
		report.AvgTransformationMs = totalTransformation / total
		report.CacheHitRate = float64(hits) / total
		report.CDNHitRate = float64(cdnHits) / total
		report.ErrorRate = float64(errors) / total
	}

	for _, stat := range endpointTotals {
		stat.AverageTimeMs /= float64(stat.Requests)
		report.SlowestEndpoints = append(report.SlowestEndpoints, *stat)
	}
	sort.Slice(report.SlowestEndpoints, func(i, j int) bool {
		return report.SlowestEndpoints[i].AverageTimeMs > report.SlowestEndpoints[j].AverageTimeMs
	})
	if len(report.SlowestEndpoints) > topN {
		report.SlowestEndpoints = report.SlowestEndpoints[:topN]
	}

	for geo, count := range geoCounts {
		report.TopGeolocations = append(report.TopGeolocations, types.GeoStat{Geolocation: geo, Requests: count})
	}
	sort.Slice(report.TopGeolocations, func(i, j int) bool {
		return report.TopGeolocations[i].Requests > report.TopGeolocations[j].Requests
	})
	if len(report.TopGeolocations) > topN {
		report.TopGeolocations = report.TopGeolocations[:topN]
	}

	for key, misses := range missCounts {
		report.CacheMissHotKeys = append(report.CacheMissHotKeys, types.HotKeyStat{CacheKey: key, Misses: misses})
	}
	sort.Slice(report.CacheMissHotKeys, func(i, j int) bool {
		return report.CacheMissHotKeys[i].Misses > report.CacheMissHotKeys[j].Misses
	})
	if len(report.CacheMissHotKeys) > topN {
		report.CacheMissHotKeys = report.CacheMissHotKeys[:topN]
	}

	return report, nil
}

// Anomaly thresholds over the realtime window.
const (
	responseTimeMediumMs = 1000.0
	responseTimeHighMs   = 2000.0
	hitRateMedium        = 0.50
	hitRateLow           = 0.30
	errorRateMedium      = 0.05
	errorRateHigh        = 0.10
)

func (m *Monitor) DetectAnomalies(ctx context.Context) ([]types.Anomaly, error) {
	if !m.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	buffer, err := m.loadRealtime(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to load realtime metrics")
	}

	cutoff := time.Now().Add(-m.ringTTL)
	var totalResponse float64
	var requests, hits, errors int

	for i := range buffer.Metrics {
		if buffer.Metrics[i].Timestamp.Before(cutoff) {
			continue
		}
		requests++
		totalResponse += buffer.Metrics[i].ResponseTimeMs
		if buffer.Metrics[i].CacheHit {
			hits++
		}
		if buffer.Metrics[i].Error != "" || buffer.Metrics[i].StatusCode >= 500 {
			errors++
		}
	}

	if requests == 0 {
		return nil, nil
	}

	var anomalies []types.Anomaly

	avgResponse := totalResponse / float64(requests)
	if avgResponse > responseTimeMediumMs {
		severity := types.SeverityMedium
		if avgResponse > responseTimeHighMs {
			severity = types.SeverityHigh
		}
		anomalies = append(anomalies, types.Anomaly{
			Type:        "high_response_time",
			Severity:    severity,
			Description: "average response time " + formatMs(avgResponse),
		})
	}

	hitRate := float64(hits) / float64(requests)
	if hitRate < hitRateMedium {
		severity := types.SeverityMedium
		if hitRate < hitRateLow {
			severity = types.SeverityHigh
		}
		anomalies = append(anomalies, types.Anomaly{
			Type:        "low_cache_hit_rate",
			Severity:    severity,
			Description: "cache hit rate " + formatPercent(hitRate),
		})
	}

	errorRate := float64(errors) / float64(requests)
	if errorRate > errorRateMedium {
		severity := types.SeverityMedium
		if errorRate > errorRateHigh {
			severity = types.SeverityHigh
		}
		anomalies = append(anomalies, types.Anomaly{
			Type:        "high_error_rate",
			Severity:    severity,
			Description: "error rate " + formatPercent(errorRate),
		})
	}

	return anomalies, nil
}

func (m *Monitor) retentionWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdownCh:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			cutoffDay := time.Now().Add(-m.retention).Format(dayLayout)
			result, err := m.db.Exec(`DELETE FROM performance_metrics WHERE day < ?`, cutoffDay)
			if err != nil {
				m.logger.Error("failed to prune performance metrics", zap.Error(err))
				continue
			}
			if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
				m.logger.Info("Performance metrics pruned",
					zap.Int64("deleted", deleted),
					zap.String("cutoff_day", cutoffDay))
			}
		}
	}
}
