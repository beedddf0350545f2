package invalidation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const (
	metricsDocumentKey = "invalidation:metrics"
	maxRecentRecords   = 50
)

// Recorder accumulates invalidation statistics in a single store document:
// running totals, per-pattern averages and a bounded recent-activity log.
type Recorder struct {
	store  types.KVStore
	logger types.Logger
	docKey string
}

func NewRecorder(store types.KVStore, logger types.Logger, namespace string) *Recorder {
	docKey := metricsDocumentKey
	if namespace != "" {
		docKey = namespace + ":" + metricsDocumentKey
	}

	return &Recorder{
		store:  store,
		logger: logger,
		docKey: docKey,
	}
}

func (r *Recorder) Record(ctx context.Context, result *types.InvalidationResult) {
	metrics, err := r.Metrics(ctx)
	if err != nil {
		r.logger.Warn("failed to load invalidation metrics", zap.Error(err))
		return
	}

	durationMs := float64(result.Duration) / float64(time.Millisecond)

	// Running mean over all invalidations.
	metrics.AverageDurationMs = (metrics.AverageDurationMs*float64(metrics.TotalCount) + durationMs) / float64(metrics.TotalCount+1)
	metrics.TotalCount++
	if result.Success {
		metrics.SuccessCount++
	} else {
		metrics.FailureCount++
	}

	stats := metrics.Patterns[result.Pattern]
	if stats == nil {
		stats = &types.PatternStats{}
		metrics.Patterns[result.Pattern] = stats
	}
	stats.Calls++
	if result.Success {
		stats.Successes++
	}
	stats.TotalTimeMs += durationMs
	stats.AverageTimeMs = stats.TotalTimeMs / float64(stats.Calls)
	stats.SuccessRate = float64(stats.Successes) / float64(stats.Calls)

	metrics.Recent = append(metrics.Recent, types.InvalidationRecord{
		Pattern:          result.Pattern,
		ItemsInvalidated: result.ItemsInvalidated,
		DurationMs:       durationMs,
		Success:          result.Success,
		Timestamp:        time.Now(),
	})
	if len(metrics.Recent) > maxRecentRecords {
		metrics.Recent = metrics.Recent[len(metrics.Recent)-maxRecentRecords:]
	}

	if err := r.save(ctx, metrics); err != nil {
		r.logger.Warn("failed to save invalidation metrics", zap.Error(err))
	}
}

func (r *Recorder) Metrics(ctx context.Context) (*types.InvalidationMetrics, error) {
	metrics := &types.InvalidationMetrics{
		Patterns: make(map[string]*types.PatternStats),
	}

	data, found, err := r.store.Get(ctx, r.docKey)
	if err != nil {
		return metrics, types.WrapError(err, "failed to load invalidation metrics")
	}
	if !found {
		return metrics, nil
	}

	if err := utils.Unmarshal(data, metrics); err != nil {
		return metrics, types.WrapError(err, "failed to unmarshal invalidation metrics")
	}
	if metrics.Patterns == nil {
		metrics.Patterns = make(map[string]*types.PatternStats)
	}

	return metrics, nil
}

func (r *Recorder) save(ctx context.Context, metrics *types.InvalidationMetrics) error {
	data, err := utils.Marshal(metrics)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.docKey, data, 0)
}
