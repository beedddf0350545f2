package invalidation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/peakfeed/cache-service/pattern"
	"github.com/peakfeed/cache-service/types"
)

const (
	DefaultMaxItems = 1000
	DefaultTimeout  = 30 * time.Second
)

// batchSizeFor bounds concurrent deletion fan-out per parallel wave.
func batchSizeFor(priority types.Priority) int {
	switch priority {
	case types.PriorityCritical:
		return 50
	case types.PriorityHigh:
		return 30
	case types.PriorityMedium:
		return 20
	default:
		return 10
	}
}

type PatternExecutor struct {
	adapter  types.CacheAdapter
	recorder types.InvalidationRecorder
	logger   types.Logger
	metrics  types.MetricsManager
	limiter  *rate.Limiter
	maxItems int
	timeout  time.Duration
}

func NewPatternExecutor(adapter types.CacheAdapter, recorder types.InvalidationRecorder, logger types.Logger, metrics types.MetricsManager, config *types.InvalidationConfig) *PatternExecutor {
	executor := &PatternExecutor{
		adapter:  adapter,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		maxItems: DefaultMaxItems,
		timeout:  DefaultTimeout,
	}

	if config != nil {
		if config.MaxItems > 0 {
			executor.maxItems = config.MaxItems
		}
		if config.Timeout > 0 {
			executor.timeout = config.Timeout
		}
		if config.DeleteRate > 0 {
			executor.limiter = rate.NewLimiter(rate.Limit(config.DeleteRate), int(config.DeleteRate))
		}
	}

	return executor
}

// InvalidateByPattern lists all keys, filters them through the compiled
// pattern and deletes the survivors in priority-sized waves. The delete
// phase races a wall-clock deadline; on timeout already-completed deletions
// are not rolled back.
func (pe *PatternExecutor) InvalidateByPattern(ctx context.Context, p string, opts types.InvalidateOptions) (*types.InvalidationResult, error) {
	matcher, err := pattern.Compile(p)
	if err != nil {
		return nil, err
	}

	opts = pe.withDefaults(opts)
	start := time.Now()

	result := &types.InvalidationResult{
		Pattern: p,
		DryRun:  opts.DryRun,
	}

	keys, err := pe.adapter.ListKeys(ctx, "", 0)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		pe.record(ctx, opts, result)
		return result, nil
	}

	matched := matcher.MatchKeys(keys)
	if len(matched) > opts.MaxItems {
		matched = matched[:opts.MaxItems]
	}

	if opts.DryRun {
		result.Success = true
		result.ItemsInvalidated = len(matched)
		result.Duration = time.Since(start)
		pe.record(ctx, opts, result)
		return result, nil
	}

	deleted, errs, timeoutErr := pe.deletePhase(ctx, matched, opts)
	timedOut := types.IsError(timeoutErr, types.ErrInvalidationTimeout)

	result.ItemsInvalidated = deleted
	result.Errors = errs
	if timedOut {
		result.Errors = append(result.Errors, "Invalidation timeout")
	}
	result.Success = !timedOut && len(errs) == 0
	result.Duration = time.Since(start)

	pe.record(ctx, opts, result)

	if !result.Success {
		pe.logger.Warn("Invalidation finished with errors",
			zap.String("pattern", p),
			zap.Int("items_invalidated", deleted),
			zap.Int("errors", len(result.Errors)),
			zap.Bool("timed_out", timedOut))
	} else {
		pe.logger.Debug("Invalidation completed",
			zap.String("pattern", p),
			zap.Int("items_invalidated", deleted),
			zap.Duration("duration", result.Duration))
	}

	return result, nil
}

func (pe *PatternExecutor) InvalidateByKey(ctx context.Context, key string) error {
	return pe.adapter.Delete(ctx, key)
}

func (pe *PatternExecutor) deletePhase(ctx context.Context, keys []string, opts types.InvalidateOptions) (int, []string, error) {
	deleteCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var deleted atomic.Int64
	var mu sync.Mutex
	var errs []string

	done := make(chan struct{})

	go func() {
		defer close(done)

		batchSize := batchSizeFor(opts.Priority)
		for i := 0; i < len(keys); i += batchSize {
			select {
			case <-deleteCtx.Done():
				return
			default:
			}

			end := i + batchSize
			if end > len(keys) {
				end = len(keys)
			}

			g, gCtx := errgroup.WithContext(deleteCtx)
			for _, key := range keys[i:end] {
				k := key
				g.Go(func() error {
					if pe.limiter != nil {
						if err := pe.limiter.Wait(gCtx); err != nil {
							return nil
						}
					}

					if err := pe.adapter.Delete(gCtx, k); err != nil {
						mu.Lock()
						errs = append(errs, err.Error())
						mu.Unlock()
						return nil
					}

					deleted.Add(1)
					return nil
				})
			}
			_ = g.Wait()
		}
	}()

	var timeoutErr error
	select {
	case <-done:
	case <-deleteCtx.Done():
		// In-flight deletes are abandoned, not awaited.
		timeoutErr = types.ErrInvalidationTimeout
	}

	// Abandoned goroutines may still be appending; snapshot under the lock.
	mu.Lock()
	collected := make([]string, len(errs))
	copy(collected, errs)
	mu.Unlock()

	return int(deleted.Load()), collected, timeoutErr
}

func (pe *PatternExecutor) withDefaults(opts types.InvalidateOptions) types.InvalidateOptions {
	if opts.MaxItems <= 0 {
		opts.MaxItems = pe.maxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = pe.timeout
	}
	if !opts.Priority.Valid() {
		opts.Priority = types.PriorityMedium
	}
	return opts
}

func (pe *PatternExecutor) record(ctx context.Context, opts types.InvalidateOptions, result *types.InvalidationResult) {
	if opts.TrackPerformance && pe.recorder != nil {
		pe.recorder.Record(ctx, result)
	}

	if pe.metrics == nil {
		return
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}
	if result.DryRun {
		status = "dry_run"
	}

	counter := pe.metrics.Counter("invalidation_runs_total", map[string]string{"result": status})
	counter.Inc()

	histogram := pe.metrics.Histogram("invalidation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 5.0, 30.0},
		nil)
	histogram.Observe(result.Duration.Seconds())
}
