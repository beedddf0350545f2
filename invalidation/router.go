package invalidation

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
)

// delayedDispatchDelay postpones rules flagged delayed so bursts of related
// events coalesce into one queued invalidation window.
const delayedDispatchDelay = 30 * time.Second

// Router matches incoming domain events against the rule set and dispatches
// the winning rules, most urgent first. One rule failing never blocks the
// rules behind it.
type Router struct {
	engine      types.RuleEngine
	executor    types.Executor
	queue       types.InvalidationQueue
	broadcaster types.Broadcaster
	logger      types.Logger
}

func NewRouter(engine types.RuleEngine, executor types.Executor, queue types.InvalidationQueue, broadcaster types.Broadcaster, logger types.Logger) *Router {
	return &Router{
		engine:      engine,
		executor:    executor,
		queue:       queue,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (r *Router) InvalidateByEvent(ctx context.Context, event types.InvalidationEvent) error {
	if event.Type == "" {
		return types.ErrInvalidEvent
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	enabled := true
	rules, err := r.engine.ListRules(ctx, types.RuleFilter{Enabled: &enabled})
	if err != nil {
		return types.WrapError(err, "failed to list rules for event")
	}

	var matched []types.InvalidationRule
	for i := range rules {
		if r.engine.EventMatchesRule(&rules[i], &event) {
			matched = append(matched, rules[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority.Weight() > matched[j].Priority.Weight()
	})

	for i := range matched {
		r.dispatch(ctx, &matched[i], &event)
	}

	r.logger.Debug("event routed",
		zap.String("type", string(event.Type)),
		zap.Int("rules_matched", len(matched)))

	return nil
}

func (r *Router) OnContentUpdate(ctx context.Context, contentID, contentType, userID string) error {
	return r.InvalidateByEvent(ctx, types.InvalidationEvent{
		Type:        types.EventContentUpdate,
		ContentID:   contentID,
		ContentType: contentType,
		UserID:      userID,
		Action:      "content_update",
		Timestamp:   time.Now(),
	})
}

func (r *Router) OnUserAction(ctx context.Context, userID, action, targetID string) error {
	return r.InvalidateByEvent(ctx, types.InvalidationEvent{
		Type:      types.EventUserAction,
		UserID:    userID,
		Action:    action,
		ContentID: targetID,
		Timestamp: time.Now(),
	})
}

// dispatch triggers a single matched rule. Errors are logged and swallowed
// so subsequent rules still run.
func (r *Router) dispatch(ctx context.Context, rule *types.InvalidationRule, event *types.InvalidationEvent) {
	if err := r.engine.MarkTriggered(ctx, rule.ID); err != nil {
		r.logger.Warn("failed to mark rule triggered",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}

	switch {
	case rule.Strategy.Delayed:
		if _, err := r.queue.Enqueue(ctx, rule.Pattern, rule.Priority, delayedDispatchDelay); err != nil {
			r.logger.Error("failed to enqueue delayed invalidation",
				zap.String("rule_id", rule.ID),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
		}
	case rule.Strategy.Batched:
		if _, err := r.queue.Enqueue(ctx, rule.Pattern, rule.Priority, 0); err != nil {
			r.logger.Error("failed to enqueue batched invalidation",
				zap.String("rule_id", rule.ID),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
		}
	default:
		result, err := r.executor.InvalidateByPattern(ctx, rule.Pattern, types.InvalidateOptions{
			Immediate:        rule.Strategy.Immediate,
			Priority:         rule.Priority,
			TrackPerformance: rule.Monitored,
		})
		if err != nil {
			r.logger.Error("rule invalidation failed",
				zap.String("rule_id", rule.ID),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
			return
		}
		if !result.Success {
			r.logger.Warn("rule invalidation finished with errors",
				zap.String("rule_id", rule.ID),
				zap.String("pattern", rule.Pattern),
				zap.Int("errors", len(result.Errors)))
		}
	}

	if rule.Strategy.Cascading && r.broadcaster != nil {
		if err := r.broadcaster.BroadcastInvalidation(ctx, rule.Pattern); err != nil {
			r.logger.Warn("failed to broadcast invalidation",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
		}
	}
}
