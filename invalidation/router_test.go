package invalidation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakfeed/cache-service/rules"
	"github.com/peakfeed/cache-service/types"
)

func newTestRouter(t *testing.T) (*Router, types.RuleEngine, *stubExecutor, *Queue) {
	t.Helper()

	store := newTestStore(t)
	engine := rules.NewEngine(store, nopLogger{}, "")
	executor := &stubExecutor{}
	queue := NewQueue(store, executor, nil, nopLogger{}, "", nil)

	return NewRouter(engine, executor, queue, nil, nopLogger{}), engine, executor, queue
}

func addRule(t *testing.T, engine types.RuleEngine, rule types.InvalidationRule) {
	t.Helper()
	require.NoError(t, engine.AddRule(context.Background(), rule))
}

func TestRouterDispatchesMatchingRule(t *testing.T) {
	router, engine, executor, _ := newTestRouter(t)
	ctx := context.Background()

	addRule(t, engine, types.InvalidationRule{
		ID:          "posts",
		Pattern:     "post:*",
		Description: "invalidate posts on update",
		Priority:    types.PriorityHigh,
		Enabled:     true,
		Conditions:  &types.RuleConditions{Actions: []string{"post_update"}},
	})

	err := router.InvalidateByEvent(ctx, types.InvalidationEvent{
		Type:   types.EventUserAction,
		UserID: "u1",
		Action: "post_update",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"post:*"}, executor.patterns())

	rule, err := engine.GetRule(ctx, "posts")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rule.TriggerCount)
	assert.False(t, rule.LastTriggered.IsZero())
}

func TestRouterSkipsNonMatchingAndDisabledRules(t *testing.T) {
	router, engine, executor, _ := newTestRouter(t)
	ctx := context.Background()

	addRule(t, engine, types.InvalidationRule{
		ID:          "profiles",
		Pattern:     "profile:*",
		Description: "profile updates only",
		Enabled:     true,
		Conditions:  &types.RuleConditions{Actions: []string{"profile_update"}},
	})
	addRule(t, engine, types.InvalidationRule{
		ID:          "disabled",
		Pattern:     "disabled:*",
		Description: "switched off",
		Enabled:     false,
	})

	err := router.InvalidateByEvent(ctx, types.InvalidationEvent{
		Type:   types.EventUserAction,
		Action: "post_update",
	})
	require.NoError(t, err)
	assert.Empty(t, executor.patterns())

	rule, err := engine.GetRule(ctx, "profiles")
	require.NoError(t, err)
	assert.Zero(t, rule.TriggerCount)
}

func TestRouterPriorityOrder(t *testing.T) {
	router, engine, executor, _ := newTestRouter(t)
	ctx := context.Background()

	addRule(t, engine, types.InvalidationRule{
		ID:          "low",
		Pattern:     "low:*",
		Description: "low priority",
		Priority:    types.PriorityLow,
		Enabled:     true,
	})
	addRule(t, engine, types.InvalidationRule{
		ID:          "critical",
		Pattern:     "critical:*",
		Description: "critical priority",
		Priority:    types.PriorityCritical,
		Enabled:     true,
	})

	err := router.InvalidateByEvent(ctx, types.InvalidationEvent{Type: types.EventSystem})
	require.NoError(t, err)
	assert.Equal(t, []string{"critical:*", "low:*"}, executor.patterns())
}

func TestRouterDelayedStrategyEnqueues(t *testing.T) {
	router, engine, executor, queue := newTestRouter(t)
	ctx := context.Background()

	addRule(t, engine, types.InvalidationRule{
		ID:          "delayed",
		Pattern:     "feed:*",
		Description: "coalesce feed invalidations",
		Priority:    types.PriorityMedium,
		Enabled:     true,
		Strategy:    types.RuleStrategy{Delayed: true},
	})

	err := router.InvalidateByEvent(ctx, types.InvalidationEvent{Type: types.EventContentUpdate})
	require.NoError(t, err)

	// Delayed rules go through the queue, not the executor.
	assert.Empty(t, executor.patterns())

	status, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestRouterInvalidEvent(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	err := router.InvalidateByEvent(context.Background(), types.InvalidationEvent{})
	assert.ErrorIs(t, err, types.ErrInvalidEvent)
}

func TestRouterConvenienceEntryPoints(t *testing.T) {
	router, engine, executor, _ := newTestRouter(t)
	ctx := context.Background()

	addRule(t, engine, types.InvalidationRule{
		ID:          "articles",
		Pattern:     "article:*",
		Description: "article pages",
		Enabled:     true,
		Conditions:  &types.RuleConditions{ContentTypes: []string{"article"}},
	})

	require.NoError(t, router.OnContentUpdate(ctx, "a1", "article", "u1"))
	assert.Equal(t, []string{"article:*"}, executor.patterns())

	require.NoError(t, router.OnUserAction(ctx, "u1", "article_like", "a1"))
	assert.Equal(t, []string{"article:*", "article:*"}, executor.patterns())
}
