package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peakfeed/cache-service/kv"
	"github.com/peakfeed/cache-service/types"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...zap.Field)              {}
func (nopLogger) Warn(string, ...zap.Field)               {}
func (nopLogger) Info(string, ...zap.Field)               {}
func (nopLogger) Debug(string, ...zap.Field)              {}
func (nopLogger) Log(zapcore.Level, string, ...zap.Field) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	store, err := kv.NewMemoryStore(context.Background(), nopLogger{}, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return NewEngine(store, nopLogger{}, "test")
}

func testRule(id, pat string) types.InvalidationRule {
	return types.InvalidationRule{
		ID:          id,
		Pattern:     pat,
		Description: "test rule",
		Priority:    types.PriorityMedium,
		Enabled:     true,
	}
}

func TestAddAndGetRule(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(ctx, testRule("r1", "user:*")))

	rule, err := engine.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "user:*", rule.Pattern)
	assert.False(t, rule.CreatedAt.IsZero())
}

func TestAddDuplicateRuleKeepsOriginal(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	original := testRule("r1", "user:*")
	original.Description = "original"
	require.NoError(t, engine.AddRule(ctx, original))

	dup := testRule("r1", "post:*")
	dup.Description = "duplicate"
	err := engine.AddRule(ctx, dup)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrDuplicateRule))

	rule, err := engine.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "original", rule.Description)
}

func TestAddRuleValidation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	missing := types.InvalidationRule{ID: "r1", Pattern: "user:*"}
	err := engine.AddRule(ctx, missing)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrRuleInvalid))

	bad := testRule("r2", "user:{a|")
	err = engine.AddRule(ctx, bad)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrInvalidPattern))
}

func TestUpdateAndRemoveRule(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(ctx, testRule("r1", "user:*")))

	updated := testRule("r1", "user:*:profile")
	require.NoError(t, engine.UpdateRule(ctx, updated))

	rule, err := engine.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "user:*:profile", rule.Pattern)

	require.NoError(t, engine.RemoveRule(ctx, "r1"))

	_, err = engine.GetRule(ctx, "r1")
	assert.True(t, types.IsError(err, types.ErrRuleNotFound))

	err = engine.UpdateRule(ctx, testRule("missing", "x:*"))
	assert.True(t, types.IsError(err, types.ErrRuleNotFound))
}

func TestListRulesFilters(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	r1 := testRule("r1", "user:*")
	r1.Priority = types.PriorityCritical

	r2 := testRule("r2", "post:*")
	r2.Enabled = false

	r3 := testRule("r3", "feed:*")
	r3.Priority = types.PriorityLow

	for _, r := range []types.InvalidationRule{r1, r2, r3} {
		require.NoError(t, engine.AddRule(ctx, r))
	}

	all, err := engine.ListRules(ctx, types.RuleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r1", all[0].ID)

	enabled := true
	filtered, err := engine.ListRules(ctx, types.RuleFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	low := types.PriorityLow
	filtered, err = engine.ListRules(ctx, types.RuleFilter{Enabled: &enabled, Priority: &low})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "r3", filtered[0].ID)
}

func TestMarkTriggered(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(ctx, testRule("r1", "user:*")))
	require.NoError(t, engine.MarkTriggered(ctx, "r1"))
	require.NoError(t, engine.MarkTriggered(ctx, "r1"))

	rule, err := engine.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.TriggerCount)
	assert.False(t, rule.LastTriggered.IsZero())
}

func TestEventMatchesRule(t *testing.T) {
	engine := newTestEngine(t)

	unconditional := testRule("r1", "user:*")
	event := types.InvalidationEvent{Type: types.EventContentUpdate, Action: "post_update"}
	assert.True(t, engine.EventMatchesRule(&unconditional, &event))

	conditioned := testRule("r2", "post:*")
	conditioned.Conditions = &types.RuleConditions{Actions: []string{"post_update"}}

	matching := types.InvalidationEvent{Action: "post_update"}
	assert.True(t, engine.EventMatchesRule(&conditioned, &matching))

	other := types.InvalidationEvent{Action: "profile_update"}
	assert.False(t, engine.EventMatchesRule(&conditioned, &other))

	// An event without the field skips the check entirely.
	absent := types.InvalidationEvent{ContentType: "post"}
	assert.True(t, engine.EventMatchesRule(&conditioned, &absent))
}

func TestEventMatchesRuleComposedConditions(t *testing.T) {
	engine := newTestEngine(t)

	rule := testRule("r1", "feed:*")
	rule.Conditions = &types.RuleConditions{
		Actions:      []string{"post_update"},
		ContentTypes: []string{"post"},
	}

	both := types.InvalidationEvent{Action: "post_update", ContentType: "post"}
	assert.True(t, engine.EventMatchesRule(&rule, &both))

	wrongType := types.InvalidationEvent{Action: "post_update", ContentType: "comment"}
	assert.False(t, engine.EventMatchesRule(&rule, &wrongType))
}

func TestEventMatchesRuleTimeWindow(t *testing.T) {
	engine := newTestEngine(t)

	rule := testRule("r1", "feed:*")
	rule.Conditions = &types.RuleConditions{TimeWindow: &types.TimeWindow{StartHour: 9, EndHour: 17}}

	inside := types.InvalidationEvent{Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	assert.True(t, engine.EventMatchesRule(&rule, &inside))

	outside := types.InvalidationEvent{Timestamp: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)}
	assert.False(t, engine.EventMatchesRule(&rule, &outside))
}
