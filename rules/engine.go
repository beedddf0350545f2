package rules

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/pattern"
	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const rulesDocumentKey = "invalidation:rules"

// Engine stores named invalidation rules as a single versioned document in
// the key-value store. Every mutation is a read-modify-write of the whole
// collection; concurrent writers follow last-write-wins at document level.
type Engine struct {
	store    types.KVStore
	logger   types.Logger
	validate *validator.Validate
	docKey   string
}

type rulesDocument struct {
	Version int64                             `json:"version"`
	Rules   map[string]types.InvalidationRule `json:"rules"`
}

func NewEngine(store types.KVStore, logger types.Logger, namespace string) *Engine {
	docKey := rulesDocumentKey
	if namespace != "" {
		docKey = namespace + ":" + rulesDocumentKey
	}

	return &Engine{
		store:    store,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		docKey:   docKey,
	}
}

func (e *Engine) AddRule(ctx context.Context, rule types.InvalidationRule) error {
	if err := e.validateRule(&rule); err != nil {
		return err
	}

	doc, err := e.loadDocument(ctx)
	if err != nil {
		return err
	}

	if _, exists := doc.Rules[rule.ID]; exists {
		return types.Errorf(types.ErrDuplicateRule, "id: %s", rule.ID)
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	doc.Rules[rule.ID] = rule

	if err := e.saveDocument(ctx, doc); err != nil {
		return err
	}

	e.logger.Info("Invalidation rule added",
		zap.String("rule_id", rule.ID),
		zap.String("pattern", rule.Pattern),
		zap.String("priority", string(rule.Priority)))
	return nil
}

func (e *Engine) UpdateRule(ctx context.Context, rule types.InvalidationRule) error {
	if err := e.validateRule(&rule); err != nil {
		return err
	}

	doc, err := e.loadDocument(ctx)
	if err != nil {
		return err
	}

	existing, exists := doc.Rules[rule.ID]
	if !exists {
		return types.Errorf(types.ErrRuleNotFound, "id: %s", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.TriggerCount = existing.TriggerCount
	rule.LastTriggered = existing.LastTriggered
	doc.Rules[rule.ID] = rule

	return e.saveDocument(ctx, doc)
}

func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	doc, err := e.loadDocument(ctx)
	if err != nil {
		return err
	}

	if _, exists := doc.Rules[id]; !exists {
		return types.Errorf(types.ErrRuleNotFound, "id: %s", id)
	}

	delete(doc.Rules, id)
	return e.saveDocument(ctx, doc)
}

func (e *Engine) GetRule(ctx context.Context, id string) (*types.InvalidationRule, error) {
	doc, err := e.loadDocument(ctx)
	if err != nil {
		return nil, err
	}

	rule, exists := doc.Rules[id]
	if !exists {
		return nil, types.Errorf(types.ErrRuleNotFound, "id: %s", id)
	}

	return &rule, nil
}

// ListRules returns rules matching the filter; filter fields compose with
// logical AND. Results are ordered by priority descending, then id.
func (e *Engine) ListRules(ctx context.Context, filter types.RuleFilter) ([]types.InvalidationRule, error) {
	doc, err := e.loadDocument(ctx)
	if err != nil {
		return nil, err
	}

	rules := make([]types.InvalidationRule, 0, len(doc.Rules))
	for _, rule := range doc.Rules {
		if filter.Enabled != nil && rule.Enabled != *filter.Enabled {
			continue
		}
		if filter.Priority != nil && rule.Priority != *filter.Priority {
			continue
		}
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(a, b int) bool {
		if rules[a].Priority.Weight() != rules[b].Priority.Weight() {
			return rules[a].Priority.Weight() > rules[b].Priority.Weight()
		}
		return rules[a].ID < rules[b].ID
	})

	return rules, nil
}

func (e *Engine) MarkTriggered(ctx context.Context, id string) error {
	doc, err := e.loadDocument(ctx)
	if err != nil {
		return err
	}

	rule, exists := doc.Rules[id]
	if !exists {
		return types.Errorf(types.ErrRuleNotFound, "id: %s", id)
	}

	rule.TriggerCount++
	rule.LastTriggered = time.Now()
	doc.Rules[id] = rule

	return e.saveDocument(ctx, doc)
}

// EventMatchesRule reports whether an event satisfies a rule's conditions.
// A rule without conditions matches every event. Each populated condition
// field must independently hold; an event missing the corresponding field
// skips that check rather than failing it.
func (e *Engine) EventMatchesRule(rule *types.InvalidationRule, event *types.InvalidationEvent) bool {
	if rule.Conditions == nil {
		return true
	}

	cond := rule.Conditions

	if !fieldMatches(cond.Actions, event.Action) {
		return false
	}
	if !fieldMatches(cond.ContentTypes, event.ContentType) {
		return false
	}
	if !fieldMatches(cond.UserRoles, event.UserRole) {
		return false
	}
	if !fieldMatches(cond.Regions, event.Region) {
		return false
	}
	if !fieldMatches(cond.Devices, event.Device) {
		return false
	}

	if cond.TimeWindow != nil && !event.Timestamp.IsZero() {
		if !inWindow(cond.TimeWindow, event.Timestamp) {
			return false
		}
	}

	return true
}

func fieldMatches(allowed []string, value string) bool {
	if len(allowed) == 0 || value == "" {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func inWindow(w *types.TimeWindow, ts time.Time) bool {
	hour := ts.Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour <= w.EndHour
	}
	// Window wraps midnight.
	return hour >= w.StartHour || hour <= w.EndHour
}

func (e *Engine) validateRule(rule *types.InvalidationRule) error {
	if err := e.validate.Struct(rule); err != nil {
		return types.Errorf(types.ErrRuleInvalid, "%v", err)
	}

	if rule.Priority == "" {
		rule.Priority = types.PriorityMedium
	}
	if !rule.Priority.Valid() {
		return types.Errorf(types.ErrInvalidPriority, "priority: %s", rule.Priority)
	}

	if _, err := pattern.Compile(rule.Pattern); err != nil {
		return err
	}

	return nil
}

func (e *Engine) loadDocument(ctx context.Context) (*rulesDocument, error) {
	data, found, err := e.store.Get(ctx, e.docKey)
	if err != nil {
		return nil, types.WrapError(err, "failed to load rules document")
	}

	doc := &rulesDocument{Rules: make(map[string]types.InvalidationRule)}
	if !found {
		return doc, nil
	}

	if err := utils.Unmarshal(data, doc); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal rules document")
	}
	if doc.Rules == nil {
		doc.Rules = make(map[string]types.InvalidationRule)
	}

	return doc, nil
}

func (e *Engine) saveDocument(ctx context.Context, doc *rulesDocument) error {
	doc.Version++

	data, err := utils.Marshal(doc)
	if err != nil {
		return types.WrapError(err, "failed to marshal rules document")
	}

	if err := e.store.Put(ctx, e.docKey, data, 0); err != nil {
		return types.WrapError(err, "failed to save rules document")
	}

	return nil
}
