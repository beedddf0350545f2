package types

import (
	"context"
	"time"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight orders priorities for queue and router dispatch; higher runs first.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	return p.Weight() > 0
}

type EventType string

const (
	EventUserAction    EventType = "user_action"
	EventContentUpdate EventType = "content_update"
	EventSystem        EventType = "system_event"
	EventScheduled     EventType = "scheduled"
	EventManual        EventType = "manual"
)

type InvalidationRule struct {
	ID            string          `json:"id" validate:"required"`
	Pattern       string          `json:"pattern" validate:"required"`
	Description   string          `json:"description" validate:"required"`
	Priority      Priority        `json:"priority"`
	Enabled       bool            `json:"enabled"`
	Conditions    *RuleConditions `json:"conditions,omitempty"`
	Strategy      RuleStrategy    `json:"strategy"`
	Monitored     bool            `json:"monitored"`
	TriggerCount  int64           `json:"trigger_count"`
	LastTriggered time.Time       `json:"last_triggered"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RuleConditions filter which events a rule fires for. A nil conditions block
// matches every event; an empty field is not applicable and is skipped.
type RuleConditions struct {
	Actions      []string    `json:"actions,omitempty"`
	ContentTypes []string    `json:"content_types,omitempty"`
	UserRoles    []string    `json:"user_roles,omitempty"`
	Regions      []string    `json:"regions,omitempty"`
	Devices      []string    `json:"devices,omitempty"`
	TimeWindow   *TimeWindow `json:"time_window,omitempty"`
}

type TimeWindow struct {
	StartHour int `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `json:"end_hour" validate:"min=0,max=23"`
}

type RuleStrategy struct {
	Immediate bool `json:"immediate"`
	Delayed   bool `json:"delayed"`
	Batched   bool `json:"batched"`
	Cascading bool `json:"cascading"`
}

type RuleFilter struct {
	Enabled  *bool
	Priority *Priority
}

type InvalidationEvent struct {
	Type        EventType         `json:"type"`
	UserID      string            `json:"user_id,omitempty"`
	ContentID   string            `json:"content_id,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Action      string            `json:"action,omitempty"`
	UserRole    string            `json:"user_role,omitempty"`
	Region      string            `json:"region,omitempty"`
	Device      string            `json:"device,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type RuleEngine interface {
	AddRule(ctx context.Context, rule InvalidationRule) error
	UpdateRule(ctx context.Context, rule InvalidationRule) error
	RemoveRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*InvalidationRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]InvalidationRule, error)
	EventMatchesRule(rule *InvalidationRule, event *InvalidationEvent) bool
	MarkTriggered(ctx context.Context, id string) error
}
