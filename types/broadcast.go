package types

import (
	"context"
	"time"
)

type NotificationType string

const (
	NotificationInvalidationStarted   NotificationType = "invalidation_started"
	NotificationInvalidationCompleted NotificationType = "invalidation_completed"
	NotificationInvalidationFailed    NotificationType = "invalidation_failed"
	NotificationQueueOverload         NotificationType = "queue_overload"
)

type BroadcastMessage struct {
	Type      string    `json:"type"`
	Pattern   string    `json:"pattern"`
	Channels  []string  `json:"channels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
}

type NotificationEvent struct {
	Type      NotificationType       `json:"type"`
	Pattern   string                 `json:"pattern,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type SubscriberHandler func(msg *BroadcastMessage)

type Broadcaster interface {
	LifecycleManager
	BroadcastInvalidation(ctx context.Context, pattern string, channels ...string) error
	SendNotification(ctx context.Context, event NotificationEvent) error
	Subscribe(id string, patterns []string, handler SubscriberHandler) error
	Unsubscribe(id string) error
}
