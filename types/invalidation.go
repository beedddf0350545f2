package types

import (
	"context"
	"time"
)

type QueueItemStatus string

const (
	StatusPending    QueueItemStatus = "pending"
	StatusProcessing QueueItemStatus = "processing"
	StatusCompleted  QueueItemStatus = "completed"
	StatusFailed     QueueItemStatus = "failed"
)

type InvalidationQueueItem struct {
	ID           string            `json:"id"`
	Pattern      string            `json:"pattern"`
	Priority     Priority          `json:"priority"`
	CreatedAt    time.Time         `json:"created_at"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	Status       QueueItemStatus   `json:"status"`
	Error        string            `json:"error,omitempty"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type BatchInvalidationJob struct {
	ID             string          `json:"id"`
	Patterns       []string        `json:"patterns"`
	Status         QueueItemStatus `json:"status"`
	ItemsProcessed int             `json:"items_processed"`
	ItemsTotal     int             `json:"items_total"`
	Errors         []string        `json:"errors,omitempty"`
	Priority       Priority        `json:"priority"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InvalidateOptions replaces the loose option bag of the original design;
// zero values fall back to the documented defaults.
type InvalidateOptions struct {
	Immediate        bool
	Priority         Priority
	DryRun           bool
	TrackPerformance bool
	MaxItems         int
	Timeout          time.Duration
}

type InvalidationResult struct {
	Success          bool          `json:"success"`
	Pattern          string        `json:"pattern"`
	ItemsInvalidated int           `json:"items_invalidated"`
	Duration         time.Duration `json:"duration"`
	Errors           []string      `json:"errors,omitempty"`
	DryRun           bool          `json:"dry_run,omitempty"`
}

type InvalidationRecord struct {
	Pattern          string    `json:"pattern"`
	ItemsInvalidated int       `json:"items_invalidated"`
	DurationMs       float64   `json:"duration_ms"`
	Success          bool      `json:"success"`
	Timestamp        time.Time `json:"timestamp"`
}

type PatternStats struct {
	Calls         int64   `json:"calls"`
	Successes     int64   `json:"successes"`
	TotalTimeMs   float64 `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

type InvalidationMetrics struct {
	TotalCount        int64                    `json:"total_count"`
	SuccessCount      int64                    `json:"success_count"`
	FailureCount      int64                    `json:"failure_count"`
	AverageDurationMs float64                  `json:"average_duration_ms"`
	Patterns          map[string]*PatternStats `json:"patterns"`
	Recent            []InvalidationRecord     `json:"recent"`
}

// Executor deletes matching keys. The returned error is reserved for caller
// mistakes (an uncompilable pattern); environmental failures fold into the
// result with Success=false.
type Executor interface {
	InvalidateByPattern(ctx context.Context, pattern string, opts InvalidateOptions) (*InvalidationResult, error)
	InvalidateByKey(ctx context.Context, key string) error
}

type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type QueueProcessResult struct {
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Overload  bool `json:"overload"`
}

type InvalidationQueue interface {
	Enqueue(ctx context.Context, pattern string, priority Priority, delay time.Duration) (string, error)
	EnqueueBatch(ctx context.Context, patterns []string, priority Priority) (string, error)
	ProcessQueue(ctx context.Context) (*QueueProcessResult, error)
	Status(ctx context.Context) (QueueStatus, error)
	RetryFailedItems(ctx context.Context, maxAge time.Duration) (int, error)
	GetBatchJob(ctx context.Context, id string) (*BatchInvalidationJob, error)
}

type EventRouter interface {
	InvalidateByEvent(ctx context.Context, event InvalidationEvent) error
	OnContentUpdate(ctx context.Context, contentID, contentType, userID string) error
	OnUserAction(ctx context.Context, userID, action, targetID string) error
}

type InvalidationRecorder interface {
	Record(ctx context.Context, result *InvalidationResult)
	Metrics(ctx context.Context) (*InvalidationMetrics, error)
}
