package invalidation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const (
	queueDocumentKey = "invalidation:queue"

	DefaultQueueBatchSize     = 10
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = time.Minute
	DefaultOverloadThreshold  = 100
	DefaultCompletedRetention = time.Hour

	metadataBatchID = "batch_id"
)

// queueDocument is the single stored queue state. Readers-modify-write on
// the whole document; concurrent writers may lose updates, which the
// non-transactional store makes unavoidable and the workload tolerates.
type queueDocument struct {
	Items   []types.InvalidationQueueItem          `json:"items"`
	Batches map[string]*types.BatchInvalidationJob `json:"batches"`
}

type Queue struct {
	store       types.KVStore
	executor    types.Executor
	broadcaster types.Broadcaster
	logger      types.Logger
	docKey      string

	batchSize          int
	maxRetries         int
	retryBackoff       time.Duration
	overloadThreshold  int
	completedRetention time.Duration

	// Serializes ProcessQueue runs within this process so the cron tick
	// and the HTTP trigger do not race each other on the queue document.
	processMu sync.Mutex
}

func NewQueue(store types.KVStore, executor types.Executor, broadcaster types.Broadcaster, logger types.Logger, namespace string, config *types.QueueConfig) *Queue {
	docKey := queueDocumentKey
	if namespace != "" {
		docKey = namespace + ":" + queueDocumentKey
	}

	queue := &Queue{
		store:              store,
		executor:           executor,
		broadcaster:        broadcaster,
		logger:             logger,
		docKey:             docKey,
		batchSize:          DefaultQueueBatchSize,
		maxRetries:         DefaultMaxRetries,
		retryBackoff:       DefaultRetryBackoff,
		overloadThreshold:  DefaultOverloadThreshold,
		completedRetention: DefaultCompletedRetention,
	}

	if config != nil {
		if config.BatchSize > 0 {
			queue.batchSize = config.BatchSize
		}
		if config.MaxRetries > 0 {
			queue.maxRetries = config.MaxRetries
		}
		if config.RetryBackoff > 0 {
			queue.retryBackoff = config.RetryBackoff
		}
		if config.OverloadThreshold > 0 {
			queue.overloadThreshold = config.OverloadThreshold
		}
		if config.CompletedRetention > 0 {
			queue.completedRetention = config.CompletedRetention
		}
	}

	return queue
}

func (q *Queue) Enqueue(ctx context.Context, pattern string, priority types.Priority, delay time.Duration) (string, error) {
	if pattern == "" {
		return "", types.ErrInvalidPattern
	}
	if !priority.Valid() {
		priority = types.PriorityMedium
	}

	doc, err := q.load(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now()
	item := types.InvalidationQueueItem{
		ID:           uuid.NewString(),
		Pattern:      pattern,
		Priority:     priority,
		CreatedAt:    now,
		ScheduledFor: now.Add(delay),
		MaxRetries:   q.maxRetries,
		Status:       types.StatusPending,
	}
	doc.Items = append(doc.Items, item)

	if err := q.save(ctx, doc); err != nil {
		return "", err
	}

	q.logger.Debug("invalidation enqueued",
		zap.String("id", item.ID),
		zap.String("pattern", pattern),
		zap.String("priority", string(priority)))

	return item.ID, nil
}

func (q *Queue) EnqueueBatch(ctx context.Context, patterns []string, priority types.Priority) (string, error) {
	if len(patterns) == 0 {
		return "", types.NewErrorf("batch requires at least one pattern")
	}
	if !priority.Valid() {
		priority = types.PriorityMedium
	}

	doc, err := q.load(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now()
	job := &types.BatchInvalidationJob{
		ID:         uuid.NewString(),
		Patterns:   patterns,
		Status:     types.StatusPending,
		ItemsTotal: len(patterns),
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	doc.Batches[job.ID] = job

	for _, pattern := range patterns {
		doc.Items = append(doc.Items, types.InvalidationQueueItem{
			ID:           uuid.NewString(),
			Pattern:      pattern,
			Priority:     priority,
			CreatedAt:    now,
			ScheduledFor: now,
			MaxRetries:   q.maxRetries,
			Status:       types.StatusPending,
			Metadata:     map[string]string{metadataBatchID: job.ID},
		})
	}

	if err := q.save(ctx, doc); err != nil {
		return "", err
	}

	q.logger.Info("Batch invalidation enqueued",
		zap.String("batch_id", job.ID),
		zap.Int("patterns", len(patterns)))

	return job.ID, nil
}

// ProcessQueue takes the most urgent due items, runs them through the
// executor in parallel and writes the outcome back. Failed items are
// rescheduled with a backoff until their retry budget runs out.
func (q *Queue) ProcessQueue(ctx context.Context) (*types.QueueProcessResult, error) {
	q.processMu.Lock()
	defer q.processMu.Unlock()

	doc, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	due := q.dueItems(doc, now)
	if len(due) > q.batchSize {
		due = due[:q.batchSize]
	}

	result := &types.QueueProcessResult{}

	if len(due) > 0 {
		taken := make(map[string]bool, len(due))
		for _, item := range due {
			taken[item.ID] = true
		}
		for i := range doc.Items {
			if taken[doc.Items[i].ID] {
				doc.Items[i].Status = types.StatusProcessing
			}
		}
		if err := q.save(ctx, doc); err != nil {
			return nil, err
		}

		for i := range due {
			q.notify(ctx, types.NotificationInvalidationStarted, due[i].Pattern, "")
		}

		outcomes := q.execute(ctx, due)

		// Reload: new items may have been enqueued while we ran.
		doc, err = q.load(ctx)
		if err != nil {
			return nil, err
		}

		for i := range doc.Items {
			outcome, ok := outcomes[doc.Items[i].ID]
			if !ok {
				continue
			}
			result.Processed++
			if outcome == "" {
				result.Succeeded++
				doc.Items[i].Status = types.StatusCompleted
				doc.Items[i].CompletedAt = time.Now()
				doc.Items[i].Error = ""
				q.notify(ctx, types.NotificationInvalidationCompleted, doc.Items[i].Pattern, "")
			} else {
				doc.Items[i].RetryCount++
				doc.Items[i].Error = outcome
				if doc.Items[i].RetryCount >= doc.Items[i].MaxRetries {
					result.Failed++
					doc.Items[i].Status = types.StatusFailed
					doc.Items[i].CompletedAt = time.Now()
					q.notify(ctx, types.NotificationInvalidationFailed, doc.Items[i].Pattern, outcome)
				} else {
					doc.Items[i].Status = types.StatusPending
					doc.Items[i].ScheduledFor = time.Now().Add(q.retryBackoff)
				}
			}
		}

		q.reconcileBatches(doc)
	}

	pending := 0
	for i := range doc.Items {
		if doc.Items[i].Status == types.StatusPending {
			pending++
		}
	}
	if pending > q.overloadThreshold {
		result.Overload = true
		q.notifyOverload(ctx, pending)
	}

	q.pruneCompleted(doc, time.Now())

	if err := q.save(ctx, doc); err != nil {
		return nil, err
	}

	if result.Processed > 0 {
		q.logger.Info("Queue batch processed",
			zap.Int("processed", result.Processed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed))
	}

	return result, nil
}

func (q *Queue) Status(ctx context.Context) (types.QueueStatus, error) {
	var status types.QueueStatus

	doc, err := q.load(ctx)
	if err != nil {
		return status, err
	}

	for i := range doc.Items {
		switch doc.Items[i].Status {
		case types.StatusPending:
			status.Pending++
		case types.StatusProcessing:
			status.Processing++
		case types.StatusCompleted:
			status.Completed++
		case types.StatusFailed:
			status.Failed++
		}
	}

	return status, nil
}

// RetryFailedItems moves recently failed items back to pending with a
// fresh retry budget. Items that failed longer than maxAge ago stay dead.
func (q *Queue) RetryFailedItems(ctx context.Context, maxAge time.Duration) (int, error) {
	doc, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	cutoff := now.Add(-maxAge)
	retried := 0

	for i := range doc.Items {
		if doc.Items[i].Status != types.StatusFailed {
			continue
		}
		if doc.Items[i].CompletedAt.Before(cutoff) {
			continue
		}
		doc.Items[i].Status = types.StatusPending
		doc.Items[i].RetryCount = 0
		doc.Items[i].ScheduledFor = now
		doc.Items[i].CompletedAt = time.Time{}
		doc.Items[i].Error = ""
		retried++
	}

	if retried == 0 {
		return 0, nil
	}

	if err := q.save(ctx, doc); err != nil {
		return 0, err
	}

	q.logger.Info("Failed items requeued", zap.Int("count", retried))
	return retried, nil
}

func (q *Queue) GetBatchJob(ctx context.Context, id string) (*types.BatchInvalidationJob, error) {
	doc, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	job, found := doc.Batches[id]
	if !found {
		return nil, types.Errorf(types.ErrBatchJobNotFound, "batch %s", id)
	}

	return job, nil
}

// dueItems returns pending items whose schedule has arrived, most urgent
// first: higher priority wins, ties break on the earlier schedule.
func (q *Queue) dueItems(doc *queueDocument, now time.Time) []types.InvalidationQueueItem {
	var due []types.InvalidationQueueItem
	for i := range doc.Items {
		if doc.Items[i].Status != types.StatusPending {
			continue
		}
		if doc.Items[i].ScheduledFor.After(now) {
			continue
		}
		due = append(due, doc.Items[i])
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority.Weight() != due[j].Priority.Weight() {
			return due[i].Priority.Weight() > due[j].Priority.Weight()
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	return due
}

// execute runs the taken items in parallel and returns item id -> error
// string, empty string meaning success.
func (q *Queue) execute(ctx context.Context, items []types.InvalidationQueueItem) map[string]string {
	outcomes := make(map[string]string, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item types.InvalidationQueueItem) {
			defer wg.Done()

			outcome := ""
			result, err := q.executor.InvalidateByPattern(ctx, item.Pattern, types.InvalidateOptions{
				Priority:         item.Priority,
				TrackPerformance: true,
			})
			switch {
			case err != nil:
				outcome = err.Error()
			case !result.Success:
				outcome = "invalidation failed"
				if len(result.Errors) > 0 {
					outcome = result.Errors[0]
				}
			}

			mu.Lock()
			outcomes[item.ID] = outcome
			mu.Unlock()
		}(item)
	}

	wg.Wait()
	return outcomes
}

func (q *Queue) reconcileBatches(doc *queueDocument) {
	counts := make(map[string]*types.BatchInvalidationJob)
	processed := make(map[string]int)
	failed := make(map[string]int)
	open := make(map[string]int)
	errs := make(map[string][]string)

	for i := range doc.Items {
		batchID := doc.Items[i].Metadata[metadataBatchID]
		if batchID == "" {
			continue
		}
		job, found := doc.Batches[batchID]
		if !found {
			continue
		}
		counts[batchID] = job

		switch doc.Items[i].Status {
		case types.StatusCompleted:
			processed[batchID]++
		case types.StatusFailed:
			processed[batchID]++
			failed[batchID]++
			if doc.Items[i].Error != "" {
				errs[batchID] = append(errs[batchID], doc.Items[i].Error)
			}
		default:
			open[batchID]++
		}
	}

	now := time.Now()
	for batchID, job := range counts {
		job.ItemsProcessed = processed[batchID]
		job.Errors = errs[batchID]
		job.UpdatedAt = now

		switch {
		case open[batchID] > 0:
			job.Status = types.StatusProcessing
		case failed[batchID] > 0:
			job.Status = types.StatusFailed
		default:
			job.Status = types.StatusCompleted
		}
	}
}

// pruneCompleted drops completed items past the retention window. Failed
// items are kept so RetryFailedItems can resurrect them.
func (q *Queue) pruneCompleted(doc *queueDocument, now time.Time) {
	cutoff := now.Add(-q.completedRetention)
	kept := doc.Items[:0]
	for i := range doc.Items {
		if doc.Items[i].Status == types.StatusCompleted && doc.Items[i].CompletedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, doc.Items[i])
	}
	doc.Items = kept
}

// notify reports an item lifecycle transition to the gateway. Delivery is
// best effort: errors are logged, never propagated into queue processing.
func (q *Queue) notify(ctx context.Context, event types.NotificationType, pattern, errMsg string) {
	if q.broadcaster == nil {
		return
	}

	notification := types.NotificationEvent{
		Type:      event,
		Pattern:   pattern,
		Timestamp: time.Now(),
	}
	if errMsg != "" {
		notification.Details = map[string]interface{}{"error": errMsg}
	}

	if err := q.broadcaster.SendNotification(ctx, notification); err != nil {
		q.logger.Warn("failed to send queue notification",
			zap.String("type", string(event)),
			zap.Error(err))
	}
}

func (q *Queue) notifyOverload(ctx context.Context, pending int) {
	if q.broadcaster == nil {
		return
	}

	err := q.broadcaster.SendNotification(ctx, types.NotificationEvent{
		Type:      types.NotificationQueueOverload,
		Details:   map[string]interface{}{"pending": pending},
		Timestamp: time.Now(),
	})
	if err != nil {
		q.logger.Warn("failed to send overload notification", zap.Error(err))
	}

	q.logger.Warn("Invalidation queue overloaded",
		zap.Error(types.ErrQueueOverload),
		zap.Int("pending", pending))
}

func (q *Queue) load(ctx context.Context) (*queueDocument, error) {
	doc := &queueDocument{
		Batches: make(map[string]*types.BatchInvalidationJob),
	}

	data, found, err := q.store.Get(ctx, q.docKey)
	if err != nil {
		return nil, types.WrapError(err, "failed to load invalidation queue")
	}
	if !found {
		return doc, nil
	}

	if err := utils.Unmarshal(data, doc); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal invalidation queue")
	}
	if doc.Batches == nil {
		doc.Batches = make(map[string]*types.BatchInvalidationJob)
	}

	return doc, nil
}

func (q *Queue) save(ctx context.Context, doc *queueDocument) error {
	data, err := utils.Marshal(doc)
	if err != nil {
		return err
	}
	return q.store.Put(ctx, q.docKey, data, 0)
}
