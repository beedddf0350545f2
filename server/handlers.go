package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/health"
	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

// Deps collects the components the HTTP surface fronts. Every field except
// Monitor and Broadcaster is required.
type Deps struct {
	Cache       types.CacheAdapter
	Index       types.MetadataIndex
	Rules       types.RuleEngine
	Executor    types.Executor
	Queue       types.InvalidationQueue
	EventRouter types.EventRouter
	Recorder    types.InvalidationRecorder
	Monitor     types.PerformanceMonitor
	Health      types.HealthManager
}

type warmEntry struct {
	Key         string      `json:"key"`
	Value       interface{} `json:"value"`
	TTLSeconds  int         `json:"ttl_seconds"`
	ContentType string      `json:"content_type"`
	Tags        []string    `json:"tags"`
}

type warmRequest struct {
	Entries []warmEntry `json:"entries"`
}

type invalidateRequest struct {
	Patterns []string `json:"patterns"`
	Priority string   `json:"priority"`
	DryRun   bool     `json:"dry_run"`
	MaxItems int      `json:"max_items"`
}

type clearUserRequest struct {
	UserID string `json:"user_id"`
}

type enqueueRequest struct {
	Pattern      string   `json:"pattern"`
	Patterns     []string `json:"patterns"`
	Priority     string   `json:"priority"`
	DelaySeconds int      `json:"delay_seconds"`
}

func (h *FastHTTPServer) registerRoutes() {
	protected := &routeConfig{Auth: true}
	open := &routeConfig{}

	h.router.POST("/cache/warm", h.handleWarm, protected)
	h.router.POST("/cache/invalidate", h.handleInvalidate, protected)
	h.router.POST("/cache/clear-user", h.handleClearUser, protected)
	h.router.GET("/cache/stats", h.handleStats, open)
	h.router.GET("/cache/health", h.handleHealth, open)
	h.router.POST("/cache/queue/enqueue", h.handleQueueEnqueue, protected)
	h.router.GET("/cache/queue/status", h.handleQueueStatus, open)
	h.router.POST("/cache/queue/process", h.handleQueueProcess, protected)
	h.router.POST("/cache/queue/retry", h.handleQueueRetry, protected)
	h.router.GET("/cache/queue/batch/{id}", h.handleQueueBatch, open)
	h.router.POST("/cache/invalidate/event", h.handleInvalidateEvent, protected)
	h.router.GET("/cache/performance", h.handlePerformance, open)

	h.router.GET("/cache/rules", h.handleListRules, open)
	h.router.POST("/cache/rules", h.handleAddRule, protected)
	h.router.PUT("/cache/rules/{id}", h.handleUpdateRule, protected)
	h.router.GET("/cache/rules/{id}", h.handleGetRule, open)
	h.router.DELETE("/cache/rules/{id}", h.handleRemoveRule, protected)

	h.router.GET("/metrics", h.handleMetrics, open)
	h.router.GET("/health", h.handleHealth, open)
	h.router.GET("/version", h.handleVersion, open)
}

func (h *FastHTTPServer) handleWarm(ctx *fasthttp.RequestCtx) {
	var req warmRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		utils.WriteBadRequest(ctx, "entries are required")
		return
	}

	warmed := 0
	var errs []string
	for _, entry := range req.Entries {
		if entry.Key == "" {
			errs = append(errs, "entry with empty key skipped")
			continue
		}
		ttl := time.Duration(entry.TTLSeconds) * time.Second
		err := h.deps.Cache.SetTagged(ctx, entry.Key, entry.Value, ttl, entry.ContentType, entry.Tags...)
		if err != nil {
			errs = append(errs, entry.Key+": "+err.Error())
			continue
		}
		warmed++
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": len(errs) == 0,
		"warmed":  warmed,
		"errors":  errs,
	})
}

func (h *FastHTTPServer) handleInvalidate(ctx *fasthttp.RequestCtx) {
	var req invalidateRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}
	if len(req.Patterns) == 0 {
		utils.WriteBadRequest(ctx, "patterns are required")
		return
	}

	opts := types.InvalidateOptions{
		Immediate: true,
		Priority:  types.Priority(req.Priority),
		DryRun:    req.DryRun,
		MaxItems:  req.MaxItems,
	}

	success := true
	results := make([]*types.InvalidationResult, 0, len(req.Patterns))
	for _, p := range req.Patterns {
		result, err := h.deps.Executor.InvalidateByPattern(ctx, p, opts)
		if err != nil {
			// Uncompilable pattern is a caller mistake, not an execution failure.
			utils.WriteBadRequest(ctx, "invalid pattern: "+p)
			return
		}
		if !result.Success {
			success = false
		}
		results = append(results, result)
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": success,
		"results": results,
	})
}

func (h *FastHTTPServer) handleClearUser(ctx *fasthttp.RequestCtx) {
	var req clearUserRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}
	if req.UserID == "" {
		utils.WriteBadRequest(ctx, "user_id is required")
		return
	}

	prefix := "user:" + req.UserID + ":"
	result, err := h.deps.Executor.InvalidateByPattern(ctx, prefix+"*", types.InvalidateOptions{
		Immediate: true,
		Priority:  types.PriorityHigh,
	})
	if err != nil {
		utils.WriteBadRequest(ctx, "invalid user_id")
		return
	}

	// Entries tagged with the user id can live anywhere in the keyspace,
	// not just under the user prefix.
	tagged, err := h.deps.Index.FindByTag(ctx, req.UserID)
	if err != nil {
		h.logger.Error("failed to find keys tagged to user", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	taggedCleared := 0
	for _, meta := range tagged {
		if strings.HasPrefix(meta.Key, prefix) {
			continue
		}
		if err := h.deps.Executor.InvalidateByKey(ctx, meta.Key); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.Success = false
			continue
		}
		taggedCleared++
	}
	result.ItemsInvalidated += taggedCleared

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success":        result.Success,
		"result":         result,
		"tagged_cleared": taggedCleared,
	})
}

func (h *FastHTTPServer) handleStats(ctx *fasthttp.RequestCtx) {
	cacheMetrics, err := h.deps.Index.Metrics(ctx)
	if err != nil {
		h.logger.Error("failed to read cache metrics", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	invalidationMetrics, err := h.deps.Recorder.Metrics(ctx)
	if err != nil {
		h.logger.Error("failed to read invalidation metrics", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"cache":        cacheMetrics,
		"invalidation": invalidationMetrics,
	})
}

func (h *FastHTTPServer) handleHealth(ctx *fasthttp.RequestCtx) {
	report := h.deps.Health.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	utils.WriteJSON(ctx, status, report)
}

func (h *FastHTTPServer) handleQueueEnqueue(ctx *fasthttp.RequestCtx) {
	var req enqueueRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}

	priority := types.Priority(req.Priority)

	if len(req.Patterns) > 0 {
		jobID, err := h.deps.Queue.EnqueueBatch(ctx, req.Patterns, priority)
		if err != nil {
			utils.WriteBadRequest(ctx, err.Error())
			return
		}
		utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
			"success":  true,
			"batch_id": jobID,
		})
		return
	}

	if req.Pattern == "" {
		utils.WriteBadRequest(ctx, "pattern is required")
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	id, err := h.deps.Queue.Enqueue(ctx, req.Pattern, priority, delay)
	if err != nil {
		utils.WriteBadRequest(ctx, err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (h *FastHTTPServer) handleQueueStatus(ctx *fasthttp.RequestCtx) {
	status, err := h.deps.Queue.Status(ctx)
	if err != nil {
		h.logger.Error("failed to read queue status", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, status)
}

func (h *FastHTTPServer) handleQueueProcess(ctx *fasthttp.RequestCtx) {
	result, err := h.deps.Queue.ProcessQueue(ctx)
	if err != nil {
		h.logger.Error("queue processing failed", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, result)
}

func (h *FastHTTPServer) handleQueueRetry(ctx *fasthttp.RequestCtx) {
	maxAge := 24 * time.Hour
	if raw := string(ctx.QueryArgs().Peek("max_age")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			utils.WriteBadRequest(ctx, "invalid max_age")
			return
		}
		maxAge = parsed
	}

	retried, err := h.deps.Queue.RetryFailedItems(ctx, maxAge)
	if err != nil {
		h.logger.Error("failed to retry queue items", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"retried": retried,
	})
}

func (h *FastHTTPServer) handleQueueBatch(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	job, err := h.deps.Queue.GetBatchJob(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrBatchJobNotFound) {
			utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]interface{}{
				"error":   "Not Found",
				"message": "batch job not found",
			})
			return
		}
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, job)
}

func (h *FastHTTPServer) handleInvalidateEvent(ctx *fasthttp.RequestCtx) {
	var event types.InvalidationEvent
	if err := utils.Unmarshal(ctx.PostBody(), &event); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}

	if err := h.deps.EventRouter.InvalidateByEvent(ctx, event); err != nil {
		if types.IsError(err, types.ErrInvalidEvent) {
			utils.WriteBadRequest(ctx, "event type is required")
			return
		}
		h.logger.Error("event invalidation failed", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *FastHTTPServer) handlePerformance(ctx *fasthttp.RequestCtx) {
	if h.deps.Monitor == nil {
		utils.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]interface{}{
			"error":   "Service Unavailable",
			"message": "performance monitoring is disabled",
		})
		return
	}

	hours := 1
	if raw := string(ctx.QueryArgs().Peek("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 24*7 {
			utils.WriteBadRequest(ctx, "invalid hours")
			return
		}
		hours = parsed
	}

	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	report, err := h.deps.Monitor.GetReport(ctx, from, to)
	if err != nil {
		h.logger.Error("failed to build performance report", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	anomalies, err := h.deps.Monitor.DetectAnomalies(ctx)
	if err != nil {
		h.logger.Warn("anomaly detection failed", zap.Error(err))
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"report":    report,
		"anomalies": anomalies,
	})
}

func (h *FastHTTPServer) handleListRules(ctx *fasthttp.RequestCtx) {
	filter := types.RuleFilter{}
	if raw := string(ctx.QueryArgs().Peek("enabled")); raw != "" {
		enabled := raw == "true"
		filter.Enabled = &enabled
	}
	if raw := string(ctx.QueryArgs().Peek("priority")); raw != "" {
		priority := types.Priority(raw)
		if !priority.Valid() {
			utils.WriteBadRequest(ctx, "invalid priority")
			return
		}
		filter.Priority = &priority
	}

	rules, err := h.deps.Rules.ListRules(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list rules", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"rules": rules,
	})
}

func (h *FastHTTPServer) handleAddRule(ctx *fasthttp.RequestCtx) {
	var rule types.InvalidationRule
	if err := utils.Unmarshal(ctx.PostBody(), &rule); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}

	if err := h.deps.Rules.AddRule(ctx, rule); err != nil {
		if types.IsError(err, types.ErrDuplicateRule) {
			utils.WriteJSON(ctx, fasthttp.StatusConflict, map[string]interface{}{
				"error":   "Conflict",
				"message": "rule already exists",
			})
			return
		}
		utils.WriteBadRequest(ctx, err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      rule.ID,
	})
}

func (h *FastHTTPServer) handleUpdateRule(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	var rule types.InvalidationRule
	if err := utils.Unmarshal(ctx.PostBody(), &rule); err != nil {
		utils.WriteBadRequest(ctx, "invalid request body")
		return
	}
	rule.ID = id

	if err := h.deps.Rules.UpdateRule(ctx, rule); err != nil {
		if types.IsError(err, types.ErrRuleNotFound) {
			utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]interface{}{
				"error":   "Not Found",
				"message": "rule not found",
			})
			return
		}
		utils.WriteBadRequest(ctx, err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *FastHTTPServer) handleGetRule(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	rule, err := h.deps.Rules.GetRule(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrRuleNotFound) {
			utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]interface{}{
				"error":   "Not Found",
				"message": "rule not found",
			})
			return
		}
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, rule)
}

func (h *FastHTTPServer) handleRemoveRule(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	if err := h.deps.Rules.RemoveRule(ctx, id); err != nil {
		if types.IsError(err, types.ErrRuleNotFound) {
			utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]interface{}{
				"error":   "Not Found",
				"message": "rule not found",
			})
			return
		}
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *FastHTTPServer) handleMetrics(ctx *fasthttp.RequestCtx) {
	if h.metrics == nil {
		utils.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]interface{}{
			"error":   "Service Unavailable",
			"message": "metrics are disabled",
		})
		return
	}

	data, err := h.metrics.GetMetrics()
	if err != nil {
		h.logger.Error("failed to gather metrics", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (h *FastHTTPServer) handleVersion(ctx *fasthttp.RequestCtx) {
	cfg := h.config.GetConfig()
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"name":    cfg.Name,
		"version": cfg.Version,
		"build":   health.GetBuildInfo(),
	})
}
