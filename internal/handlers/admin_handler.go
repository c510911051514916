package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

// AdminHandler handles operational endpoints: cache statistics and
// worker control
type AdminHandler struct {
	cacheStatsService services.CacheStatsServiceInterface
	workerService     services.WorkerServiceInterface
	insightService    services.InsightServiceInterface
	config            *config.Config
	logger            *observability.Logger
}

// NewAdminHandler creates an AdminHandler
func NewAdminHandler(cacheStatsService services.CacheStatsServiceInterface, workerService services.WorkerServiceInterface, insightService services.InsightServiceInterface, cfg *config.Config, logger *observability.Logger) *AdminHandler {
	return &AdminHandler{
		cacheStatsService: cacheStatsService,
		workerService:     workerService,
		insightService:    insightService,
		config:            cfg,
		logger:            logger,
	}
}

// GetCacheStats handles GET /v1/admin/cache-stats. Without a range it
// returns today's row; from/to select an inclusive day range.
func (h *AdminHandler) GetCacheStats(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_cache_stats")
	defer observability.FinishSpan(span, nil)

	fromParam, toParam := c.Query("from"), c.Query("to")
	if fromParam == "" && toParam == "" {
		stats, err := h.cacheStatsService.GetDaily(ctx, time.Now().UTC())
		if err != nil {
			h.logger.Error(ctx, "get daily cache stats failed", err, nil)
			HandleAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
		return
	}

	from, err := time.Parse("2006-01-02", fromParam)
	if err != nil {
		HandleValidationError(c, "from", fromParam, "must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", toParam)
	if err != nil {
		HandleValidationError(c, "to", toParam, "must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		HandleValidationError(c, "to", toParam, "must not be before from")
		return
	}

	rows, err := h.cacheStatsService.GetRange(ctx, from, to)
	if err != nil {
		h.logger.Error(ctx, "get cache stats range failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": rows, "count": len(rows)})
}

// ClearStaleInsights handles POST /v1/admin/insights/clear-stale
func (h *AdminHandler) ClearStaleInsights(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "clear_stale_insights")
	defer observability.FinishSpan(span, nil)

	userID, _ := strconv.Atoi(c.DefaultQuery("user_id", "0"))
	subjectTag := c.Query("subject_tag")
	all := c.Query("all") == "true"

	deleted, err := h.insightService.ClearStale(ctx, userID, subjectTag, all)
	if err != nil {
		h.logger.Error(ctx, "clear stale insights failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// GetWorkerStatuses handles GET /v1/admin/worker/status
func (h *AdminHandler) GetWorkerStatuses(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_statuses")
	defer observability.FinishSpan(span, nil)

	statuses, err := h.workerService.GetAllWorkerStatuses(ctx)
	if err != nil {
		h.logger.Error(ctx, "get worker statuses failed", err, nil)
		HandleAppError(c, err)
		return
	}

	globalPaused, err := h.workerService.IsGlobalPaused(ctx)
	if err != nil {
		h.logger.Error(ctx, "get global pause failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers":       statuses,
		"global_paused": globalPaused,
	})
}

// GetWorkerHealth handles GET /v1/admin/worker/health
func (h *AdminHandler) GetWorkerHealth(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_health")
	defer observability.FinishSpan(span, nil)

	health, err := h.workerService.GetWorkerHealth(ctx)
	if err != nil {
		h.logger.Error(ctx, "get worker health failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, health)
}

// PauseWorker handles POST /v1/admin/worker/:instance/pause
func (h *AdminHandler) PauseWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "pause_worker")
	defer observability.FinishSpan(span, nil)

	instance := c.Param("instance")
	if err := h.workerService.PauseWorker(ctx, instance); err != nil {
		h.logger.Error(ctx, "pause worker failed", err, map[string]interface{}{
			"instance": instance,
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paused", "instance": instance})
}

// ResumeWorker handles POST /v1/admin/worker/:instance/resume
func (h *AdminHandler) ResumeWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_worker")
	defer observability.FinishSpan(span, nil)

	instance := c.Param("instance")
	if err := h.workerService.ResumeWorker(ctx, instance); err != nil {
		h.logger.Error(ctx, "resume worker failed", err, map[string]interface{}{
			"instance": instance,
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "resumed", "instance": instance})
}

// TriggerJob handles POST /v1/admin/worker/trigger/:job. The worker
// picks the trigger up on its next poll.
func (h *AdminHandler) TriggerJob(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "trigger_job")
	defer observability.FinishSpan(span, nil)

	jobName := c.Param("job")
	if err := h.workerService.TriggerJob(ctx, jobName); err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "job": jobName})
}

// GlobalPauseRequest is a PUT /v1/admin/worker/global-pause body
type GlobalPauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

// SetGlobalPause handles PUT /v1/admin/worker/global-pause
func (h *AdminHandler) SetGlobalPause(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "set_global_pause")
	defer observability.FinishSpan(span, nil)

	var req GlobalPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request body",
			"",
			err,
		))
		return
	}

	if err := h.workerService.SetGlobalPause(ctx, *req.Paused); err != nil {
		h.logger.Error(ctx, "set global pause failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"global_paused": *req.Paused})
}

// GetRecentRuns handles GET /v1/admin/worker/runs
func (h *AdminHandler) GetRecentRuns(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_recent_runs")
	defer observability.FinishSpan(span, nil)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.workerService.GetRecentRuns(ctx, limit)
	if err != nil {
		h.logger.Error(ctx, "get recent runs failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
