package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

// PodcastHandler handles podcast generation and review endpoints
type PodcastHandler struct {
	podcastService services.PodcastServiceInterface
	config         *config.Config
	logger         *observability.Logger
}

// NewPodcastHandler creates a PodcastHandler
func NewPodcastHandler(podcastService services.PodcastServiceInterface, cfg *config.Config, logger *observability.Logger) *PodcastHandler {
	return &PodcastHandler{
		podcastService: podcastService,
		config:         cfg,
		logger:         logger,
	}
}

func (h *PodcastHandler) podcastIDParam(c *gin.Context) (int, bool) {
	podcastID, err := strconv.Atoi(c.Param("id"))
	if err != nil || podcastID < 1 {
		HandleValidationError(c, "id", c.Param("id"), "must be a positive integer")
		return 0, false
	}
	return podcastID, true
}

// Generate handles POST /api/podcasts/. A 403 with the unlock time means
// the cooldown for the requested category has not elapsed yet.
func (h *PodcastHandler) Generate(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "generate_podcast")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	var req services.PodcastRequest
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

	podcast, err := h.podcastService.Generate(ctx, userID, &req)
	if err != nil {
		h.logger.Error(ctx, "podcast generation failed", err, map[string]interface{}{
			"category": req.Category,
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, podcast)
}

// GetPodcast handles GET /api/podcasts/:id/
func (h *PodcastHandler) GetPodcast(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_podcast")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}
	podcastID, ok := h.podcastIDParam(c)
	if !ok {
		return
	}

	podcast, err := h.podcastService.GetPodcast(ctx, podcastID, userID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			HandleAppError(c, err)
			return
		}
		h.logger.Error(ctx, "get podcast failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, podcast)
}

// AccuracyCheck handles GET /api/podcasts/:id/accuracy-check/
func (h *PodcastHandler) AccuracyCheck(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "podcast_accuracy_check")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}
	podcastID, ok := h.podcastIDParam(c)
	if !ok {
		return
	}

	report, err := h.podcastService.AccuracyCheck(ctx, podcastID, userID)
	if err != nil {
		h.logger.Error(ctx, "podcast accuracy check failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// AnswersRequest is a PUT /api/podcasts/:id/answers/ body
type AnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmitAnswers handles PUT /api/podcasts/:id/answers/. Every question
// extracted from the script must be answered or the request fails with a
// 400 listing the missing ones.
func (h *PodcastHandler) SubmitAnswers(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_podcast_answers")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}
	podcastID, ok := h.podcastIDParam(c)
	if !ok {
		return
	}

	var req AnswersRequest
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

	if err := h.podcastService.SubmitAnswers(ctx, podcastID, userID, req.Answers); err != nil {
		h.logger.Error(ctx, "submit podcast answers failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved", "answer_count": len(req.Answers)})
}
