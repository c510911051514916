package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	"zporta/internal/services"
)

// FeedHandler handles feed and dashboard endpoints
type FeedHandler struct {
	feedService services.FeedServiceInterface
	config      *config.Config
	logger      *observability.Logger
}

// NewFeedHandler creates a FeedHandler
func NewFeedHandler(feedService services.FeedServiceInterface, cfg *config.Config, logger *observability.Logger) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		config:      cfg,
		logger:      logger,
	}
}

func (h *FeedHandler) limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}

// Explore handles GET /api/feed/explore/
func (h *FeedHandler) Explore(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "feed_explore")
	defer observability.FinishSpan(span, nil)

	items, err := h.feedService.Explore(ctx, h.limitParam(c))
	if err != nil {
		h.logger.Error(ctx, "explore feed failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Personalized handles GET /api/feed/personalized/
func (h *FeedHandler) Personalized(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "feed_personalized")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	items, err := h.feedService.Personalized(ctx, userID, h.limitParam(c))
	if err != nil {
		h.logger.Error(ctx, "personalized feed failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Review handles GET /api/feed/review/
func (h *FeedHandler) Review(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "feed_review")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	items, err := h.feedService.Review(ctx, userID, h.limitParam(c))
	if err != nil {
		h.logger.Error(ctx, "review feed failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Next handles GET /api/feed/next/. The current item and exclusions come
// from query params so the client can page through suggestions.
func (h *FeedHandler) Next(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "feed_next")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	var currentRef *models.ItemRef
	if kind, id := c.Query("current_kind"), c.Query("current_id"); kind != "" && id != "" {
		currentID, err := strconv.Atoi(id)
		if err != nil {
			HandleValidationError(c, "current_id", id, "must be an integer")
			return
		}
		currentRef = &models.ItemRef{Kind: models.ItemKind(kind), ID: currentID}
	}

	var excludeIDs []int
	if raw := c.Query("exclude"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				HandleValidationError(c, "exclude", raw, "must be a comma-separated list of integers")
				return
			}
			excludeIDs = append(excludeIDs, id)
		}
	}

	response, err := h.feedService.Next(ctx, userID, currentRef, h.limitParam(c), excludeIDs)
	if err != nil {
		h.logger.Error(ctx, "next feed failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// UnifiedDashboard handles GET /api/dashboard/
func (h *FeedHandler) UnifiedDashboard(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "unified_dashboard")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	dashboard, err := h.feedService.UnifiedDashboard(ctx, userID)
	if err != nil {
		h.logger.Error(ctx, "unified dashboard failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dashboard)
}
