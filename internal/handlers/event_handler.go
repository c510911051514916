package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/middleware"
	"zporta/internal/models"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

// EventHandler handles activity event ingestion endpoints
type EventHandler struct {
	eventService services.EventServiceInterface
	config       *config.Config
	logger       *observability.Logger
}

// NewEventHandler creates an EventHandler
func NewEventHandler(eventService services.EventServiceInterface, cfg *config.Config, logger *observability.Logger) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		config:       cfg,
		logger:       logger,
	}
}

// EventRequest represents a POST /api/events/ body
type EventRequest struct {
	Kind string `json:"kind" binding:"required"`
	Item struct {
		Kind string `json:"kind" binding:"required"`
		ID   int    `json:"id" binding:"required"`
	} `json:"item" binding:"required"`
	OccurredAt string                 `json:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// RecordEvent handles POST /api/events/. Anonymous events are accepted;
// the user id is taken from the header when present.
func (h *EventHandler) RecordEvent(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "record_event")
	defer observability.FinishSpan(span, nil)

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidEvent,
			contextutils.SeverityWarn,
			"Invalid request body",
			"",
			err,
		))
		return
	}

	occurredAt := time.Now()
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			HandleValidationError(c, "occurred_at", req.OccurredAt, "must be RFC3339")
			return
		}
		occurredAt = parsed
	}

	var userID *int
	if id, ok := middleware.UserID(c); ok {
		userID = &id
	}

	event, err := h.eventService.RecordEvent(ctx, userID,
		models.EventKind(req.Kind),
		models.ItemRef{Kind: models.ItemKind(req.Item.Kind), ID: req.Item.ID},
		occurredAt, req.Metadata)
	if err != nil {
		h.logger.Error(ctx, "record event failed", err, map[string]interface{}{
			"event_kind": req.Kind,
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// GetRecentEvents handles GET /api/events/recent/
func (h *EventHandler) GetRecentEvents(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_recent_events")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	events, err := h.eventService.GetRecentEvents(ctx, userID, limit)
	if err != nil {
		h.logger.Error(ctx, "get recent events failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
