package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/observability"
	"zporta/internal/services"
)

// InsightHandler handles cached AI insight endpoints
type InsightHandler struct {
	insightService services.InsightServiceInterface
	config         *config.Config
	logger         *observability.Logger
}

// NewInsightHandler creates an InsightHandler
func NewInsightHandler(insightService services.InsightServiceInterface, cfg *config.Config, logger *observability.Logger) *InsightHandler {
	return &InsightHandler{
		insightService: insightService,
		config:         cfg,
		logger:         logger,
	}
}

// GetInsight handles GET /api/insights/. The engine defaults to the
// cheap tier; subject_tag is optional and scopes the analysis.
func (h *InsightHandler) GetInsight(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_insight")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	engine := c.DefaultQuery("engine", "cheap")
	subjectTag := c.Query("subject_tag")

	insight, cacheHit, err := h.insightService.GetInsight(ctx, userID, subjectTag, engine)
	if err != nil {
		h.logger.Error(ctx, "get insight failed", err, map[string]interface{}{
			"engine":      engine,
			"subject_tag": subjectTag,
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"insight":   insight,
		"cache_hit": cacheHit,
	})
}
