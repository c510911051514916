package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

// AbilityHandler handles ability profile endpoints
type AbilityHandler struct {
	abilityService services.AbilityServiceInterface
	config         *config.Config
	logger         *observability.Logger
}

// NewAbilityHandler creates an AbilityHandler
func NewAbilityHandler(abilityService services.AbilityServiceInterface, cfg *config.Config, logger *observability.Logger) *AbilityHandler {
	return &AbilityHandler{
		abilityService: abilityService,
		config:         cfg,
		logger:         logger,
	}
}

// GetMyProfile handles GET /api/ability/me/. Users without enough graded
// attempts have no profile yet and get a 404.
func (h *AbilityHandler) GetMyProfile(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_my_ability")
	defer observability.FinishSpan(span, nil)

	userID, ok := RequireUserID(c)
	if !ok {
		return
	}

	profile, err := h.abilityService.GetProfile(ctx, userID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			HandleAppError(c, contextutils.ErrRecordNotFound)
			return
		}
		h.logger.Error(ctx, "get ability profile failed", err, nil)
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": profile,
		"level":   profile.Level(),
	})
}
