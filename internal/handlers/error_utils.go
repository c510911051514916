package handlers

import (
	"fmt"
	"net/http"

	"zporta/internal/middleware"
	contextutils "zporta/internal/utils"

	"github.com/gin-gonic/gin"
)

// HandleAppError handles any AppError and sends the appropriate HTTP response
func HandleAppError(c *gin.Context, err error) {
	if appErr, ok := err.(*contextutils.AppError); ok {
		middleware.StandardizeAppError(c, appErr)
		return
	}
	middleware.StandardizeAppError(c, contextutils.NewAppError(
		contextutils.ErrorCodeInternalError,
		contextutils.SeverityError,
		"Internal server error",
		err.Error(),
	))
}

// HandleValidationError handles input validation errors consistently
func HandleValidationError(c *gin.Context, field string, value interface{}, reason string) {
	middleware.StandardizeAppError(c, contextutils.NewAppError(
		contextutils.ErrorCodeInvalidInput,
		contextutils.SeverityWarn,
		fmt.Sprintf("Invalid %s", field),
		fmt.Sprintf("Value '%v' is invalid: %s", value, reason),
	))
}

// RequireUserID returns the authenticated user id or writes a 401
func RequireUserID(c *gin.Context) (int, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  string(contextutils.ErrorCodeUnauthorized),
		})
		return 0, false
	}
	return userID, true
}
