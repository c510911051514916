// Package middleware provides identity, validation, and recovery middleware
// for the Gin web framework.
package middleware

import (
	"net/http"
	"strconv"

	contextutils "zporta/internal/utils"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the resolved user id
const UserIDKey = "user_id"

// UserIDHeader carries the caller's identity, resolved upstream by the
// platform's auth layer
const UserIDHeader = "X-User-ID"

// RequireUser returns a middleware that requires a valid X-User-ID header
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUserIDHeader(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  string(contextutils.ErrorCodeUnauthorized),
			})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(contextutils.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// OptionalUser resolves X-User-ID when present; anonymous requests pass
// through with no user in context
func OptionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := parseUserIDHeader(c); ok {
			c.Set(UserIDKey, userID)
			c.Request = c.Request.WithContext(contextutils.WithUserID(c.Request.Context(), userID))
		}
		c.Next()
	}
}

func parseUserIDHeader(c *gin.Context) (int, bool) {
	raw := c.GetHeader(UserIDHeader)
	if raw == "" {
		return 0, false
	}
	userID, err := strconv.Atoi(raw)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

// UserID returns the user id stored by RequireUser or OptionalUser
func UserID(c *gin.Context) (int, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := value.(int)
	return userID, ok
}
