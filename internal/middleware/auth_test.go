package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getWithHeader(t *testing.T, handler gin.HandlerFunc, userID string) (*httptest.ResponseRecorder, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var captured *int
	router.GET("/probe", handler, func(c *gin.Context) {
		if id, ok := UserID(c); ok {
			captured = &id
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if userID != "" {
		request.Header.Set(UserIDHeader, userID)
	}
	router.ServeHTTP(recorder, request)
	return recorder, captured
}

func TestRequireUser_ValidHeader(t *testing.T) {
	recorder, captured := getWithHeader(t, RequireUser(), "42")
	assert.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, captured)
	assert.Equal(t, 42, *captured)
}

func TestRequireUser_MissingHeader(t *testing.T) {
	recorder, captured := getWithHeader(t, RequireUser(), "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Nil(t, captured)
}

func TestRequireUser_NonNumericHeader(t *testing.T) {
	recorder, _ := getWithHeader(t, RequireUser(), "abc")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequireUser_NonPositiveHeader(t *testing.T) {
	recorder, _ := getWithHeader(t, RequireUser(), "0")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestOptionalUser_AnonymousPassesThrough(t *testing.T) {
	recorder, captured := getWithHeader(t, OptionalUser(), "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Nil(t, captured)
}

func TestOptionalUser_ResolvesWhenPresent(t *testing.T) {
	recorder, captured := getWithHeader(t, OptionalUser(), "7")
	assert.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, captured)
	assert.Equal(t, 7, *captured)
}
