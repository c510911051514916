package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func postEvent(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/events/", EventValidationMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"status": "ok"})
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/events/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestEventValidation_ValidBody(t *testing.T) {
	recorder := postEvent(t, `{
		"kind": "content_viewed",
		"item": {"kind": "lesson", "id": 42},
		"metadata": {"source": "feed"}
	}`)
	assert.Equal(t, http.StatusCreated, recorder.Code)
}

func TestEventValidation_NullMetadataIsAllowed(t *testing.T) {
	recorder := postEvent(t, `{
		"kind": "content_viewed",
		"item": {"kind": "quiz", "id": 7},
		"metadata": null
	}`)
	assert.Equal(t, http.StatusCreated, recorder.Code)
}

func TestEventValidation_ScalarMetadataRejected(t *testing.T) {
	recorder := postEvent(t, `{
		"kind": "content_viewed",
		"item": {"kind": "quiz", "id": 7},
		"metadata": "not an object"
	}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "INVALID_METADATA")
}

func TestEventValidation_ArrayMetadataRejected(t *testing.T) {
	recorder := postEvent(t, `{
		"kind": "quiz_started",
		"item": {"kind": "quiz", "id": 7},
		"metadata": [1, 2, 3]
	}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "INVALID_METADATA")
}

func TestEventValidation_MissingKind(t *testing.T) {
	recorder := postEvent(t, `{"item": {"kind": "quiz", "id": 7}}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "INVALID_EVENT")
}

func TestEventValidation_MalformedJSON(t *testing.T) {
	recorder := postEvent(t, `{"kind": `)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
