package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/middleware"
	"zporta/internal/models"
	contextutils "zporta/internal/utils"
)

func newEventRouter(service *fakeEventService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewEventHandler(service, testHandlerConfig(), testHandlerLogger())
	router := gin.New()
	router.POST("/api/events/", middleware.OptionalUser(), handler.RecordEvent)
	router.GET("/api/events/recent/", middleware.RequireUser(), handler.GetRecentEvents)
	return router
}

func TestRecordEvent_AnonymousAccepted(t *testing.T) {
	service := &fakeEventService{
		recorded: &models.ActivityEvent{ID: 1, Kind: models.EventContentViewed, ItemKind: models.KindQuiz, ObjectID: 9},
	}
	router := newEventRouter(service)

	body := `{"kind": "content_viewed", "item": {"kind": "quiz", "id": 9}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/events/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, 1, service.recordCalls)
	assert.Nil(t, service.lastUserID)
	assert.Equal(t, models.EventContentViewed, service.lastKind)
	assert.Equal(t, models.ItemRef{Kind: models.KindQuiz, ID: 9}, service.lastRef)
}

func TestRecordEvent_AuthenticatedUserAttached(t *testing.T) {
	service := &fakeEventService{
		recorded: &models.ActivityEvent{ID: 2},
	}
	router := newEventRouter(service)

	body := `{"kind": "quiz_answer_submitted", "item": {"kind": "quiz", "id": 4}, "metadata": {"is_correct": true}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/events/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(middleware.UserIDHeader, "42")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	require.NotNil(t, service.lastUserID)
	assert.Equal(t, 42, *service.lastUserID)
	assert.Equal(t, true, service.lastMeta["is_correct"])
}

func TestRecordEvent_BadOccurredAt(t *testing.T) {
	service := &fakeEventService{}
	router := newEventRouter(service)

	body := `{"kind": "impression", "item": {"kind": "quiz", "id": 9}, "occurred_at": "yesterday"}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/events/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, 0, service.recordCalls)
}

func TestRecordEvent_ServiceErrorPropagates(t *testing.T) {
	service := &fakeEventService{
		err: contextutils.NewAppError(
			contextutils.ErrorCodeInvalidEvent,
			contextutils.SeverityWarn,
			"Unknown event kind",
			"",
		),
	}
	router := newEventRouter(service)

	body := `{"kind": "bogus", "item": {"kind": "quiz", "id": 9}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/events/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "INVALID_EVENT", response["code"])
}

func TestGetRecentEvents_RequiresUser(t *testing.T) {
	router := newEventRouter(&fakeEventService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/events/recent/", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGetRecentEvents_ReturnsEvents(t *testing.T) {
	service := &fakeEventService{
		recent: []*models.ActivityEvent{{ID: 1}, {ID: 2}},
	}
	router := newEventRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/events/recent/", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, float64(2), response["count"])
}
