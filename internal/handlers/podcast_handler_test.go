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
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

func newPodcastRouter(service *fakePodcastService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewPodcastHandler(service, testHandlerConfig(), testHandlerLogger())
	router := gin.New()
	group := router.Group("/api/podcasts", middleware.RequireUser())
	group.POST("/", handler.Generate)
	group.GET("/:id/", handler.GetPodcast)
	group.GET("/:id/accuracy-check/", handler.AccuracyCheck)
	group.PUT("/:id/answers/", handler.SubmitAnswers)
	return router
}

func TestGeneratePodcast_Success(t *testing.T) {
	service := &fakePodcastService{
		podcast: &models.Podcast{ID: 5, UserID: 7, Category: "weekly", Status: models.PodcastStatusCompleted},
	}
	router := newPodcastRouter(service)

	body := `{"category": "weekly", "languages": ["en", "ja"], "reply_size": "medium"}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/podcasts/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	require.NotNil(t, service.lastRequest)
	assert.Equal(t, "weekly", service.lastRequest.Category)
	assert.Equal(t, []string{"en", "ja"}, service.lastRequest.Languages)
}

func TestGeneratePodcast_CooldownMapsTo403(t *testing.T) {
	service := &fakePodcastService{
		err: contextutils.NewAppError(
			contextutils.ErrorCodeCooldownActive,
			contextutils.SeverityInfo,
			"Podcast cooldown active",
			"unlocks at 2026-09-01T00:00:00Z",
		),
	}
	router := newPodcastRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/podcasts/", strings.NewReader(`{"category": "weekly"}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusForbidden, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "COOLDOWN_ACTIVE", response["code"])
}

func TestGetPodcast_NotFound(t *testing.T) {
	service := &fakePodcastService{err: contextutils.ErrRecordNotFound}
	router := newPodcastRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/podcasts/99/", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetPodcast_BadID(t *testing.T) {
	router := newPodcastRouter(&fakePodcastService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/podcasts/abc/", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAccuracyCheck_ReturnsReport(t *testing.T) {
	service := &fakePodcastService{
		report: &services.AccuracyReport{
			AccuracyScore:  100,
			ContentChecks:  map[string]bool{"has_script": true},
			Recommendation: "publish",
		},
	}
	router := newPodcastRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/podcasts/5/accuracy-check/", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var report services.AccuracyReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.Equal(t, 100, report.AccuracyScore)
	assert.Equal(t, "publish", report.Recommendation)
}

func TestSubmitAnswers_MissingAnswersMapTo400(t *testing.T) {
	service := &fakePodcastService{
		err: contextutils.NewAppError(
			contextutils.ErrorCodeMissingRequired,
			contextutils.SeverityWarn,
			"Unanswered questions",
			"missing: What did you study this week?",
		),
	}
	router := newPodcastRouter(service)

	body := `{"answers": {"q1": "something"}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPut, "/api/podcasts/5/answers/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSubmitAnswers_Saved(t *testing.T) {
	service := &fakePodcastService{}
	router := newPodcastRouter(service)

	body := `{"answers": {"What did you study this week?": "algebra"}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPut, "/api/podcasts/5/answers/", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, map[string]string{"What did you study this week?": "algebra"}, service.lastAnswers)
}
