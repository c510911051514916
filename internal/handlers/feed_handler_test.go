package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/middleware"
	"zporta/internal/models"
	"zporta/internal/services"
)

func newFeedRouter(service *fakeFeedService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewFeedHandler(service, testHandlerConfig(), testHandlerLogger())
	router := gin.New()
	router.GET("/api/feed/explore/", middleware.OptionalUser(), handler.Explore)
	router.GET("/api/feed/personalized/", middleware.RequireUser(), handler.Personalized)
	router.GET("/api/feed/next/", middleware.RequireUser(), handler.Next)
	router.GET("/api/dashboard/", middleware.RequireUser(), handler.UnifiedDashboard)
	return router
}

func TestExplore_AnonymousAllowed(t *testing.T) {
	service := &fakeFeedService{
		items: []*models.Item{{ID: 1, Kind: models.KindQuiz}, {ID: 2, Kind: models.KindCourse}},
	}
	router := newFeedRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/feed/explore/?limit=5", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 5, service.lastLimit)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, float64(2), response["count"])
}

func TestPersonalized_RequiresUser(t *testing.T) {
	router := newFeedRouter(&fakeFeedService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/feed/personalized/", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestNext_ParsesCurrentItemAndExclusions(t *testing.T) {
	service := &fakeFeedService{
		next: &services.NextFeedResponse{Items: []services.NextItem{{ItemID: 3}}, Count: 1},
	}
	router := newFeedRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/feed/next/?current_kind=quiz&current_id=12&exclude=3,4,5", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, service.lastRef)
	assert.Equal(t, models.ItemRef{Kind: models.KindQuiz, ID: 12}, *service.lastRef)
	assert.Equal(t, []int{3, 4, 5}, service.lastExclude)
}

func TestNext_BadExcludeList(t *testing.T) {
	router := newFeedRouter(&fakeFeedService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/feed/next/?exclude=3,abc", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUnifiedDashboard_ReturnsSections(t *testing.T) {
	service := &fakeFeedService{
		dashboard: &services.DashboardResponse{
			Enrolled:         []*models.Item{{ID: 1, Kind: models.KindCourse}},
			SuggestedCourses: []*models.Item{{ID: 2, Kind: models.KindCourse}},
		},
	}
	router := newFeedRouter(service)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/dashboard/", nil)
	request.Header.Set(middleware.UserIDHeader, "7")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Len(t, response["enrolled"], 1)
	assert.Len(t, response["suggested_courses"], 1)
}
