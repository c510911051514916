package handlers

import (
	"context"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	"zporta/internal/services"
)

// Shared fakes for handler tests. Each fake records the arguments it was
// called with and returns canned results.

type fakeEventService struct {
	recorded    *models.ActivityEvent
	recent      []*models.ActivityEvent
	err         error
	lastUserID  *int
	lastKind    models.EventKind
	lastRef     models.ItemRef
	lastMeta    map[string]interface{}
	recordCalls int
}

func (f *fakeEventService) RecordEvent(_ context.Context, userID *int, kind models.EventKind, ref models.ItemRef, _ time.Time, metadata map[string]interface{}) (*models.ActivityEvent, error) {
	f.recordCalls++
	f.lastUserID = userID
	f.lastKind = kind
	f.lastRef = ref
	f.lastMeta = metadata
	if f.err != nil {
		return nil, f.err
	}
	return f.recorded, nil
}

func (f *fakeEventService) GetRecentEvents(context.Context, int, int) ([]*models.ActivityEvent, error) {
	return f.recent, f.err
}

func (f *fakeEventService) CountInvalidMetadata(context.Context) (int, error) {
	return 0, f.err
}

func (f *fakeEventService) CleanupInvalidMetadata(context.Context, bool, int) (int, error) {
	return 0, f.err
}

type fakeFeedService struct {
	items       []*models.Item
	review      []*services.ReviewItem
	next        *services.NextFeedResponse
	dashboard   *services.DashboardResponse
	err         error
	lastLimit   int
	lastRef     *models.ItemRef
	lastExclude []int
}

func (f *fakeFeedService) Explore(_ context.Context, limit int) ([]*models.Item, error) {
	f.lastLimit = limit
	return f.items, f.err
}

func (f *fakeFeedService) Personalized(_ context.Context, _, limit int) ([]*models.Item, error) {
	f.lastLimit = limit
	return f.items, f.err
}

func (f *fakeFeedService) Review(_ context.Context, _, limit int) ([]*services.ReviewItem, error) {
	f.lastLimit = limit
	return f.review, f.err
}

func (f *fakeFeedService) Next(_ context.Context, _ int, currentRef *models.ItemRef, limit int, excludeIDs []int) (*services.NextFeedResponse, error) {
	f.lastRef = currentRef
	f.lastLimit = limit
	f.lastExclude = excludeIDs
	return f.next, f.err
}

func (f *fakeFeedService) UnifiedDashboard(context.Context, int) (*services.DashboardResponse, error) {
	return f.dashboard, f.err
}

type fakePodcastService struct {
	podcast     *models.Podcast
	report      *services.AccuracyReport
	err         error
	lastRequest *services.PodcastRequest
	lastAnswers map[string]string
}

func (f *fakePodcastService) Generate(_ context.Context, _ int, req *services.PodcastRequest) (*models.Podcast, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.podcast, nil
}

func (f *fakePodcastService) GetPodcast(context.Context, int, int) (*models.Podcast, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.podcast, nil
}

func (f *fakePodcastService) AccuracyCheck(context.Context, int, int) (*services.AccuracyReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func (f *fakePodcastService) SubmitAnswers(_ context.Context, _, _ int, answers map[string]string) error {
	f.lastAnswers = answers
	return f.err
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Debug: true},
	}
}

func testHandlerLogger() *observability.Logger {
	return observability.NewLogger(&config.OpenTelemetryConfig{})
}
