package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"
)

type stubMemoryService struct {
	applied []models.ItemRef
	err     error
}

func (s *stubMemoryService) ApplyAnswer(_ context.Context, _ int, ref models.ItemRef, _ *models.AnswerMetadata, _ time.Time) (*models.MemoryStat, error) {
	s.applied = append(s.applied, ref)
	return &models.MemoryStat{}, s.err
}

func (s *stubMemoryService) Due(_ context.Context, _, _ int) ([]*models.MemoryStat, error) {
	return nil, nil
}

func (s *stubMemoryService) GetMemoryStat(_ context.Context, _ int, _ models.ItemRef) (*models.MemoryStat, error) {
	return nil, nil
}

func newEventService(t *testing.T) (*EventService, sqlmock.Sqlmock, *stubMemoryService) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	memory := &stubMemoryService{}
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	return NewEventServiceWithLogger(db, testConfig(), memory, logger), mock, memory
}

func TestRecordEvent_UnknownKindRejected(t *testing.T) {
	service, _, _ := newEventService(t)

	_, err := service.RecordEvent(context.Background(), nil, "page_scrolled",
		models.ItemRef{Kind: models.KindQuiz, ID: 1}, time.Now(), nil)

	require.Error(t, err)
	var appErr *contextutils.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, contextutils.ErrorCodeInvalidEvent, appErr.Code)
}

func TestRecordEvent_NonPositiveItemIDRejected(t *testing.T) {
	service, _, _ := newEventService(t)

	_, err := service.RecordEvent(context.Background(), nil, models.EventContentViewed,
		models.ItemRef{Kind: models.KindQuiz, ID: 0}, time.Now(), nil)

	assert.Error(t, err)
}

func TestRecordEvent_AnonymousViewPersisted(t *testing.T) {
	service, mock, memory := newEventService(t)

	mock.ExpectQuery("INSERT INTO activity_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))

	event, err := service.RecordEvent(context.Background(), nil, models.EventContentViewed,
		models.ItemRef{Kind: models.KindLesson, ID: 12}, time.Now(), nil)

	require.NoError(t, err)
	assert.Equal(t, int64(77), event.ID)
	assert.False(t, event.UserID.Valid)
	assert.Empty(t, memory.applied)
}

func TestRecordEvent_AnswerDrivesMemoryUpdate(t *testing.T) {
	service, mock, memory := newEventService(t)
	userID := 42

	mock.ExpectQuery("INSERT INTO activity_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	_, err := service.RecordEvent(context.Background(), &userID, models.EventQuizAnswerSubmitted,
		models.ItemRef{Kind: models.KindQuiz, ID: 9}, time.Now(),
		map[string]interface{}{"quiz_id": 9, "question_id": 3, "is_correct": true, "time_spent_ms": 2100})

	require.NoError(t, err)
	require.Len(t, memory.applied, 1)
	assert.Equal(t, models.ItemRef{Kind: models.KindQuestion, ID: 3}, memory.applied[0])
}

func TestRecordEvent_AnswerWithoutQuestionIDSkipsMemoryUpdate(t *testing.T) {
	service, mock, memory := newEventService(t)
	userID := 42

	mock.ExpectQuery("INSERT INTO activity_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))

	_, err := service.RecordEvent(context.Background(), &userID, models.EventQuizAnswerSubmitted,
		models.ItemRef{Kind: models.KindQuiz, ID: 9}, time.Now(),
		map[string]interface{}{"is_correct": true})

	require.NoError(t, err)
	assert.Empty(t, memory.applied)
}

func TestRecordEvent_MemoryFailureDoesNotLoseEvent(t *testing.T) {
	service, mock, memory := newEventService(t)
	memory.err = errors.New("deadlock detected")
	userID := 42

	mock.ExpectQuery("INSERT INTO activity_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	event, err := service.RecordEvent(context.Background(), &userID, models.EventQuizAnswerSubmitted,
		models.ItemRef{Kind: models.KindQuiz, ID: 9}, time.Now(),
		map[string]interface{}{"question_id": 3, "is_correct": false})

	require.NoError(t, err)
	assert.Equal(t, int64(8), event.ID)
}

func TestGetRecentEvents_ScansMetadata(t *testing.T) {
	service, mock, _ := newEventService(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "kind", "item_kind", "object_id", "occurred_at", "metadata"}).
		AddRow(int64(2), int32(1), "quiz_completed", "quiz", 9, now, []byte(`{"score": 80}`)).
		AddRow(int64(1), int32(1), "content_viewed", "lesson", 4, now.Add(-time.Hour), nil)
	mock.ExpectQuery("SELECT id, user_id, kind, item_kind, object_id, occurred_at, metadata").
		WithArgs(1, 10).
		WillReturnRows(rows)

	events, err := service.GetRecentEvents(context.Background(), 1, 10)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, float64(80), events[0].Metadata["score"])
	assert.Nil(t, events[1].Metadata)
}

func TestCleanupInvalidMetadata_DryRunCountsOnly(t *testing.T) {
	service, mock, _ := newEventService(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := service.CleanupInvalidMetadata(context.Background(), true, 50)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCleanupInvalidMetadata_WrapsLegacyValues(t *testing.T) {
	service, mock, _ := newEventService(t)

	mock.ExpectExec("UPDATE activity_events").
		WithArgs(1000).
		WillReturnResult(sqlmock.NewResult(0, 4))

	repaired, err := service.CleanupInvalidMetadata(context.Background(), false, 0)

	require.NoError(t, err)
	assert.Equal(t, 4, repaired)
}
