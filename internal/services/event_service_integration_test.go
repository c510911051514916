//go:build integration
// +build integration

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
)

func TestEventService_RecordAndReadBack(t *testing.T) {
	db := SharedTestDBSetup(t)
	defer db.Close()

	cfg := testConfig()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	memory := NewMemoryServiceWithLogger(db, cfg, logger)
	service := NewEventServiceWithLogger(db, cfg, memory, logger)
	ctx := context.Background()
	userID := 990001

	occurred := time.Now().UTC().Truncate(time.Second)
	event, err := service.RecordEvent(ctx, &userID, models.EventQuizAnswerSubmitted,
		models.ItemRef{Kind: models.KindQuiz, ID: 1}, occurred,
		map[string]interface{}{"quiz_id": 1, "question_id": 2, "is_correct": true, "time_spent_ms": 1800})
	require.NoError(t, err)
	require.NotZero(t, event.ID)

	events, err := service.GetRecentEvents(ctx, userID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, models.EventQuizAnswerSubmitted, events[0].Kind)

	stat, err := memory.GetMemoryStat(ctx, userID, models.ItemRef{Kind: models.KindQuestion, ID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, stat.Repetitions)
	assert.True(t, stat.NextReviewAt.Valid)
}

func TestEventService_CleanupInvalidMetadataRoundTrip(t *testing.T) {
	db := SharedTestDBSetup(t)
	defer db.Close()

	cfg := testConfig()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	service := NewEventServiceWithLogger(db, cfg, NewMemoryServiceWithLogger(db, cfg, logger), logger)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO activity_events (user_id, kind, item_kind, object_id, occurred_at, metadata)
		VALUES (990002, 'content_viewed', 'lesson', 1, NOW(), '"legacy string"'::jsonb)`)
	require.NoError(t, err)

	count, err := service.CountInvalidMetadata(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 1)

	repaired, err := service.CleanupInvalidMetadata(ctx, false, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, repaired, 1)

	after, err := service.CountInvalidMetadata(ctx)
	require.NoError(t, err)
	assert.Zero(t, after)
}
