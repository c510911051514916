// Package services contains the learning engine's business logic.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// EventServiceInterface defines the interface for activity event ingestion
type EventServiceInterface interface {
	// RecordEvent validates and persists an activity event, driving the
	// memory state update for quiz answers
	RecordEvent(ctx context.Context, userID *int, kind models.EventKind, ref models.ItemRef, occurredAt time.Time, metadata map[string]interface{}) (*models.ActivityEvent, error)
	// GetRecentEvents returns a user's most recent events, newest first
	GetRecentEvents(ctx context.Context, userID, limit int) ([]*models.ActivityEvent, error)
	// CountInvalidMetadata counts events whose stored metadata is not a JSON object
	CountInvalidMetadata(ctx context.Context) (int, error)
	// CleanupInvalidMetadata repairs events whose metadata is a legacy scalar
	// or list by wrapping the value under a "legacy_value" key
	CleanupInvalidMetadata(ctx context.Context, dryRun bool, limit int) (int, error)
}

// EventService handles activity event ingestion and the synchronous
// memory-state derivation for quiz answers
type EventService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
	memory MemoryServiceInterface
}

// NewEventServiceWithLogger creates a new event service
func NewEventServiceWithLogger(db *sql.DB, cfg *config.Config, memory MemoryServiceInterface, logger *observability.Logger) *EventService {
	return &EventService{
		db:     db,
		config: cfg,
		logger: logger,
		memory: memory,
	}
}

// RecordEvent validates and persists an activity event. The event itself is
// committed before any derivation; a failed memory update never loses the
// event because memory state can be rebuilt from the event stream.
func (s *EventService) RecordEvent(ctx context.Context, userID *int, kind models.EventKind, ref models.ItemRef, occurredAt time.Time, metadata map[string]interface{}) (result0 *models.ActivityEvent, err error) {
	ctx, span := observability.TraceEventFunction(ctx, "record_event",
		observability.AttributeEventKind(string(kind)),
		observability.AttributeItemKind(string(ref.Kind)),
		observability.AttributeItemID(ref.ID),
	)
	defer observability.FinishSpan(span, &err)

	if err := validateEvent(kind, ref); err != nil {
		return nil, err
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var metadataJSON interface{}
	if metadata != nil {
		raw, marshalErr := json.Marshal(metadata)
		if marshalErr != nil {
			return nil, contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeInvalidMetadata,
				contextutils.SeverityWarn,
				"Event metadata could not be encoded", "", marshalErr)
		}
		metadataJSON = raw
	}

	event := &models.ActivityEvent{
		Kind:       kind,
		ItemKind:   ref.Kind,
		ObjectID:   ref.ID,
		OccurredAt: occurredAt,
		Metadata:   metadata,
	}
	if userID != nil {
		event.UserID = sql.NullInt32{Int32: int32(*userID), Valid: true}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO activity_events (user_id, kind, item_kind, object_id, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		event.UserID, event.Kind, event.ItemKind, event.ObjectID, event.OccurredAt, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to insert activity event")
	}

	if kind == models.EventQuizAnswerSubmitted && userID != nil {
		s.deriveMemoryState(ctx, *userID, event)
	}

	return event, nil
}

// deriveMemoryState applies the SM-2 update for a quiz answer. Failures are
// logged and swallowed: the event is already durable and derivation is
// rebuildable.
func (s *EventService) deriveMemoryState(ctx context.Context, userID int, event *models.ActivityEvent) {
	answer, err := parseAnswerMetadata(event.Metadata)
	if err != nil {
		s.logger.Warn(ctx, "Skipping memory update for malformed answer metadata", map[string]interface{}{
			"event_id": event.ID,
			"user_id":  userID,
			"error":    err.Error(),
		})
		return
	}

	ref := models.ItemRef{Kind: models.KindQuestion, ID: answer.QuestionID}
	if _, err := s.memory.ApplyAnswer(ctx, userID, ref, answer, event.OccurredAt); err != nil {
		s.logger.Error(ctx, "Memory state update failed, event retained", err, map[string]interface{}{
			"event_id":    event.ID,
			"user_id":     userID,
			"question_id": answer.QuestionID,
		})
	}
}

// validateEvent checks the event kind and item reference
func validateEvent(kind models.EventKind, ref models.ItemRef) error {
	if !models.ValidEventKind(kind) {
		return contextutils.NewAppError(
			contextutils.ErrorCodeInvalidEvent,
			contextutils.SeverityWarn,
			"Unknown event kind", string(kind))
	}
	if !models.ValidItemKind(ref.Kind) {
		return contextutils.NewAppError(
			contextutils.ErrorCodeInvalidEvent,
			contextutils.SeverityWarn,
			"Unknown item kind", string(ref.Kind))
	}
	if ref.ID <= 0 {
		return contextutils.NewAppError(
			contextutils.ErrorCodeInvalidEvent,
			contextutils.SeverityWarn,
			"Item id must be positive", "")
	}
	return nil
}

// parseAnswerMetadata extracts the quiz answer payload from event metadata
func parseAnswerMetadata(metadata map[string]interface{}) (*models.AnswerMetadata, error) {
	if metadata == nil {
		return nil, contextutils.ErrorWithContextf("answer event has no metadata")
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to re-encode metadata")
	}
	var answer models.AnswerMetadata
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode answer metadata")
	}
	if answer.QuestionID <= 0 {
		return nil, contextutils.ErrorWithContextf("answer metadata missing question_id")
	}
	return &answer, nil
}

// GetRecentEvents returns a user's most recent events, newest first
func (s *EventService) GetRecentEvents(ctx context.Context, userID, limit int) (result0 []*models.ActivityEvent, err error) {
	ctx, span := observability.TraceEventFunction(ctx, "get_recent_events",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, item_kind, object_id, occurred_at, metadata
		FROM activity_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query recent events")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var events []*models.ActivityEvent
	for rows.Next() {
		var event models.ActivityEvent
		var metadataRaw []byte
		if err := rows.Scan(&event.ID, &event.UserID, &event.Kind, &event.ItemKind, &event.ObjectID, &event.OccurredAt, &metadataRaw); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan event row")
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &event.Metadata); err != nil {
				s.logger.Warn(ctx, "Event metadata is not an object", map[string]interface{}{
					"event_id": event.ID,
				})
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate event rows")
	}
	return events, nil
}

// CountInvalidMetadata counts events whose stored metadata is not a JSON object
func (s *EventService) CountInvalidMetadata(ctx context.Context) (result0 int, err error) {
	ctx, span := observability.TraceEventFunction(ctx, "count_invalid_metadata")
	defer observability.FinishSpan(span, &err)

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activity_events
		WHERE metadata IS NOT NULL AND jsonb_typeof(metadata) <> 'object'`).Scan(&count)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to count invalid metadata")
	}
	return count, nil
}

// CleanupInvalidMetadata repairs legacy events whose metadata is a scalar or
// list by wrapping the original value under a "legacy_value" key. With dryRun
// it only reports how many rows would change.
func (s *EventService) CleanupInvalidMetadata(ctx context.Context, dryRun bool, limit int) (result0 int, err error) {
	ctx, span := observability.TraceEventFunction(ctx, "cleanup_invalid_metadata",
		attribute.Bool("dry_run", dryRun),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	if limit <= 0 {
		limit = 1000
	}

	if dryRun {
		var count int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM (
				SELECT id FROM activity_events
				WHERE metadata IS NOT NULL AND jsonb_typeof(metadata) <> 'object'
				LIMIT $1
			) candidates`, limit).Scan(&count)
		if err != nil {
			return 0, contextutils.WrapError(err, "failed to count cleanup candidates")
		}
		return count, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE activity_events
		SET metadata = jsonb_build_object('legacy_value', metadata)
		WHERE id IN (
			SELECT id FROM activity_events
			WHERE metadata IS NOT NULL AND jsonb_typeof(metadata) <> 'object'
			LIMIT $1
		)`, limit)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to repair invalid metadata")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to read affected rows")
	}

	s.logger.Info(ctx, "Repaired events with invalid metadata", map[string]interface{}{
		"repaired": affected,
	})
	return int(affected), nil
}
