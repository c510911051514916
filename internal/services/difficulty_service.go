package services

import (
	"context"
	"database/sql"
	"math"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// DifficultyBatchOptions controls a difficulty computation run
type DifficultyBatchOptions struct {
	MinAttempts int
	WindowDays  int
	// ItemKind restricts the run to "quiz" or "question"; empty means both
	ItemKind models.ItemKind
}

// DifficultyServiceInterface defines the interface for the difficulty estimator
type DifficultyServiceInterface interface {
	// ComputeAll recomputes difficulty profiles from the event stream and
	// returns the number of items updated
	ComputeAll(ctx context.Context, opts DifficultyBatchOptions) (int, error)
	// GetProfile returns the stored difficulty profile for an item
	GetProfile(ctx context.Context, ref models.ItemRef) (*models.ContentDifficultyProfile, error)
}

// DifficultyService derives per-item difficulty from quiz answer events
type DifficultyService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
}

// NewDifficultyServiceWithLogger creates a new difficulty service
func NewDifficultyServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *DifficultyService {
	return &DifficultyService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// ComputeDifficultyScore blends the success and time components of observed
// attempts with a 400-point prior, weighted by how many attempts exist.
// Result is clamped to [0, 1000].
func ComputeDifficultyScore(successRate, avgTimeSeconds float64, attemptCount int) float64 {
	if avgTimeSeconds > 60 {
		avgTimeSeconds = 60
	}

	successComponent := 400 + (100-successRate)*5
	timeComponent := (avgTimeSeconds - 10) * 5
	raw := successComponent + 0.3*timeComponent

	confidence := math.Min(float64(attemptCount)/30, 1)
	score := raw*confidence + 400*(1-confidence)

	return math.Max(0, math.Min(1000, score))
}

// ComputeAll recomputes difficulty profiles from quiz answer events inside
// the look-back window. Failures are isolated per item so one bad row does
// not abort the batch.
func (s *DifficultyService) ComputeAll(ctx context.Context, opts DifficultyBatchOptions) (result0 int, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "compute_content_difficulty",
		attribute.Int("window_days", opts.WindowDays),
		attribute.Int("min_attempts", opts.MinAttempts),
		observability.AttributeItemKind(string(opts.ItemKind)),
	)
	defer observability.FinishSpan(span, &err)

	if opts.WindowDays <= 0 {
		opts.WindowDays = s.config.Engine.DifficultyWindowDays
	}
	if opts.MinAttempts <= 0 {
		opts.MinAttempts = s.config.Engine.DifficultyMinAttempts
	}

	kinds := []models.ItemKind{models.KindQuiz, models.KindQuestion}
	if opts.ItemKind != "" {
		kinds = []models.ItemKind{opts.ItemKind}
	}

	updated := 0
	for _, kind := range kinds {
		n, kindErr := s.computeForKind(ctx, kind, opts)
		if kindErr != nil {
			return updated, kindErr
		}
		updated += n
	}

	s.logger.Info(ctx, "Difficulty batch finished", map[string]interface{}{
		"items_updated": updated,
		"window_days":   opts.WindowDays,
		"min_attempts":  opts.MinAttempts,
	})
	span.SetAttributes(attribute.Int("items.updated", updated))
	return updated, nil
}

// computeForKind aggregates answer events for one item kind. Quiz attempts
// are grouped by the quiz_id in the answer metadata, question attempts by
// question_id, so a single answer event feeds both profiles.
func (s *DifficultyService) computeForKind(ctx context.Context, kind models.ItemKind, opts DifficultyBatchOptions) (result0 int, err error) {
	idField := "question_id"
	if kind == models.KindQuiz {
		idField = "quiz_id"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT (metadata->>`+"'"+idField+"'"+`)::int AS object_id,
			AVG(CASE WHEN (metadata->>'is_correct')::boolean THEN 1.0 ELSE 0.0 END) * 100 AS success_rate,
			AVG((metadata->>'time_spent_ms')::float) / 1000.0 AS avg_time_seconds,
			COUNT(*) AS attempt_count
		FROM activity_events
		WHERE kind = $1
			AND occurred_at >= NOW() - make_interval(days => $2)
			AND jsonb_typeof(metadata) = 'object'
			AND metadata ? 'is_correct'
			AND metadata ? 'time_spent_ms'
			AND (metadata->>`+"'"+idField+"'"+`) ~ '^[0-9]+$'
		GROUP BY 1
		HAVING COUNT(*) >= $3`,
		models.EventQuizAnswerSubmitted, opts.WindowDays, opts.MinAttempts)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to aggregate answer events")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	type aggregate struct {
		objectID       int
		successRate    float64
		avgTimeSeconds float64
		attemptCount   int
	}
	var aggregates []aggregate
	for rows.Next() {
		var agg aggregate
		if err := rows.Scan(&agg.objectID, &agg.successRate, &agg.avgTimeSeconds, &agg.attemptCount); err != nil {
			return 0, contextutils.WrapError(err, "failed to scan aggregate row")
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return 0, contextutils.WrapError(err, "failed to iterate aggregate rows")
	}

	now := time.Now()
	updated := 0
	for _, agg := range aggregates {
		profile := &models.ContentDifficultyProfile{
			ItemKind:       kind,
			ObjectID:       agg.objectID,
			Score:          ComputeDifficultyScore(agg.successRate, agg.avgTimeSeconds, agg.attemptCount),
			SuccessRate:    agg.successRate,
			AvgTimeSeconds: math.Min(agg.avgTimeSeconds, 60),
			AttemptCount:   agg.attemptCount,
			LastComputed:   now,
		}
		if err := s.storeProfile(ctx, profile); err != nil {
			s.logger.Error(ctx, "Failed to store difficulty profile, continuing batch", err, map[string]interface{}{
				"item_kind": kind,
				"object_id": agg.objectID,
			})
			continue
		}
		updated++
	}
	return updated, nil
}

// storeProfile upserts the profile and denormalizes the score onto the item
func (s *DifficultyService) storeProfile(ctx context.Context, profile *models.ContentDifficultyProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_difficulty_profiles (item_kind, object_id, score, success_rate, avg_time_seconds, attempt_count, last_computed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_kind, object_id) DO UPDATE SET
			score = EXCLUDED.score,
			success_rate = EXCLUDED.success_rate,
			avg_time_seconds = EXCLUDED.avg_time_seconds,
			attempt_count = EXCLUDED.attempt_count,
			last_computed = EXCLUDED.last_computed`,
		profile.ItemKind, profile.ObjectID, profile.Score, profile.SuccessRate,
		profile.AvgTimeSeconds, profile.AttemptCount, profile.LastComputed)
	if err != nil {
		return contextutils.WrapError(err, "failed to upsert difficulty profile")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE items SET difficulty_score = $1, success_rate = $2, avg_time_seconds = $3, attempt_count = $4
		WHERE kind = $5 AND id = $6`,
		profile.Score, profile.SuccessRate, profile.AvgTimeSeconds, profile.AttemptCount,
		profile.ItemKind, profile.ObjectID)
	if err != nil {
		return contextutils.WrapError(err, "failed to denormalize difficulty onto item")
	}
	return nil
}

// GetProfile returns the stored difficulty profile for an item
func (s *DifficultyService) GetProfile(ctx context.Context, ref models.ItemRef) (result0 *models.ContentDifficultyProfile, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "get_difficulty_profile",
		observability.AttributeItemKind(string(ref.Kind)),
		observability.AttributeItemID(ref.ID),
	)
	defer observability.FinishSpan(span, &err)

	var profile models.ContentDifficultyProfile
	err = s.db.QueryRowContext(ctx, `
		SELECT item_kind, object_id, score, success_rate, avg_time_seconds, attempt_count, last_computed
		FROM content_difficulty_profiles
		WHERE item_kind = $1 AND object_id = $2`, ref.Kind, ref.ID,
	).Scan(&profile.ItemKind, &profile.ObjectID, &profile.Score, &profile.SuccessRate,
		&profile.AvgTimeSeconds, &profile.AttemptCount, &profile.LastComputed)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query difficulty profile")
	}
	return &profile, nil
}
