package services

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// MemoryServiceInterface defines the interface for spaced-repetition state
type MemoryServiceInterface interface {
	// ApplyAnswer updates the SM-2 state for a (user, item) pair from a quiz answer
	ApplyAnswer(ctx context.Context, userID int, ref models.ItemRef, answer *models.AnswerMetadata, at time.Time) (*models.MemoryStat, error)
	// Due returns items whose next review is at or before now, soonest first
	Due(ctx context.Context, userID, limit int) ([]*models.MemoryStat, error)
	// GetMemoryStat returns the stored state for a (user, item) pair
	GetMemoryStat(ctx context.Context, userID int, ref models.ItemRef) (*models.MemoryStat, error)
}

// MemoryService implements SM-2 spaced repetition over the memory_stats table
type MemoryService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
}

// NewMemoryServiceWithLogger creates a new memory service
func NewMemoryServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *MemoryService {
	return &MemoryService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// QualityForAnswer maps an answer to the SM-2 quality scale:
// 5 correct and fast, 4 correct, 2 wrong with a recall signal, 0 wrong.
func QualityForAnswer(answer *models.AnswerMetadata) int {
	if answer.IsCorrect {
		if answer.TimeSpentMs > 0 && answer.TimeSpentMs < config.FastAnswerMs {
			return 5
		}
		return 4
	}
	if answer.QualityOfRecall != nil && *answer.QualityOfRecall > 0 {
		return 2
	}
	return 0
}

// ApplySM2 computes the next SM-2 state from the previous one. A quality
// below 3 resets repetitions and the interval; easiness never drops below 1.3.
func ApplySM2(prev *models.MemoryStat, quality int, at time.Time) *models.MemoryStat {
	next := *prev

	if quality < 3 {
		next.Repetitions = 0
		next.IntervalDays = 1
	} else {
		next.Repetitions = prev.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = prev.IntervalDays * prev.Easiness
		}
	}

	q := float64(quality)
	next.Easiness = math.Max(config.MinEasiness, prev.Easiness+(0.1-(5-q)*(0.08+(5-q)*0.02)))

	next.LastReviewedAt = sql.NullTime{Time: at, Valid: true}
	nextReview := at.Add(time.Duration(next.IntervalDays * float64(24*time.Hour)))
	next.NextReviewAt = sql.NullTime{Time: nextReview, Valid: true}
	next.LastQuality = sql.NullInt32{Int32: int32(quality), Valid: true}
	next.UpdatedAt = at

	return &next
}

// ApplyAnswer updates the SM-2 state for a (user, item) pair. The row is
// locked FOR UPDATE inside the transaction so concurrent answers for the same
// pair serialize; a serialization failure is retried once with a fresh read.
func (s *MemoryService) ApplyAnswer(ctx context.Context, userID int, ref models.ItemRef, answer *models.AnswerMetadata, at time.Time) (result0 *models.MemoryStat, err error) {
	ctx, span := observability.TraceMemoryFunction(ctx, "apply_answer",
		observability.AttributeUserID(userID),
		observability.AttributeItemKind(string(ref.Kind)),
		observability.AttributeItemID(ref.ID),
		attribute.Bool("answer.is_correct", answer.IsCorrect),
	)
	defer observability.FinishSpan(span, &err)

	stat, err := s.applyAnswerTx(ctx, userID, ref, answer, at)
	if err != nil && contextutils.GetErrorCode(err) == contextutils.ErrorCodeConcurrentUpdate {
		s.logger.Warn(ctx, "Concurrent memory update, retrying once", map[string]interface{}{
			"user_id":   userID,
			"object_id": ref.ID,
		})
		stat, err = s.applyAnswerTx(ctx, userID, ref, answer, at)
	}
	return stat, err
}

func (s *MemoryService) applyAnswerTx(ctx context.Context, userID int, ref models.ItemRef, answer *models.AnswerMetadata, at time.Time) (result0 *models.MemoryStat, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn(ctx, "Rollback failed", map[string]interface{}{"error": rbErr.Error()})
			}
		}
	}()

	prev := &models.MemoryStat{
		UserID:       userID,
		ItemKind:     ref.Kind,
		ObjectID:     ref.ID,
		Easiness:     config.InitialEasiness,
		Repetitions:  0,
		IntervalDays: 0,
	}

	row := tx.QueryRowContext(ctx, `
		SELECT easiness, repetitions, interval_days, last_reviewed_at, next_review_at
		FROM memory_stats
		WHERE user_id = $1 AND item_kind = $2 AND object_id = $3
		FOR UPDATE`, userID, ref.Kind, ref.ID)
	scanErr := row.Scan(&prev.Easiness, &prev.Repetitions, &prev.IntervalDays, &prev.LastReviewedAt, &prev.NextReviewAt)
	if scanErr != nil && scanErr != sql.ErrNoRows {
		err = classifyConcurrencyError(scanErr, "failed to lock memory stat")
		return nil, err
	}

	next := ApplySM2(prev, QualityForAnswer(answer), at)
	if answer.TimeSpentMs > 0 {
		next.LastTimeSpentMs = sql.NullInt32{Int32: int32(answer.TimeSpentMs), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_stats (user_id, item_kind, object_id, easiness, repetitions, interval_days,
			last_reviewed_at, next_review_at, last_quality, last_time_spent_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, item_kind, object_id) DO UPDATE SET
			easiness = EXCLUDED.easiness,
			repetitions = EXCLUDED.repetitions,
			interval_days = EXCLUDED.interval_days,
			last_reviewed_at = EXCLUDED.last_reviewed_at,
			next_review_at = EXCLUDED.next_review_at,
			last_quality = EXCLUDED.last_quality,
			last_time_spent_ms = EXCLUDED.last_time_spent_ms,
			updated_at = EXCLUDED.updated_at`,
		next.UserID, next.ItemKind, next.ObjectID, next.Easiness, next.Repetitions, next.IntervalDays,
		next.LastReviewedAt, next.NextReviewAt, next.LastQuality, next.LastTimeSpentMs, next.UpdatedAt)
	if err != nil {
		err = classifyConcurrencyError(err, "failed to upsert memory stat")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = classifyConcurrencyError(err, "failed to commit memory stat")
		return nil, err
	}

	return next, nil
}

// classifyConcurrencyError maps serialization and deadlock failures onto the
// retryable ConcurrentUpdate code
func classifyConcurrencyError(err error, context string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeConcurrentUpdate,
				contextutils.SeverityWarn,
				"Memory stat was modified concurrently", "", err)
		}
	}
	if strings.Contains(err.Error(), "could not serialize") {
		return contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeConcurrentUpdate,
			contextutils.SeverityWarn,
			"Memory stat was modified concurrently", "", err)
	}
	return contextutils.WrapError(err, context)
}

// Due returns items whose next review is at or before now, soonest first
func (s *MemoryService) Due(ctx context.Context, userID, limit int) (result0 []*models.MemoryStat, err error) {
	ctx, span := observability.TraceMemoryFunction(ctx, "due",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	if limit <= 0 {
		limit = config.DefaultFeedLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_kind, object_id, easiness, repetitions, interval_days,
			last_reviewed_at, next_review_at, last_quality, last_time_spent_ms, updated_at
		FROM memory_stats
		WHERE user_id = $1 AND next_review_at IS NOT NULL AND next_review_at <= NOW()
		ORDER BY next_review_at ASC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query due items")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	return scanMemoryStats(rows)
}

// GetMemoryStat returns the stored state for a (user, item) pair
func (s *MemoryService) GetMemoryStat(ctx context.Context, userID int, ref models.ItemRef) (result0 *models.MemoryStat, err error) {
	ctx, span := observability.TraceMemoryFunction(ctx, "get_memory_stat",
		observability.AttributeUserID(userID),
		observability.AttributeItemKind(string(ref.Kind)),
		observability.AttributeItemID(ref.ID),
	)
	defer observability.FinishSpan(span, &err)

	var stat models.MemoryStat
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, item_kind, object_id, easiness, repetitions, interval_days,
			last_reviewed_at, next_review_at, last_quality, last_time_spent_ms, updated_at
		FROM memory_stats
		WHERE user_id = $1 AND item_kind = $2 AND object_id = $3`,
		userID, ref.Kind, ref.ID,
	).Scan(&stat.UserID, &stat.ItemKind, &stat.ObjectID, &stat.Easiness, &stat.Repetitions,
		&stat.IntervalDays, &stat.LastReviewedAt, &stat.NextReviewAt, &stat.LastQuality,
		&stat.LastTimeSpentMs, &stat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query memory stat")
	}
	return &stat, nil
}

func scanMemoryStats(rows *sql.Rows) ([]*models.MemoryStat, error) {
	var stats []*models.MemoryStat
	for rows.Next() {
		var stat models.MemoryStat
		if err := rows.Scan(&stat.UserID, &stat.ItemKind, &stat.ObjectID, &stat.Easiness,
			&stat.Repetitions, &stat.IntervalDays, &stat.LastReviewedAt, &stat.NextReviewAt,
			&stat.LastQuality, &stat.LastTimeSpentMs, &stat.UpdatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan memory stat row")
		}
		stats = append(stats, &stat)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate memory stat rows")
	}
	return stats, nil
}
