package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Attempt is one scored answer feeding the ELO update
type Attempt struct {
	Difficulty float64
	Correct    bool
	SubjectID  int
	At         time.Time
}

// AbilityBatchOptions controls an ability computation run
type AbilityBatchOptions struct {
	MinAttempts int
	WindowDays  int
	// UserID restricts the run to a single user; 0 means all users
	UserID int
}

// AbilityServiceInterface defines the interface for the ability estimator
type AbilityServiceInterface interface {
	// ComputeAll recomputes ability profiles and global ranking, returning
	// the number of profiles written
	ComputeAll(ctx context.Context, opts AbilityBatchOptions) (int, error)
	// GetProfile returns the stored ability profile for a user
	GetProfile(ctx context.Context, userID int) (*models.UserAbilityProfile, error)
}

// AbilityService derives per-user ELO ratings from answer events and item
// difficulty
type AbilityService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
}

// NewAbilityServiceWithLogger creates a new ability service
func NewAbilityServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *AbilityService {
	return &AbilityService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// ComputeEloRating walks attempts in order, updating the rating by
// K * (actual - expected) from the 400 base. The same attempt sequence
// always yields the same rating.
func ComputeEloRating(attempts []Attempt, kFactor float64) float64 {
	rating := config.EloBaseRating
	for _, attempt := range attempts {
		expected := 1 / (1 + math.Pow(10, (attempt.Difficulty-rating)/400))
		actual := 0.0
		if attempt.Correct {
			actual = 1.0
		}
		rating += kFactor * (actual - expected)
	}
	return rating
}

// ComputeTrend returns the accuracy of the last 30% of attempts minus the
// overall accuracy, in percentage points
func ComputeTrend(attempts []Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	correct := 0
	for _, a := range attempts {
		if a.Correct {
			correct++
		}
	}
	overall := float64(correct) / float64(len(attempts))

	tail := int(math.Ceil(float64(len(attempts)) * 0.3))
	recent := attempts[len(attempts)-tail:]
	recentCorrect := 0
	for _, a := range recent {
		if a.Correct {
			recentCorrect++
		}
	}
	recentAccuracy := float64(recentCorrect) / float64(len(recent))

	return (recentAccuracy - overall) * 100
}

// BuildAbilityProfile computes the overall and per-subject ratings for one
// user's chronological attempts
func BuildAbilityProfile(userID int, attempts []Attempt, kFactor float64, subjectMinAttempts int) *models.UserAbilityProfile {
	profile := &models.UserAbilityProfile{
		UserID:        userID,
		Overall:       clampRating(ComputeEloRating(attempts, kFactor)),
		PerSubject:    map[int]float64{},
		TotalAttempts: len(attempts),
		RecentTrend:   ComputeTrend(attempts),
		LastComputed:  time.Now(),
	}

	bySubject := map[int][]Attempt{}
	for _, attempt := range attempts {
		if attempt.Correct {
			profile.TotalCorrect++
		}
		if attempt.SubjectID > 0 {
			bySubject[attempt.SubjectID] = append(bySubject[attempt.SubjectID], attempt)
		}
	}
	for subjectID, subjectAttempts := range bySubject {
		if len(subjectAttempts) >= subjectMinAttempts {
			profile.PerSubject[subjectID] = clampRating(ComputeEloRating(subjectAttempts, kFactor))
		}
	}
	return profile
}

func clampRating(rating float64) float64 {
	return math.Max(0, math.Min(1000, rating))
}

// ComputeAll recomputes ability profiles for qualifying users, then
// reassigns global rank and percentile across all stored profiles
func (s *AbilityService) ComputeAll(ctx context.Context, opts AbilityBatchOptions) (result0 int, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "compute_user_abilities",
		attribute.Int("window_days", opts.WindowDays),
		attribute.Int("min_attempts", opts.MinAttempts),
		observability.AttributeUserID(opts.UserID),
	)
	defer observability.FinishSpan(span, &err)

	if opts.WindowDays <= 0 {
		opts.WindowDays = s.config.Engine.AbilityWindowDays
	}
	if opts.MinAttempts <= 0 {
		opts.MinAttempts = s.config.Engine.AbilityMinAttempts
	}
	kFactor := s.config.Engine.EloKFactor
	if kFactor <= 0 {
		kFactor = config.DefaultEloKFactor
	}

	attemptsByUser, err := s.loadAttempts(ctx, opts)
	if err != nil {
		return 0, err
	}

	written := 0
	for userID, attempts := range attemptsByUser {
		if len(attempts) < opts.MinAttempts {
			continue
		}
		profile := BuildAbilityProfile(userID, attempts, kFactor, s.config.Engine.AbilitySubjectMinAttempts)
		if err := s.storeProfile(ctx, profile); err != nil {
			s.logger.Error(ctx, "Failed to store ability profile, continuing batch", err, map[string]interface{}{
				"user_id": userID,
			})
			continue
		}
		written++
	}

	if err := s.assignRanks(ctx); err != nil {
		return written, err
	}

	s.logger.Info(ctx, "Ability batch finished", map[string]interface{}{
		"profiles_written": written,
	})
	span.SetAttributes(attribute.Int("profiles.written", written))
	return written, nil
}

// loadAttempts returns each user's answer attempts in chronological order,
// joined with question difficulty (400 prior when no profile exists yet)
func (s *AbilityService) loadAttempts(ctx context.Context, opts AbilityBatchOptions) (result0 map[int][]Attempt, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "load_attempts")
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT e.user_id,
			COALESCE(p.score, $1) AS difficulty,
			(e.metadata->>'is_correct')::boolean AS is_correct,
			COALESCE(i.subject_id, 0) AS subject_id,
			e.occurred_at
		FROM activity_events e
		LEFT JOIN content_difficulty_profiles p
			ON p.item_kind = 'question' AND p.object_id = (e.metadata->>'question_id')::int
		LEFT JOIN items i
			ON i.kind = 'question' AND i.id = (e.metadata->>'question_id')::int
		WHERE e.kind = $2
			AND e.user_id IS NOT NULL
			AND e.occurred_at >= NOW() - make_interval(days => $3)
			AND jsonb_typeof(e.metadata) = 'object'
			AND e.metadata ? 'is_correct'
			AND (e.metadata->>'question_id') ~ '^[0-9]+$'`
	args := []interface{}{config.EloBaseRating, models.EventQuizAnswerSubmitted, opts.WindowDays}
	if opts.UserID > 0 {
		query += ` AND e.user_id = $4`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY e.occurred_at ASC, e.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query attempts")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	attemptsByUser := map[int][]Attempt{}
	for rows.Next() {
		var userID int
		var attempt Attempt
		if err := rows.Scan(&userID, &attempt.Difficulty, &attempt.Correct, &attempt.SubjectID, &attempt.At); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan attempt row")
		}
		attemptsByUser[userID] = append(attemptsByUser[userID], attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate attempt rows")
	}
	return attemptsByUser, nil
}

func (s *AbilityService) storeProfile(ctx context.Context, profile *models.UserAbilityProfile) error {
	perSubject, err := json.Marshal(profile.PerSubject)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode per-subject ratings")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_ability_profiles (user_id, overall, per_subject, total_attempts, total_correct, recent_trend, last_computed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			overall = EXCLUDED.overall,
			per_subject = EXCLUDED.per_subject,
			total_attempts = EXCLUDED.total_attempts,
			total_correct = EXCLUDED.total_correct,
			recent_trend = EXCLUDED.recent_trend,
			last_computed = EXCLUDED.last_computed`,
		profile.UserID, profile.Overall, perSubject, profile.TotalAttempts,
		profile.TotalCorrect, profile.RecentTrend, profile.LastComputed)
	if err != nil {
		return contextutils.WrapError(err, "failed to upsert ability profile")
	}
	return nil
}

// assignRanks rewrites global_rank and percentile for every profile in one
// statement so readers never see a half-ranked table
func (s *AbilityService) assignRanks(ctx context.Context) (err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "assign_ranks")
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		WITH ranked AS (
			SELECT user_id,
				RANK() OVER (ORDER BY overall DESC) AS global_rank,
				COUNT(*) OVER () AS total
			FROM user_ability_profiles
		)
		UPDATE user_ability_profiles u
		SET global_rank = r.global_rank,
			percentile = (r.total - r.global_rank)::float / r.total * 100
		FROM ranked r
		WHERE u.user_id = r.user_id`)
	if err != nil {
		return contextutils.WrapError(err, "failed to assign ranks")
	}
	return nil
}

// GetProfile returns the stored ability profile for a user
func (s *AbilityService) GetProfile(ctx context.Context, userID int) (result0 *models.UserAbilityProfile, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "get_ability_profile",
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	var profile models.UserAbilityProfile
	var perSubject []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, overall, per_subject, total_attempts, total_correct, recent_trend,
			COALESCE(global_rank, 0), COALESCE(percentile, 0), last_computed
		FROM user_ability_profiles
		WHERE user_id = $1`, userID,
	).Scan(&profile.UserID, &profile.Overall, &perSubject, &profile.TotalAttempts,
		&profile.TotalCorrect, &profile.RecentTrend, &profile.GlobalRank,
		&profile.Percentile, &profile.LastComputed)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query ability profile")
	}
	if len(perSubject) > 0 {
		if err := json.Unmarshal(perSubject, &profile.PerSubject); err != nil {
			return nil, contextutils.WrapError(err, "failed to decode per-subject ratings")
		}
	}
	if profile.PerSubject == nil {
		profile.PerSubject = map[int]float64{}
	}
	return &profile, nil
}
