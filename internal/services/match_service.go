package services

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// MatchBatchOptions controls a match score computation run
type MatchBatchOptions struct {
	TopN int
	// UserID restricts the run to a single user; 0 means all profiled users
	UserID int
}

// MatchServiceInterface defines the interface for the match scorer
type MatchServiceInterface interface {
	// ComputeAll recomputes match scores for every user with an ability
	// profile, returning the number of users processed
	ComputeAll(ctx context.Context, opts MatchBatchOptions) (int, error)
	// ComputeForUser recomputes one user's match scores
	ComputeForUser(ctx context.Context, userID, topN int) (int, error)
	// TopMatches returns a user's stored match scores, best first
	TopMatches(ctx context.Context, userID, limit int) ([]*models.MatchScore, error)
}

// MatchService scores candidate items against user ability and preferences
type MatchService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
}

// NewMatchServiceWithLogger creates a new match service
func NewMatchServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *MatchService {
	return &MatchService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// ZPDScore is 1.0 for difficulty gaps inside [-50, +50] and decays linearly
// outward to a 0.1 floor at |gap| >= 250
func ZPDScore(gap float64) float64 {
	abs := math.Abs(gap)
	if abs <= 50 {
		return 1.0
	}
	if abs >= 250 {
		return 0.1
	}
	return 1.0 - (abs-50)/200*0.9
}

// PreferenceAlignment combines subject, tag, and language overlap into [0,1]:
// 0.4 for a subject match, 0.3 scaled by tag overlap, 0.3 for any shared
// language
func PreferenceAlignment(item *models.Item, pref *models.UserPreference) float64 {
	if pref == nil {
		return 0
	}

	alignment := 0.0
	for _, subjectID := range pref.SubjectIDs {
		if int(subjectID) == item.SubjectID {
			alignment += 0.4
			break
		}
	}

	if len(pref.Tags) > 0 {
		overlap := 0
		userTags := map[string]bool{}
		for _, tag := range pref.Tags {
			userTags[tag] = true
		}
		for _, tag := range item.Tags {
			if userTags[tag] {
				overlap++
			}
		}
		alignment += 0.3 * float64(overlap) / float64(len(pref.Tags))
	}

	userLangs := map[string]bool{}
	for _, lang := range pref.Languages {
		userLangs[lang] = true
	}
	for _, lang := range item.Languages {
		if userLangs[lang] {
			alignment += 0.3
			break
		}
	}

	return math.Min(1, alignment)
}

// RecencyPenalty is 1 - days_since/window for items attempted inside the
// recency window, 0 otherwise
func RecencyPenalty(daysSince float64, windowDays int) float64 {
	if daysSince < 0 || daysSince >= float64(windowDays) {
		return 0
	}
	return 1 - daysSince/float64(windowDays)
}

// MatchValue combines the component scores into the [0,100] match score
func MatchValue(zpd, preference, recency float64) float64 {
	return (0.5*zpd + 0.3*preference + 0.2*(1-recency)) * 100
}

// WhyTags explains a match score to the user
func WhyTags(gap, preference float64) pq.StringArray {
	var tags pq.StringArray
	if math.Abs(gap) <= 50 {
		tags = append(tags, models.WhyOptimalDifficulty)
	}
	if preference >= 0.4 {
		tags = append(tags, models.WhyMatchesInterests)
	}
	if gap > 50 {
		tags = append(tags, models.WhyChallenge)
	}
	if gap < -50 {
		tags = append(tags, models.WhyConfidenceBuilder)
	}
	return tags
}

// ComputeAll recomputes match scores for every user with an ability profile.
// A single user's failure is logged and skipped.
func (s *MatchService) ComputeAll(ctx context.Context, opts MatchBatchOptions) (result0 int, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "compute_match_scores",
		attribute.Int("top_n", opts.TopN),
		observability.AttributeUserID(opts.UserID),
	)
	defer observability.FinishSpan(span, &err)

	if opts.TopN <= 0 {
		opts.TopN = s.config.Engine.MatchTopN
	}

	var userIDs []int
	if opts.UserID > 0 {
		userIDs = []int{opts.UserID}
	} else {
		userIDs, err = s.profiledUserIDs(ctx)
		if err != nil {
			return 0, err
		}
	}

	processed := 0
	for _, userID := range userIDs {
		if _, userErr := s.ComputeForUser(ctx, userID, opts.TopN); userErr != nil {
			s.logger.Error(ctx, "Match scoring failed for user, continuing batch", userErr, map[string]interface{}{
				"user_id": userID,
			})
			continue
		}
		processed++
	}

	s.logger.Info(ctx, "Match score batch finished", map[string]interface{}{
		"users_processed": processed,
	})
	span.SetAttributes(attribute.Int("users.processed", processed))
	return processed, nil
}

func (s *MatchService) profiledUserIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_ability_profiles ORDER BY user_id`)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list profiled users")
	}
	defer func() { _ = rows.Close() }()

	var userIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan user id")
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate user ids")
	}
	return userIDs, nil
}

// ComputeForUser scores candidate items for one user and atomically replaces
// the user's stored match scores with the new top-N
func (s *MatchService) ComputeForUser(ctx context.Context, userID, topN int) (result0 int, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "compute_match_scores_for_user",
		observability.AttributeUserID(userID),
		attribute.Int("top_n", topN),
	)
	defer observability.FinishSpan(span, &err)

	ability, err := s.loadAbility(ctx, userID)
	if err != nil {
		return 0, err
	}
	pref, err := s.loadPreference(ctx, userID)
	if err != nil {
		return 0, err
	}
	recentlyAttempted, err := s.loadRecentAttempts(ctx, userID)
	if err != nil {
		return 0, err
	}
	candidates, err := s.loadCandidates(ctx, pref)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var scores []*models.MatchScore
	for _, item := range candidates {
		if attemptedAt, ok := recentlyAttempted[item.Ref()]; ok {
			daysSince := now.Sub(attemptedAt).Hours() / 24
			if daysSince < float64(s.recencyWindowDays()) {
				continue
			}
		}

		difficulty := config.EloBaseRating
		if item.DifficultyScore.Valid {
			difficulty = item.DifficultyScore.Float64
		}
		gap := difficulty - ability.Overall
		zpd := ZPDScore(gap)
		preference := PreferenceAlignment(item, pref)

		scores = append(scores, &models.MatchScore{
			UserID:              userID,
			ItemKind:            item.Kind,
			ObjectID:            item.ID,
			Match:               MatchValue(zpd, preference, 0),
			DifficultyGap:       gap,
			ZPDScore:            zpd,
			PreferenceAlignment: preference,
			RecencyPenalty:      0,
			WhyTags:             WhyTags(gap, preference),
			ComputedAt:          now,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Match > scores[j].Match })
	if len(scores) > topN {
		scores = scores[:topN]
	}

	if err := s.replaceScores(ctx, userID, scores); err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("scores.stored", len(scores)))
	return len(scores), nil
}

func (s *MatchService) recencyWindowDays() int {
	if s.config.Engine.RecencyWindowDays > 0 {
		return s.config.Engine.RecencyWindowDays
	}
	return config.DefaultRecencyWindowDays
}

func (s *MatchService) loadAbility(ctx context.Context, userID int) (*models.UserAbilityProfile, error) {
	var profile models.UserAbilityProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, overall FROM user_ability_profiles WHERE user_id = $1`, userID,
	).Scan(&profile.UserID, &profile.Overall)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query ability profile")
	}
	return &profile, nil
}

func (s *MatchService) loadPreference(ctx context.Context, userID int) (*models.UserPreference, error) {
	var pref models.UserPreference
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, subject_ids, tags, languages, region, timezone, opt_in_podcasts, opt_in_mail
		FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&pref.UserID, &pref.SubjectIDs, &pref.Tags, &pref.Languages, &pref.Region,
		&pref.Timezone, &pref.OptInPodcasts, &pref.OptInMail)
	if err == sql.ErrNoRows {
		return nil, nil // no preferences yet, alignment is simply zero
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query user preference")
	}
	return &pref, nil
}

// loadRecentAttempts maps item refs to the user's last review time inside
// the recency window
func (s *MatchService) loadRecentAttempts(ctx context.Context, userID int) (map[models.ItemRef]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_kind, object_id, last_reviewed_at
		FROM memory_stats
		WHERE user_id = $1 AND last_reviewed_at >= NOW() - make_interval(days => $2)`,
		userID, s.recencyWindowDays())
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query recent attempts")
	}
	defer func() { _ = rows.Close() }()

	attempts := map[models.ItemRef]time.Time{}
	for rows.Next() {
		var ref models.ItemRef
		var at sql.NullTime
		if err := rows.Scan(&ref.Kind, &ref.ID, &at); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan recent attempt row")
		}
		if at.Valid {
			attempts[ref] = at.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate recent attempt rows")
	}
	return attempts, nil
}

// loadCandidates returns up to the candidate limit of published items,
// preferring the user's interested subjects
func (s *MatchService) loadCandidates(ctx context.Context, pref *models.UserPreference) ([]*models.Item, error) {
	limit := s.config.Engine.MatchCandidateLimit
	if limit <= 0 {
		limit = config.DefaultMatchCandidateLimit
	}

	var subjectIDs pq.Int64Array
	if pref != nil {
		subjectIDs = pref.SubjectIDs
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, permalink, subject_id, tags, languages, visibility, gating,
			detected_location, difficulty_score, created_at
		FROM items
		WHERE visibility = 'published' AND kind <> 'question'
		ORDER BY (subject_id = ANY($1)) DESC, created_at DESC
		LIMIT $2`, subjectIDs, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query candidate items")
	}
	defer func() { _ = rows.Close() }()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ID, &item.Kind, &item.Title, &item.Permalink, &item.SubjectID,
			&item.Tags, &item.Languages, &item.Visibility, &item.Gating, &item.DetectedLocation,
			&item.DifficultyScore, &item.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan candidate item")
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate candidate items")
	}
	return items, nil
}

// replaceScores swaps the user's match scores inside one transaction so
// readers see either the old set or the new set, never a mix
func (s *MatchService) replaceScores(ctx context.Context, userID int, scores []*models.MatchScore) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contextutils.WrapError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn(ctx, "Rollback failed", map[string]interface{}{"error": rbErr.Error()})
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM match_scores WHERE user_id = $1`, userID); err != nil {
		return contextutils.WrapError(err, "failed to delete prior match scores")
	}

	for _, score := range scores {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_scores (user_id, item_kind, object_id, match, difficulty_gap,
				zpd_score, preference_alignment, recency_penalty, why_tags, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			score.UserID, score.ItemKind, score.ObjectID, score.Match, score.DifficultyGap,
			score.ZPDScore, score.PreferenceAlignment, score.RecencyPenalty, score.WhyTags, score.ComputedAt)
		if err != nil {
			return contextutils.WrapError(err, "failed to insert match score")
		}
	}

	if err = tx.Commit(); err != nil {
		return contextutils.WrapError(err, "failed to commit match scores")
	}
	return nil
}

// TopMatches returns a user's stored match scores, best first
func (s *MatchService) TopMatches(ctx context.Context, userID, limit int) (result0 []*models.MatchScore, err error) {
	ctx, span := observability.TraceEngineFunction(ctx, "top_matches",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_kind, object_id, match, difficulty_gap, zpd_score,
			preference_alignment, recency_penalty, why_tags, computed_at
		FROM match_scores
		WHERE user_id = $1
		ORDER BY match DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query match scores")
	}
	defer func() { _ = rows.Close() }()

	var scores []*models.MatchScore
	for rows.Next() {
		var score models.MatchScore
		if err := rows.Scan(&score.UserID, &score.ItemKind, &score.ObjectID, &score.Match,
			&score.DifficultyGap, &score.ZPDScore, &score.PreferenceAlignment,
			&score.RecencyPenalty, &score.WhyTags, &score.ComputedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan match score row")
		}
		scores = append(scores, &score)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate match score rows")
	}
	return scores, nil
}
