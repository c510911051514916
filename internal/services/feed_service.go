package services

import (
	"context"
	"database/sql"
	"math/rand"
	"sort"
	"strings"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ReviewItem pairs a due item with its spaced-repetition state
type ReviewItem struct {
	Item         *models.Item `json:"item"`
	NextReviewAt time.Time    `json:"next_review_at"`
	IntervalDays float64      `json:"interval_days"`
	Repetitions  int          `json:"repetitions"`
}

// NextItem is one entry of the next-item selector response
type NextItem struct {
	ItemID                 int    `json:"item_id"`
	Title                  string `json:"title"`
	Permalink              string `json:"permalink"`
	FirstQuestionPermalink string `json:"first_question_permalink"`
	FirstQuestionURL       string `json:"first_question_url"`
}

// NextFeedResponse is the next-item selector payload
type NextFeedResponse struct {
	Items                  []NextItem `json:"items"`
	FirstQuestionPermalink string     `json:"first_question_permalink,omitempty"`
	FirstQuestionURL       string     `json:"first_question_url,omitempty"`
	Count                  int        `json:"count"`
	Detail                 string     `json:"detail,omitempty"`
}

// DashboardResponse is the unified dashboard payload
type DashboardResponse struct {
	Enrolled         []*models.Item `json:"enrolled"`
	SuggestedCourses []*models.Item `json:"suggested_courses"`
	SuggestedQuizzes []*models.Item `json:"suggested_quizzes"`
	NextLessons      []*models.Item `json:"next_lessons"`
	SuggestedLessons []*models.Item `json:"suggested_lessons"`
}

// FeedServiceInterface defines the interface for feed composition
type FeedServiceInterface interface {
	// Explore returns the newest published items without personalization
	Explore(ctx context.Context, limit int) ([]*models.Item, error)
	// Personalized returns items ranked by match score, falling back to the
	// user's preferred subjects when no scores exist
	Personalized(ctx context.Context, userID, limit int) ([]*models.Item, error)
	// Review returns due items from the spaced-repetition queue
	Review(ctx context.Context, userID, limit int) ([]*ReviewItem, error)
	// Next picks the next quiz items by lightweight runtime signals
	Next(ctx context.Context, userID int, currentRef *models.ItemRef, limit int, excludeIDs []int) (*NextFeedResponse, error)
	// UnifiedDashboard assembles the dashboard sections within a soft budget
	UnifiedDashboard(ctx context.Context, userID int) (*DashboardResponse, error)
}

// FeedService composes feeds from precomputed tables and light filters. It
// never calls providers; everything it reads is local.
type FeedService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
	memory MemoryServiceInterface
	match  MatchServiceInterface
}

// NewFeedServiceWithLogger creates a new feed service
func NewFeedServiceWithLogger(db *sql.DB, cfg *config.Config, memory MemoryServiceInterface, match MatchServiceInterface, logger *observability.Logger) *FeedService {
	return &FeedService{
		db:     db,
		config: cfg,
		logger: logger,
		memory: memory,
		match:  match,
	}
}

func (s *FeedService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.Feed.DefaultLimit
	}
	if limit <= 0 {
		limit = config.DefaultFeedLimit
	}
	maxLimit := s.config.Feed.MaxLimit
	if maxLimit <= 0 {
		maxLimit = config.MaxFeedLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

const itemColumns = `id, kind, title, permalink, subject_id, tags, languages, visibility, gating,
	detected_location, first_question_id, first_question_permalink,
	difficulty_score, success_rate, avg_time_seconds, attempt_count, created_at`

func scanItem(scanner interface{ Scan(...interface{}) error }) (*models.Item, error) {
	var item models.Item
	err := scanner.Scan(&item.ID, &item.Kind, &item.Title, &item.Permalink, &item.SubjectID,
		&item.Tags, &item.Languages, &item.Visibility, &item.Gating, &item.DetectedLocation,
		&item.FirstQuestionID, &item.FirstQuestionPermalink, &item.DifficultyScore,
		&item.SuccessRate, &item.AvgTimeSeconds, &item.AttemptCount, &item.CreatedAt)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to scan item row")
	}
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*models.Item, error) {
	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate item rows")
	}
	return items, nil
}

// Explore returns the newest published items without personalization
func (s *FeedService) Explore(ctx context.Context, limit int) (result0 []*models.Item, err error) {
	ctx, span := observability.TraceFeedFunction(ctx, "explore",
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	limit = s.clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE visibility = 'published' AND kind <> 'question'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query explore feed")
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}

// Personalized returns items by stored match score, best first. With no
// stored scores it falls back to the freshest items in the user's preferred
// subjects.
func (s *FeedService) Personalized(ctx context.Context, userID, limit int) (result0 []*models.Item, err error) {
	ctx, span := observability.TraceFeedFunction(ctx, "personalized",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	limit = s.clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifyItemColumns("i")+`
		FROM match_scores m
		JOIN items i ON i.kind = m.item_kind AND i.id = m.object_id
		WHERE m.user_id = $1 AND i.visibility = 'published'
		ORDER BY m.match DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query personalized feed")
	}
	defer func() { _ = rows.Close() }()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}

	span.SetAttributes(attribute.Bool("fallback.preferred_subjects", true))
	fallbackRows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifyItemColumns("i")+`
		FROM items i
		LEFT JOIN user_preferences p ON p.user_id = $1
		WHERE i.visibility = 'published' AND i.kind <> 'question'
			AND (p.subject_ids IS NULL OR i.subject_id = ANY(p.subject_ids))
		ORDER BY i.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query personalized fallback")
	}
	defer func() { _ = fallbackRows.Close() }()
	return collectItems(fallbackRows)
}

func qualifyItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

// Review returns due items from the spaced-repetition queue, soonest first
func (s *FeedService) Review(ctx context.Context, userID, limit int) (result0 []*ReviewItem, err error) {
	ctx, span := observability.TraceFeedFunction(ctx, "review",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	limit = s.clampLimit(limit)
	due, err := s.memory.Due(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	var review []*ReviewItem
	for _, stat := range due {
		item, itemErr := s.getItem(ctx, models.ItemRef{Kind: stat.ItemKind, ID: stat.ObjectID})
		if itemErr != nil {
			s.logger.Warn(ctx, "Due item no longer exists, skipping", map[string]interface{}{
				"item_kind": stat.ItemKind,
				"object_id": stat.ObjectID,
			})
			continue
		}
		review = append(review, &ReviewItem{
			Item:         item,
			NextReviewAt: stat.NextReviewAt.Time,
			IntervalDays: stat.IntervalDays,
			Repetitions:  stat.Repetitions,
		})
	}
	return review, nil
}

func (s *FeedService) getItem(ctx context.Context, ref models.ItemRef) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items WHERE kind = $1 AND id = $2`, ref.Kind, ref.ID)
	item, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// nextCandidate carries the light runtime score of a pool entry
type nextCandidate struct {
	item  *models.Item
	score int
}

// ScoreNextCandidate computes the light runtime signal for the next-item
// selector: region, subject, tag, and language affinity. Independent of the
// batch match scorer.
func ScoreNextCandidate(item *models.Item, pref *models.UserPreference) int {
	if pref == nil {
		return 0
	}

	score := 0
	if pref.Region.Valid && item.DetectedLocation.Valid &&
		strings.Contains(item.DetectedLocation.String, pref.Region.String) {
		score += 2
	}
	for _, subjectID := range pref.SubjectIDs {
		if int(subjectID) == item.SubjectID {
			score += 3
			break
		}
	}

	userTags := map[string]bool{}
	for _, tag := range pref.Tags {
		userTags[tag] = true
	}
	for _, tag := range item.Tags {
		if userTags[tag] {
			score++
		}
	}

	userLangs := map[string]bool{}
	for _, lang := range pref.Languages {
		userLangs[lang] = true
	}
	for _, lang := range item.Languages {
		if userLangs[lang] {
			score++
		}
	}
	return score
}

// Next picks the next quiz items from a candidate pool scored by lightweight
// runtime signals, with a millisecond-seeded random tiebreak so repeated
// calls vary. Returns 200-with-detail rather than erroring on an empty pool.
func (s *FeedService) Next(ctx context.Context, userID int, currentRef *models.ItemRef, limit int, excludeIDs []int) (result0 *NextFeedResponse, err error) {
	ctx, span := observability.TraceFeedFunction(ctx, "next",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	limit = s.clampLimit(limit)

	poolSize := 20 * limit
	if poolSize < 200 {
		poolSize = 200
	}
	poolCap := s.config.Feed.NextPoolCap
	if poolCap <= 0 {
		poolCap = config.NextSelectorPoolCap
	}
	if poolSize > poolCap {
		poolSize = poolCap
	}

	excluded := map[int]bool{}
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	if currentRef != nil {
		excluded[currentRef.ID] = true
	}

	pref, err := s.loadPreference(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE visibility = 'published' AND kind = 'quiz' AND first_question_id IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1`, poolSize)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query next pool")
	}
	defer func() { _ = rows.Close() }()

	pool, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	var candidates []nextCandidate
	for _, item := range pool {
		if excluded[item.ID] {
			continue
		}
		candidates = append(candidates, nextCandidate{item: item, score: ScoreNextCandidate(item, pref)})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixMilli()))
	tiebreak := make(map[int]int, len(candidates))
	for _, c := range candidates {
		tiebreak[c.item.ID] = rng.Int()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return tiebreak[candidates[i].item.ID] > tiebreak[candidates[j].item.ID]
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) < limit {
		s.logger.Warn(ctx, "Next selector returned fewer items than requested", map[string]interface{}{
			"user_id":   userID,
			"requested": limit,
			"returned":  len(candidates),
			"pool_size": len(pool),
		})
	}

	response := &NextFeedResponse{Items: []NextItem{}}
	for _, c := range candidates {
		response.Items = append(response.Items, s.toNextItem(c.item))
	}
	response.Count = len(response.Items)
	if response.Count == 0 {
		response.Detail = "no eligible quizzes found"
	} else {
		response.FirstQuestionPermalink = response.Items[0].FirstQuestionPermalink
		response.FirstQuestionURL = response.Items[0].FirstQuestionURL
	}
	span.SetAttributes(attribute.Int("items.returned", response.Count))
	return response, nil
}

func (s *FeedService) toNextItem(item *models.Item) NextItem {
	next := NextItem{
		ItemID:    item.ID,
		Title:     item.Title,
		Permalink: item.Permalink,
	}
	if item.FirstQuestionPermalink.Valid {
		next.FirstQuestionPermalink = item.FirstQuestionPermalink.String
		next.FirstQuestionURL = strings.TrimSuffix(s.config.Server.AppBaseURL, "/") + next.FirstQuestionPermalink
	}
	return next
}

func (s *FeedService) loadPreference(ctx context.Context, userID int) (*models.UserPreference, error) {
	var pref models.UserPreference
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, subject_ids, tags, languages, region, timezone, opt_in_podcasts, opt_in_mail
		FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&pref.UserID, &pref.SubjectIDs, &pref.Tags, &pref.Languages, &pref.Region,
		&pref.Timezone, &pref.OptInPodcasts, &pref.OptInMail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query user preference")
	}
	return &pref, nil
}

// UnifiedDashboard assembles all dashboard sections. It runs under a soft
// time budget; sections that miss the budget are returned empty with a
// warning instead of failing the request.
func (s *FeedService) UnifiedDashboard(ctx context.Context, userID int) (result0 *DashboardResponse, err error) {
	ctx, span := observability.TraceFeedFunction(ctx, "unified_dashboard",
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	budget := config.FeedSoftBudget
	if s.config.Feed.SoftBudgetMs > 0 {
		budget = time.Duration(s.config.Feed.SoftBudgetMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	response := &DashboardResponse{
		Enrolled:         []*models.Item{},
		SuggestedCourses: []*models.Item{},
		SuggestedQuizzes: []*models.Item{},
		NextLessons:      []*models.Item{},
		SuggestedLessons: []*models.Item{},
	}

	sections := []struct {
		name string
		dest *[]*models.Item
		load func(context.Context) ([]*models.Item, error)
	}{
		{"enrolled", &response.Enrolled, func(c context.Context) ([]*models.Item, error) {
			return s.enrolledCourses(c, userID)
		}},
		{"suggested_courses", &response.SuggestedCourses, func(c context.Context) ([]*models.Item, error) {
			return s.suggestedByKind(c, userID, models.KindCourse)
		}},
		{"suggested_quizzes", &response.SuggestedQuizzes, func(c context.Context) ([]*models.Item, error) {
			return s.suggestedByKind(c, userID, models.KindQuiz)
		}},
		{"next_lessons", &response.NextLessons, func(c context.Context) ([]*models.Item, error) {
			return s.nextLessons(c, userID)
		}},
		{"suggested_lessons", &response.SuggestedLessons, func(c context.Context) ([]*models.Item, error) {
			return s.suggestedByKind(c, userID, models.KindLesson)
		}},
	}

	for _, section := range sections {
		items, sectionErr := section.load(ctx)
		if sectionErr != nil {
			if ctx.Err() != nil {
				s.logger.Warn(ctx, "Dashboard soft budget exceeded, returning partial result", map[string]interface{}{
					"user_id": userID,
					"section": section.name,
				})
				span.SetAttributes(attribute.Bool("budget.exceeded", true))
				return response, nil
			}
			return nil, sectionErr
		}
		if items != nil {
			*section.dest = items
		}
	}
	return response, nil
}

func (s *FeedService) enrolledCourses(ctx context.Context, userID int) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifyItemColumns("i")+`
		FROM enrollments e
		JOIN items i ON i.kind = 'course' AND i.id = e.course_id
		WHERE e.user_id = $1
		ORDER BY e.enrolled_at DESC`, userID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query enrollments")
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}

func (s *FeedService) suggestedByKind(ctx context.Context, userID int, kind models.ItemKind) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifyItemColumns("i")+`
		FROM match_scores m
		JOIN items i ON i.kind = m.item_kind AND i.id = m.object_id
		WHERE m.user_id = $1 AND m.item_kind = $2 AND i.visibility = 'published'
		ORDER BY m.match DESC
		LIMIT 5`, userID, kind)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query suggestions")
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}

// nextLessons surfaces lessons from enrolled courses the user has not
// completed yet
func (s *FeedService) nextLessons(ctx context.Context, userID int) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifyItemColumns("i")+`
		FROM items i
		JOIN enrollments e ON e.user_id = $1
		WHERE i.kind = 'lesson' AND i.visibility = 'published'
			AND i.subject_id = (SELECT subject_id FROM items WHERE kind = 'course' AND id = e.course_id)
			AND NOT EXISTS (
				SELECT 1 FROM activity_events ev
				WHERE ev.user_id = $1 AND ev.kind = $2
					AND ev.item_kind = 'lesson' AND ev.object_id = i.id
			)
		ORDER BY i.created_at ASC
		LIMIT 5`, userID, models.EventLessonCompleted)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query next lessons")
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}
