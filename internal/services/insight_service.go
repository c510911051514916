package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// InsightServiceInterface defines the interface for the LLM insight cache
type InsightServiceInterface interface {
	// GetInsight returns the cached analysis for (user, subject, engine),
	// generating and caching it on miss. The bool reports a cache hit.
	GetInsight(ctx context.Context, userID int, subjectTag, engine string) (*models.CachedAIInsight, bool, error)
	// ClearStale deletes expired rows, optionally filtered by user and
	// subject; all=true drops every row regardless of freshness
	ClearStale(ctx context.Context, userID int, subjectTag string, all bool) (int, error)
}

// InsightService is a keyed cache of LLM-generated learner analyses with TTL,
// hit counters, and cost bookkeeping
type InsightService struct {
	db      *sql.DB
	config  *config.Config
	logger  *observability.Logger
	gateway ProviderGatewayInterface
	ability AbilityServiceInterface
	stats   CacheStatsServiceInterface
}

// NewInsightServiceWithLogger creates a new insight service
func NewInsightServiceWithLogger(db *sql.DB, cfg *config.Config, gateway ProviderGatewayInterface, ability AbilityServiceInterface, stats CacheStatsServiceInterface, logger *observability.Logger) *InsightService {
	return &InsightService{
		db:      db,
		config:  cfg,
		logger:  logger,
		gateway: gateway,
		ability: ability,
		stats:   stats,
	}
}

func (s *InsightService) ttl() time.Duration {
	hours := s.config.Insights.TTLHours
	if hours <= 0 {
		hours = config.DefaultInsightTTLHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *InsightService) tokenEstimate() int {
	if s.config.Insights.TokenEstimate > 0 {
		return s.config.Insights.TokenEstimate
	}
	return config.DefaultInsightTokenEstimate
}

// insightTier is the provider tier used for cached analyses; they are
// regenerated at most once per TTL so the cheap tier is enough
const insightTier = "cheap"

// estimatedCostCents prices a hypothetical generation of n tokens at the
// tier's default provider rate
func (s *InsightService) estimatedCostCents(tokens int) float64 {
	providers := s.config.ProvidersForTier(insightTier)
	if len(providers) == 0 {
		return 0
	}
	return CostCents(tokens, providers[0])
}

// GetInsight returns the cached analysis for (user, subject, engine). A fresh
// row is a hit: its counters advance atomically and the payload is returned
// unchanged. Otherwise the gateway generates a new analysis which is upserted
// with a fresh TTL.
func (s *InsightService) GetInsight(ctx context.Context, userID int, subjectTag, engine string) (result0 *models.CachedAIInsight, result1 bool, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "get_insight",
		observability.AttributeUserID(userID),
		observability.AttributeEngine(engine),
		attribute.String("subject_tag", subjectTag),
	)
	defer observability.FinishSpan(span, &err)

	cached, err := s.lookup(ctx, userID, subjectTag, engine)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	if cached != nil && cached.Fresh(now) {
		if err := s.touchHit(ctx, cached.ID); err != nil {
			return nil, false, err
		}
		saved := s.tokenEstimate()
		if err := s.stats.RecordHit(ctx, saved, s.estimatedCostCents(cached.TokensUsed)); err != nil {
			s.logger.Warn(ctx, "Failed to record cache hit", map[string]interface{}{"error": err.Error()})
		}
		cached.Hits++
		cached.TokensSaved += saved
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, true, nil
	}

	if err := s.stats.RecordMiss(ctx); err != nil {
		s.logger.Warn(ctx, "Failed to record cache miss", map[string]interface{}{"error": err.Error()})
	}

	generated, err := s.generate(ctx, userID, subjectTag, engine)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	return generated, false, nil
}

func (s *InsightService) lookup(ctx context.Context, userID int, subjectTag, engine string) (*models.CachedAIInsight, error) {
	var cached models.CachedAIInsight
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, subject_tag, engine, payload, created_at, expires_at, hits, tokens_used, tokens_saved
		FROM cached_ai_insights
		WHERE user_id = $1 AND subject_tag = $2 AND engine = $3`,
		userID, subjectTag, engine,
	).Scan(&cached.ID, &cached.UserID, &cached.SubjectTag, &cached.Engine, &cached.Payload,
		&cached.CreatedAt, &cached.ExpiresAt, &cached.Hits, &cached.TokensUsed, &cached.TokensSaved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query cached insight")
	}
	return &cached, nil
}

// touchHit advances the hit counters with atomic increments
func (s *InsightService) touchHit(ctx context.Context, insightID int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cached_ai_insights
		SET hits = hits + 1, tokens_saved = tokens_saved + $1
		WHERE id = $2`, s.tokenEstimate(), insightID)
	if err != nil {
		return contextutils.WrapError(err, "failed to update hit counters")
	}
	return nil
}

// generate builds the analysis prompt from the user's learning state, asks
// the gateway, and upserts the result with a fresh TTL
func (s *InsightService) generate(ctx context.Context, userID int, subjectTag, engine string) (result0 *models.CachedAIInsight, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "generate_insight",
		observability.AttributeUserID(userID),
		observability.AttributeEngine(engine),
	)
	defer observability.FinishSpan(span, &err)

	prompt := s.buildPrompt(ctx, userID, subjectTag, engine)
	response, err := s.gateway.GenerateText(ctx, insightTier, &LLMRequest{
		SystemPrompt: "You are a learning coach analyzing a student's progress data.",
		UserPrompt:   prompt,
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"engine":       engine,
		"subject_tag":  subjectTag,
		"analysis":     response.Text,
		"generated_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to encode insight payload")
	}

	now := time.Now()
	insight := &models.CachedAIInsight{
		UserID:     userID,
		SubjectTag: subjectTag,
		Engine:     engine,
		Payload:    payload,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl()),
		TokensUsed: response.TokensUsed,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO cached_ai_insights (user_id, subject_tag, engine, payload, created_at, expires_at, hits, tokens_used, tokens_saved)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, 0)
		ON CONFLICT (user_id, subject_tag, engine) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			hits = 0,
			tokens_used = EXCLUDED.tokens_used,
			tokens_saved = 0
		RETURNING id`,
		insight.UserID, insight.SubjectTag, insight.Engine, insight.Payload,
		insight.CreatedAt, insight.ExpiresAt, insight.TokensUsed,
	).Scan(&insight.ID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to upsert cached insight")
	}
	return insight, nil
}

// buildPrompt summarizes the user's state for the analysis prompt. Missing
// profile data degrades to a generic prompt instead of failing.
func (s *InsightService) buildPrompt(ctx context.Context, userID int, subjectTag, engine string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce a %s analysis for this learner.\n", engine)
	if subjectTag != "" {
		fmt.Fprintf(&b, "Focus on the subject %q.\n", subjectTag)
	}

	profile, err := s.ability.GetProfile(ctx, userID)
	if err != nil {
		b.WriteString("No ability data is available yet; treat the learner's level as mixed.\n")
		return b.String()
	}

	accuracy := 0.0
	if profile.TotalAttempts > 0 {
		accuracy = float64(profile.TotalCorrect) / float64(profile.TotalAttempts) * 100
	}
	fmt.Fprintf(&b, "Ability score: %.0f (%s). Attempts: %d, accuracy %.1f%%, recent trend %+.1f points.\n",
		profile.Overall, profile.Level(), profile.TotalAttempts, accuracy, profile.RecentTrend)
	if subject, ok := profile.WeakestSubject(); ok {
		fmt.Fprintf(&b, "Weakest subject id: %d.\n", subject)
	}
	return b.String()
}

// ClearStale deletes expired rows, optionally filtered by user and subject;
// all=true drops matching rows regardless of freshness
func (s *InsightService) ClearStale(ctx context.Context, userID int, subjectTag string, all bool) (result0 int, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "clear_stale",
		observability.AttributeUserID(userID),
		attribute.Bool("all", all),
	)
	defer observability.FinishSpan(span, &err)

	query := `DELETE FROM cached_ai_insights WHERE 1=1`
	var args []interface{}
	if !all {
		query += ` AND expires_at <= NOW()`
	}
	if userID > 0 {
		args = append(args, userID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if subjectTag != "" {
		args = append(args, subjectTag)
		query += fmt.Sprintf(` AND subject_tag = $%d`, len(args))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to delete stale insights")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to read affected rows")
	}

	s.logger.Info(ctx, "Cleared cached insights", map[string]interface{}{
		"deleted": affected,
		"all":     all,
	})
	span.SetAttributes(attribute.Int("insights.deleted", int(affected)))
	return int(affected), nil
}
