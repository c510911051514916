package services

import (
	"context"
	"database/sql"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// CacheStatsServiceInterface defines the interface for the daily cost ledger
type CacheStatsServiceInterface interface {
	// RecordHit counts a cache hit and the tokens/cost it avoided
	RecordHit(ctx context.Context, tokensSaved int, costSavedCents float64) error
	// RecordMiss counts a cache miss
	RecordMiss(ctx context.Context) error
	// RecordGeneration counts a provider generation with its token cost
	RecordGeneration(ctx context.Context, tokensUsed int, costCents float64) error
	// GetDaily returns the ledger row for one day
	GetDaily(ctx context.Context, day time.Time) (*models.CacheStatistics, error)
	// GetRange returns ledger rows between two days inclusive, oldest first
	GetRange(ctx context.Context, from, to time.Time) ([]*models.CacheStatistics, error)
}

// CacheStatsService maintains the per-day aggregate of cache activity and
// provider spend. The daily row is upserted so concurrent writers only ever
// add to the counters.
type CacheStatsService struct {
	db     *sql.DB
	config *config.Config
	logger *observability.Logger
}

// NewCacheStatsServiceWithLogger creates a new cache stats service
func NewCacheStatsServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *CacheStatsService {
	return &CacheStatsService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// RecordHit counts a cache hit and the tokens/cost it avoided
func (s *CacheStatsService) RecordHit(ctx context.Context, tokensSaved int, costSavedCents float64) (err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "record_cache_hit",
		attribute.Int("tokens_saved", tokensSaved),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_statistics (day, hits, tokens_saved, cost_saved_cents)
		VALUES (CURRENT_DATE, 1, $1, $2)
		ON CONFLICT (day) DO UPDATE SET
			hits = cache_statistics.hits + 1,
			tokens_saved = cache_statistics.tokens_saved + EXCLUDED.tokens_saved,
			cost_saved_cents = cache_statistics.cost_saved_cents + EXCLUDED.cost_saved_cents`,
		tokensSaved, costSavedCents)
	if err != nil {
		return contextutils.WrapError(err, "failed to record cache hit")
	}
	return nil
}

// RecordMiss counts a cache miss
func (s *CacheStatsService) RecordMiss(ctx context.Context) (err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "record_cache_miss")
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_statistics (day, misses)
		VALUES (CURRENT_DATE, 1)
		ON CONFLICT (day) DO UPDATE SET misses = cache_statistics.misses + 1`)
	if err != nil {
		return contextutils.WrapError(err, "failed to record cache miss")
	}
	return nil
}

// RecordGeneration counts a provider generation with its token cost
func (s *CacheStatsService) RecordGeneration(ctx context.Context, tokensUsed int, costCents float64) (err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "record_generation",
		attribute.Int("tokens_used", tokensUsed),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_statistics (day, generations, tokens_used, cost_cents)
		VALUES (CURRENT_DATE, 1, $1, $2)
		ON CONFLICT (day) DO UPDATE SET
			generations = cache_statistics.generations + 1,
			tokens_used = cache_statistics.tokens_used + EXCLUDED.tokens_used,
			cost_cents = cache_statistics.cost_cents + EXCLUDED.cost_cents`,
		tokensUsed, costCents)
	if err != nil {
		return contextutils.WrapError(err, "failed to record generation")
	}
	return nil
}

// GetDaily returns the ledger row for one day
func (s *CacheStatsService) GetDaily(ctx context.Context, day time.Time) (result0 *models.CacheStatistics, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "get_daily_stats")
	defer observability.FinishSpan(span, &err)

	var stats models.CacheStatistics
	err = s.db.QueryRowContext(ctx, `
		SELECT day, hits, misses, generations, tokens_used, tokens_saved, cost_cents, cost_saved_cents
		FROM cache_statistics WHERE day = $1::date`, day,
	).Scan(&stats.Day, &stats.Hits, &stats.Misses, &stats.Generations,
		&stats.TokensUsed, &stats.TokensSaved, &stats.CostCents, &stats.CostSavedCents)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query daily stats")
	}
	return &stats, nil
}

// GetRange returns ledger rows between two days inclusive, oldest first
func (s *CacheStatsService) GetRange(ctx context.Context, from, to time.Time) (result0 []*models.CacheStatistics, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "get_stats_range")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT day, hits, misses, generations, tokens_used, tokens_saved, cost_cents, cost_saved_cents
		FROM cache_statistics
		WHERE day BETWEEN $1::date AND $2::date
		ORDER BY day ASC`, from, to)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query stats range")
	}
	defer func() { _ = rows.Close() }()

	var all []*models.CacheStatistics
	for rows.Next() {
		var stats models.CacheStatistics
		if err := rows.Scan(&stats.Day, &stats.Hits, &stats.Misses, &stats.Generations,
			&stats.TokensUsed, &stats.TokensSaved, &stats.CostCents, &stats.CostSavedCents); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan stats row")
		}
		all = append(all, &stats)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate stats rows")
	}
	return all, nil
}
