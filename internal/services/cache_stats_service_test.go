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
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"
)

func newCacheStatsService(t *testing.T) (*CacheStatsService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	return NewCacheStatsServiceWithLogger(db, testConfig(), logger), mock
}

func TestRecordHit_AccumulatesSavings(t *testing.T) {
	service, mock := newCacheStatsService(t)

	mock.ExpectExec("INSERT INTO cache_statistics").
		WithArgs(1500, 0.09).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, service.RecordHit(context.Background(), 1500, 0.09))
}

func TestRecordMiss(t *testing.T) {
	service, mock := newCacheStatsService(t)

	mock.ExpectExec("INSERT INTO cache_statistics").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, service.RecordMiss(context.Background()))
}

func TestRecordGeneration_TracksSpend(t *testing.T) {
	service, mock := newCacheStatsService(t)

	mock.ExpectExec("INSERT INTO cache_statistics").
		WithArgs(2200, 0.13).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, service.RecordGeneration(context.Background(), 2200, 0.13))
}

func TestGetDaily_NoRowIsNotFound(t *testing.T) {
	service, mock := newCacheStatsService(t)
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT day, hits, misses").
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"day"}))

	_, err := service.GetDaily(context.Background(), day)
	assert.True(t, errors.Is(err, contextutils.ErrRecordNotFound))
}

func TestGetDaily_ReturnsLedgerRow(t *testing.T) {
	service, mock := newCacheStatsService(t)
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT day, hits, misses").
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"day", "hits", "misses", "generations", "tokens_used", "tokens_saved", "cost_cents", "cost_saved_cents"}).
			AddRow(day, 10, 3, 3, 4500, 15000, 0.27, 0.9))

	stats, err := service.GetDaily(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Hits)
	assert.Equal(t, 3, stats.Misses)
	assert.Equal(t, int64(15000), stats.TokensSaved)
}

func TestGetRange_OrderedOldestFirst(t *testing.T) {
	service, mock := newCacheStatsService(t)
	from := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 2)

	mock.ExpectQuery("SELECT day, hits, misses").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day", "hits", "misses", "generations", "tokens_used", "tokens_saved", "cost_cents", "cost_saved_cents"}).
			AddRow(from, 1, 0, 0, 0, 1500, 0.0, 0.09).
			AddRow(to, 4, 1, 1, 1800, 6000, 0.11, 0.36))

	days, err := service.GetRange(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, from, days[0].Day)
	assert.Equal(t, 4, days[1].Hits)
}
