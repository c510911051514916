package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
)

type fakeGateway struct {
	response *LLMResponse
	err      error
	calls    int
}

func (f *fakeGateway) GenerateText(context.Context, string, *LLMRequest) (*LLMResponse, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeGateway) GenerateTextWith(context.Context, string, string, *LLMRequest) (*LLMResponse, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeGateway) SynthesizeSpeech(context.Context, *TTSRequest) (*TTSResponse, error) {
	return nil, nil
}

type fakeAbility struct {
	profile *models.UserAbilityProfile
	err     error
}

func (f *fakeAbility) ComputeAll(context.Context, AbilityBatchOptions) (int, error) { return 0, nil }
func (f *fakeAbility) GetProfile(context.Context, int) (*models.UserAbilityProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type recordingStats struct {
	fakeStats
	hits   int
	misses int
}

func (r *recordingStats) RecordHit(context.Context, int, float64) error {
	r.hits++
	return nil
}

func (r *recordingStats) RecordMiss(context.Context) error {
	r.misses++
	return nil
}

func newInsightService(t *testing.T, gateway ProviderGatewayInterface, stats CacheStatsServiceInterface) (*InsightService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	cfg := gatewayConfig()
	cfg.Provider = append(cfg.Provider, config.ProviderConfig{
		Provider: "openai", Model: "gpt-4o-mini", Tier: "cheap",
		CostPerMillionTokens: 150, IsActive: true, IsDefault: true,
	})
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	ability := &fakeAbility{profile: &models.UserAbilityProfile{
		UserID: 7, Overall: 540, TotalAttempts: 40, TotalCorrect: 28,
	}}
	return NewInsightServiceWithLogger(db, cfg, gateway, ability, stats, logger), mock
}

var insightColumns = []string{
	"id", "user_id", "subject_tag", "engine", "payload",
	"created_at", "expires_at", "hits", "tokens_used", "tokens_saved",
}

func TestGetInsight_FreshRowIsAHit(t *testing.T) {
	gateway := &fakeGateway{}
	stats := &recordingStats{}
	service, mock := newInsightService(t, gateway, stats)

	payload := []byte(`{"analysis":"steady progress"}`)
	now := time.Now()
	mock.ExpectQuery("SELECT id, user_id, subject_tag, engine, payload").
		WithArgs(7, "math", "progress").
		WillReturnRows(sqlmock.NewRows(insightColumns).
			AddRow(11, 7, "math", "progress", payload, now.Add(-time.Hour), now.Add(time.Hour), 2, 1200, 3000))
	mock.ExpectExec("UPDATE cached_ai_insights").
		WithArgs(config.DefaultInsightTokenEstimate, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))

	insight, hit, err := service.GetInsight(context.Background(), 7, "math", "progress")
	require.NoError(t, err)

	assert.True(t, hit)
	assert.JSONEq(t, string(payload), string(insight.Payload))
	assert.Equal(t, 3, insight.Hits)
	assert.Equal(t, 1, stats.hits)
	assert.Equal(t, 0, stats.misses)
	assert.Equal(t, 0, gateway.calls, "a hit must not reach the gateway")
}

func TestGetInsight_MissGeneratesAndCaches(t *testing.T) {
	gateway := &fakeGateway{response: &LLMResponse{Text: "focus on algebra", TokensUsed: 900, Provider: "openai"}}
	stats := &recordingStats{}
	service, mock := newInsightService(t, gateway, stats)

	mock.ExpectQuery("SELECT id, user_id, subject_tag, engine, payload").
		WithArgs(7, "math", "progress").
		WillReturnRows(sqlmock.NewRows(insightColumns))
	mock.ExpectQuery("INSERT INTO cached_ai_insights").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	insight, hit, err := service.GetInsight(context.Background(), 7, "math", "progress")
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 42, insight.ID)
	assert.Equal(t, 900, insight.TokensUsed)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, 1, stats.misses)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(insight.Payload, &decoded))
	assert.Equal(t, "focus on algebra", decoded["analysis"])
	assert.Equal(t, "progress", decoded["engine"])
}

func TestGetInsight_ExpiredRowRegenerates(t *testing.T) {
	gateway := &fakeGateway{response: &LLMResponse{Text: "new analysis", TokensUsed: 800, Provider: "openai"}}
	stats := &recordingStats{}
	service, mock := newInsightService(t, gateway, stats)

	now := time.Now()
	mock.ExpectQuery("SELECT id, user_id, subject_tag, engine, payload").
		WithArgs(7, "math", "progress").
		WillReturnRows(sqlmock.NewRows(insightColumns).
			AddRow(11, 7, "math", "progress", []byte(`{}`), now.Add(-48*time.Hour), now.Add(-time.Hour), 9, 1200, 9000))
	mock.ExpectQuery("INSERT INTO cached_ai_insights").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	_, hit, err := service.GetInsight(context.Background(), 7, "math", "progress")
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, 1, stats.misses)
}

func TestClearStale_ExpiredOnly(t *testing.T) {
	service, mock := newInsightService(t, &fakeGateway{}, &recordingStats{})

	mock.ExpectExec("DELETE FROM cached_ai_insights WHERE 1=1 AND expires_at <= NOW\\(\\)").
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := service.ClearStale(context.Background(), 0, "", false)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
}

func TestClearStale_AllForUserAndSubject(t *testing.T) {
	service, mock := newInsightService(t, &fakeGateway{}, &recordingStats{})

	mock.ExpectExec("DELETE FROM cached_ai_insights WHERE 1=1 AND user_id = \\$1 AND subject_tag = \\$2").
		WithArgs(7, "math").
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := service.ClearStale(context.Background(), 7, "math", true)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
