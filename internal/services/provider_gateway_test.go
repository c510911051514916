package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"
)

type fakeProviderClient struct {
	llmResults map[string]func() (*LLMResponse, error)
	ttsResults map[string]func() (*TTSResponse, error)
	llmCalls   []string
	ttsCalls   []string
}

func (f *fakeProviderClient) GenerateText(_ context.Context, provider config.ProviderConfig, _ *LLMRequest) (*LLMResponse, error) {
	key := provider.Provider + "/" + provider.Model
	f.llmCalls = append(f.llmCalls, key)
	if fn, ok := f.llmResults[key]; ok {
		return fn()
	}
	return &LLMResponse{Text: "ok", TokensUsed: 1000}, nil
}

func (f *fakeProviderClient) Synthesize(_ context.Context, provider config.ProviderConfig, _ *TTSRequest) (*TTSResponse, error) {
	key := provider.Provider + "/" + provider.Model
	f.ttsCalls = append(f.ttsCalls, key)
	if fn, ok := f.ttsResults[key]; ok {
		return fn()
	}
	return &TTSResponse{Audio: []byte("mp3")}, nil
}

type fakeStats struct {
	generations int
	tokensUsed  int
	costCents   float64
}

func (f *fakeStats) RecordHit(context.Context, int, float64) error { return nil }
func (f *fakeStats) RecordMiss(context.Context) error              { return nil }
func (f *fakeStats) RecordGeneration(_ context.Context, tokens int, cost float64) error {
	f.generations++
	f.tokensUsed += tokens
	f.costCents += cost
	return nil
}
func (f *fakeStats) GetDaily(context.Context, time.Time) (*models.CacheStatistics, error) {
	return nil, nil
}
func (f *fakeStats) GetRange(context.Context, time.Time, time.Time) ([]*models.CacheStatistics, error) {
	return nil, nil
}

func gatewayConfig() *config.Config {
	cfg := testConfig()
	cfg.Provider = []config.ProviderConfig{
		{Provider: "anthropic", Model: "small", Tier: "normal", CostPerMillionTokens: 300, IsActive: true, IsDefault: true},
		{Provider: "openai", Model: "gpt-4o-mini", Tier: "normal", CostPerMillionTokens: 150, IsActive: true},
		{Provider: "elevenlabs", Model: "tts-v2", Tier: "normal", CostPerRequest: 0.02, IsActive: true,
			Capabilities: config.ProviderCapabilities{Languages: []string{"en"}, OutputFormats: []string{"audio"}}},
		{Provider: "google", Model: "tts-neural", Tier: "normal", CostPerRequest: 0.01, IsActive: true,
			Capabilities: config.ProviderCapabilities{OutputFormats: []string{"audio"}}},
	}
	return cfg
}

func newGateway(client ProviderClient, stats CacheStatsServiceInterface) *ProviderGateway {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	return NewProviderGatewayWithLogger(gatewayConfig(), client, stats, logger)
}

func TestCostCents(t *testing.T) {
	tokenPriced := config.ProviderConfig{CostPerMillionTokens: 300}
	assert.InDelta(t, 0.045, CostCents(1500, tokenPriced), 0.0001)

	requestPriced := config.ProviderConfig{CostPerRequest: 0.02}
	assert.InDelta(t, 2.0, CostCents(0, requestPriced), 0.0001)
}

func TestSplitTokens(t *testing.T) {
	input, output := SplitTokens(1000)
	assert.Equal(t, 600, input)
	assert.Equal(t, 400, output)
	assert.Equal(t, 1000, input+output)
}

func TestGenerateText_UsesDefaultProviderFirst(t *testing.T) {
	client := &fakeProviderClient{}
	stats := &fakeStats{}
	gateway := newGateway(client, stats)

	response, err := gateway.GenerateText(context.Background(), "normal", &LLMRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", response.Provider)
	assert.Equal(t, []string{"anthropic/small"}, client.llmCalls)
	assert.Equal(t, 1, stats.generations)
	assert.Equal(t, 1000, stats.tokensUsed)
}

func TestGenerateText_FallsThroughOnProviderError(t *testing.T) {
	client := &fakeProviderClient{
		llmResults: map[string]func() (*LLMResponse, error){
			"anthropic/small": func() (*LLMResponse, error) {
				return nil, contextutils.ErrProviderError
			},
		},
	}
	gateway := newGateway(client, &fakeStats{})

	response, err := gateway.GenerateText(context.Background(), "normal", &LLMRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "openai", response.Provider)
	assert.Equal(t, []string{"anthropic/small", "openai/gpt-4o-mini"}, client.llmCalls)
}

func TestGenerateText_AllProvidersFailed(t *testing.T) {
	fail := func() (*LLMResponse, error) { return nil, contextutils.ErrProviderError }
	client := &fakeProviderClient{
		llmResults: map[string]func() (*LLMResponse, error){
			"anthropic/small":    fail,
			"openai/gpt-4o-mini": fail,
		},
	}
	gateway := newGateway(client, &fakeStats{})

	_, err := gateway.GenerateText(context.Background(), "normal", &LLMRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeAllProvidersFailed, contextutils.GetErrorCode(err))
}

func TestGenerateText_QuotaExceededIsSticky(t *testing.T) {
	client := &fakeProviderClient{
		llmResults: map[string]func() (*LLMResponse, error){
			"anthropic/small": func() (*LLMResponse, error) {
				return nil, contextutils.ErrQuotaExceeded
			},
		},
	}
	gateway := newGateway(client, &fakeStats{})

	_, err := gateway.GenerateText(context.Background(), "normal", &LLMRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	// second call must skip the quota-limited provider entirely
	client.llmCalls = nil
	_, err = gateway.GenerateText(context.Background(), "normal", &LLMRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"openai/gpt-4o-mini"}, client.llmCalls)
}

func TestSynthesizeSpeech_FollowsFallbackChain(t *testing.T) {
	client := &fakeProviderClient{
		ttsResults: map[string]func() (*TTSResponse, error){
			"elevenlabs/tts-v2": func() (*TTSResponse, error) {
				return nil, contextutils.ErrProviderUnavailable
			},
		},
	}
	gateway := newGateway(client, &fakeStats{})

	response, err := gateway.SynthesizeSpeech(context.Background(), &TTSRequest{Text: "ciao", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "google", response.Provider)
	assert.Equal(t, []string{"elevenlabs/tts-v2", "google/tts-neural"}, client.ttsCalls)
}

func TestFindTTSProvider_LanguageFiltering(t *testing.T) {
	gateway := newGateway(&fakeProviderClient{}, &fakeStats{})

	row, ok := gateway.findTTSProvider("elevenlabs", "en")
	require.True(t, ok)
	assert.Equal(t, "tts-v2", row.Model)

	// google has no language list and accepts anything
	row, ok = gateway.findTTSProvider("google", "fa")
	require.True(t, ok)
	assert.Equal(t, "tts-neural", row.Model)
}

func TestGenerateTextWith_UnknownProvider(t *testing.T) {
	gateway := newGateway(&fakeProviderClient{}, &fakeStats{})

	_, err := gateway.GenerateTextWith(context.Background(), "missing", "model", &LLMRequest{})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeProviderUnavailable, contextutils.GetErrorCode(err))
}
