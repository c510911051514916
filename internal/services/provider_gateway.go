package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"zporta/internal/config"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// LLMRequest is a text generation request
type LLMRequest struct {
	SystemPrompt string `json:"system"`
	UserPrompt   string `json:"prompt"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	Language     string `json:"language,omitempty"`
}

// LLMResponse is a text generation result with its accounting data
type LLMResponse struct {
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	CostCents  float64 `json:"cost_cents"`
}

// TTSRequest is a speech synthesis request
type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TTSResponse is a speech synthesis result
type TTSResponse struct {
	Audio     []byte  `json:"-"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	CostCents float64 `json:"cost_cents"`
}

// ProviderClient performs the actual provider calls. Separated from the
// gateway so tests can substitute a fake.
type ProviderClient interface {
	GenerateText(ctx context.Context, provider config.ProviderConfig, req *LLMRequest) (*LLMResponse, error)
	Synthesize(ctx context.Context, provider config.ProviderConfig, req *TTSRequest) (*TTSResponse, error)
}

// ProviderGatewayInterface defines the interface for LLM/TTS dispatch
type ProviderGatewayInterface interface {
	// GenerateText dispatches to the active providers of a tier, in default
	// order, until one succeeds
	GenerateText(ctx context.Context, tier string, req *LLMRequest) (*LLMResponse, error)
	// GenerateTextWith dispatches to a named provider and model
	GenerateTextWith(ctx context.Context, provider, model string, req *LLMRequest) (*LLMResponse, error)
	// SynthesizeSpeech walks the TTS fallback chain until a provider succeeds
	SynthesizeSpeech(ctx context.Context, req *TTSRequest) (*TTSResponse, error)
}

// ProviderGateway fans out to configured LLM/TTS providers with per-provider
// circuit breakers, a sticky quota cool-off, and cost accounting into the
// daily ledger.
type ProviderGateway struct {
	config *config.Config
	logger *observability.Logger
	client ProviderClient
	stats  CacheStatsServiceInterface

	mu          sync.Mutex
	llmBreakers map[string]*gobreaker.CircuitBreaker[*LLMResponse]
	ttsBreakers map[string]*gobreaker.CircuitBreaker[*TTSResponse]
	quotaUntil  map[string]time.Time
}

// NewProviderGatewayWithLogger creates a new provider gateway
func NewProviderGatewayWithLogger(cfg *config.Config, client ProviderClient, stats CacheStatsServiceInterface, logger *observability.Logger) *ProviderGateway {
	return &ProviderGateway{
		config:      cfg,
		logger:      logger,
		client:      client,
		stats:       stats,
		llmBreakers: map[string]*gobreaker.CircuitBreaker[*LLMResponse]{},
		ttsBreakers: map[string]*gobreaker.CircuitBreaker[*TTSResponse]{},
		quotaUntil:  map[string]time.Time{},
	}
}

func providerKey(provider config.ProviderConfig) string {
	return provider.Provider + "/" + provider.Model
}

func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func (g *ProviderGateway) llmBreaker(key string) *gobreaker.CircuitBreaker[*LLMResponse] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, ok := g.llmBreakers[key]; ok {
		return breaker
	}
	breaker := gobreaker.NewCircuitBreaker[*LLMResponse](breakerSettings(key))
	g.llmBreakers[key] = breaker
	return breaker
}

func (g *ProviderGateway) ttsBreaker(key string) *gobreaker.CircuitBreaker[*TTSResponse] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, ok := g.ttsBreakers[key]; ok {
		return breaker
	}
	breaker := gobreaker.NewCircuitBreaker[*TTSResponse](breakerSettings(key))
	g.ttsBreakers[key] = breaker
	return breaker
}

// quotaCoolingOff reports whether the provider recently reported a quota
// exhaustion and is still inside its cool-off window
func (g *ProviderGateway) quotaCoolingOff(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.quotaUntil[key]
	return ok && time.Now().Before(until)
}

func (g *ProviderGateway) markQuotaExceeded(key string) {
	window := config.QuotaCooloffWindow
	if g.config.Gateway.QuotaCooloffMinutes > 0 {
		window = time.Duration(g.config.Gateway.QuotaCooloffMinutes) * time.Minute
	}
	g.mu.Lock()
	g.quotaUntil[key] = time.Now().Add(window)
	g.mu.Unlock()
}

// CostCents prices a completed call: token-priced models use the per-million
// rate (a blended 60/40 input/output rate), request-priced models a flat
// per-request charge.
func CostCents(tokensUsed int, provider config.ProviderConfig) float64 {
	if provider.CostPerMillionTokens > 0 {
		return float64(tokensUsed) / 1_000_000 * provider.CostPerMillionTokens * 100
	}
	return provider.CostPerRequest * 100
}

// SplitTokens divides a token total into the assumed 60/40 input/output split
func SplitTokens(total int) (input, output int) {
	input = total * 60 / 100
	output = total - input
	return input, output
}

func (g *ProviderGateway) llmTimeout() time.Duration {
	if g.config.Gateway.LLMTimeoutSeconds > 0 {
		return time.Duration(g.config.Gateway.LLMTimeoutSeconds) * time.Second
	}
	return config.LLMRequestTimeout
}

func (g *ProviderGateway) ttsTimeout() time.Duration {
	if g.config.Gateway.TTSTimeoutSeconds > 0 {
		return time.Duration(g.config.Gateway.TTSTimeoutSeconds) * time.Second
	}
	return config.TTSRequestTimeout
}

// GenerateText dispatches to the active providers of a tier, in default
// order, until one succeeds
func (g *ProviderGateway) GenerateText(ctx context.Context, tier string, req *LLMRequest) (result0 *LLMResponse, err error) {
	ctx, span := observability.TraceProviderFunction(ctx, "generate_text",
		attribute.String("tier", tier),
	)
	defer observability.FinishSpan(span, &err)

	providers := g.config.ProvidersForTier(tier)
	if len(providers) == 0 {
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderUnavailable,
			contextutils.SeverityError,
			"No active providers configured for tier", tier)
	}
	return g.generateTextChain(ctx, providers, req)
}

// GenerateTextWith dispatches to a named provider and model
func (g *ProviderGateway) GenerateTextWith(ctx context.Context, provider, model string, req *LLMRequest) (result0 *LLMResponse, err error) {
	ctx, span := observability.TraceProviderFunction(ctx, "generate_text_with",
		observability.AttributeProvider(provider),
		attribute.String("provider.model", model),
	)
	defer observability.FinishSpan(span, &err)

	row, ok := g.config.FindProvider(provider, model)
	if !ok || !row.IsActive {
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderUnavailable,
			contextutils.SeverityError,
			"Provider is not configured or inactive", provider+"/"+model)
	}
	return g.generateTextChain(ctx, []config.ProviderConfig{row}, req)
}

func (g *ProviderGateway) generateTextChain(ctx context.Context, providers []config.ProviderConfig, req *LLMRequest) (*LLMResponse, error) {
	var lastErr error
	for _, provider := range providers {
		key := providerKey(provider)
		if g.quotaCoolingOff(key) {
			g.logger.Debug(ctx, "Skipping provider in quota cool-off", map[string]interface{}{"provider": key})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.llmTimeout())
		response, err := g.llmBreaker(key).Execute(func() (*LLMResponse, error) {
			return g.client.GenerateText(callCtx, provider, req)
		})
		cancel()

		if err == nil {
			response.Provider = provider.Provider
			response.Model = provider.Model
			response.CostCents = CostCents(response.TokensUsed, provider)
			g.recordSpend(ctx, response.TokensUsed, response.CostCents)
			return response, nil
		}

		lastErr = err
		g.handleProviderFailure(ctx, key, err)
	}
	return nil, allProvidersFailed(lastErr)
}

// SynthesizeSpeech walks the configured TTS fallback chain in order, skipping
// providers that are unavailable, cooling off, or tripped
func (g *ProviderGateway) SynthesizeSpeech(ctx context.Context, req *TTSRequest) (result0 *TTSResponse, err error) {
	ctx, span := observability.TraceProviderFunction(ctx, "synthesize_speech",
		attribute.String("tts.language", req.Language),
	)
	defer observability.FinishSpan(span, &err)

	var lastErr error
	for _, name := range g.config.Gateway.TTSFallbackChain {
		provider, ok := g.findTTSProvider(name, req.Language)
		if !ok {
			continue
		}
		key := providerKey(provider)
		if g.quotaCoolingOff(key) {
			g.logger.Debug(ctx, "Skipping TTS provider in quota cool-off", map[string]interface{}{"provider": key})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.ttsTimeout())
		response, err := g.ttsBreaker(key).Execute(func() (*TTSResponse, error) {
			return g.client.Synthesize(callCtx, provider, req)
		})
		cancel()

		if err == nil {
			response.Provider = provider.Provider
			response.Model = provider.Model
			response.CostCents = CostCents(0, provider)
			g.recordSpend(ctx, 0, response.CostCents)
			return response, nil
		}

		lastErr = err
		g.handleProviderFailure(ctx, key, err)
	}
	return nil, allProvidersFailed(lastErr)
}

// findTTSProvider picks the first active config row for the named provider
// that can produce audio, preferring one that supports the language
func (g *ProviderGateway) findTTSProvider(name, language string) (config.ProviderConfig, bool) {
	var fallback config.ProviderConfig
	found := false
	for _, row := range g.config.Provider {
		if row.Provider != name || !row.IsActive {
			continue
		}
		if !supportsOutput(row, "audio") {
			continue
		}
		if language == "" || supportsLanguage(row, language) {
			return row, true
		}
		if !found {
			fallback, found = row, true
		}
	}
	return fallback, found
}

func supportsOutput(row config.ProviderConfig, format string) bool {
	for _, f := range row.Capabilities.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

func supportsLanguage(row config.ProviderConfig, language string) bool {
	if len(row.Capabilities.Languages) == 0 {
		return true
	}
	for _, l := range row.Capabilities.Languages {
		if l == language {
			return true
		}
	}
	return false
}

func (g *ProviderGateway) handleProviderFailure(ctx context.Context, key string, err error) {
	if contextutils.GetErrorCode(err) == contextutils.ErrorCodeQuotaExceeded {
		g.markQuotaExceeded(key)
		g.logger.Warn(ctx, "Provider quota exceeded, cooling off", map[string]interface{}{"provider": key})
		return
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn(ctx, "Provider circuit open, skipping", map[string]interface{}{"provider": key})
		return
	}
	g.logger.Warn(ctx, "Provider call failed, trying next in chain", map[string]interface{}{
		"provider": key,
		"error":    err.Error(),
	})
}

func (g *ProviderGateway) recordSpend(ctx context.Context, tokensUsed int, costCents float64) {
	if g.stats == nil {
		return
	}
	if err := g.stats.RecordGeneration(ctx, tokensUsed, costCents); err != nil {
		g.logger.Warn(ctx, "Failed to record provider spend", map[string]interface{}{"error": err.Error()})
	}
}

func allProvidersFailed(lastErr error) error {
	if lastErr == nil {
		lastErr = errors.New("no providers eligible")
	}
	return contextutils.NewAppErrorWithCause(
		contextutils.ErrorCodeAllProvidersFailed,
		contextutils.SeverityError,
		"All providers in the chain failed", "", lastErr)
}

// HTTPProviderClient calls provider endpoints over HTTP with OpenTelemetry
// instrumentation
type HTTPProviderClient struct {
	httpClient *http.Client
	logger     *observability.Logger
}

// NewHTTPProviderClient creates an instrumented provider client
func NewHTTPProviderClient(logger *observability.Logger) *HTTPProviderClient {
	return &HTTPProviderClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   config.DefaultHTTPTimeout,
		},
		logger: logger,
	}
}

// GenerateText posts a completion request to the provider endpoint
func (c *HTTPProviderClient) GenerateText(ctx context.Context, provider config.ProviderConfig, req *LLMRequest) (*LLMResponse, error) {
	payload := map[string]interface{}{
		"model":      provider.Model,
		"system":     req.SystemPrompt,
		"prompt":     req.UserPrompt,
		"max_tokens": req.MaxTokens,
	}
	if req.MaxTokens == 0 && provider.MaxTokens > 0 {
		payload["max_tokens"] = provider.MaxTokens
	}

	body, err := c.post(ctx, provider, payload)
	if err != nil {
		return nil, err
	}

	var response LLMResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeProviderResponseInvalid,
			contextutils.SeverityError,
			"Provider returned an unparseable completion", provider.Provider, err)
	}
	if response.Text == "" {
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderResponseInvalid,
			contextutils.SeverityError,
			"Provider returned an empty completion", provider.Provider)
	}
	return &response, nil
}

// Synthesize posts a speech request and expects base64 MP3 audio back
func (c *HTTPProviderClient) Synthesize(ctx context.Context, provider config.ProviderConfig, req *TTSRequest) (*TTSResponse, error) {
	body, err := c.post(ctx, provider, map[string]interface{}{
		"model":    provider.Model,
		"text":     req.Text,
		"language": req.Language,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Audio []byte `json:"audio"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Audio) == 0 {
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderResponseInvalid,
			contextutils.SeverityError,
			"Provider returned no audio", provider.Provider)
	}
	return &TTSResponse{Audio: envelope.Audio}, nil
}

func (c *HTTPProviderClient) post(ctx context.Context, provider config.ProviderConfig, payload map[string]interface{}) ([]byte, error) {
	if provider.URL == "" {
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderUnavailable,
			contextutils.SeverityError,
			"Provider has no endpoint configured", provider.Provider)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to encode provider request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to build provider request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeProviderError,
			contextutils.SeverityError,
			"Provider request failed", provider.Provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to read provider response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeQuotaExceeded,
			contextutils.SeverityWarn,
			"Provider quota exceeded", provider.Provider)
	case resp.StatusCode >= 500:
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderError,
			contextutils.SeverityError,
			fmt.Sprintf("Provider returned status %d", resp.StatusCode), provider.Provider)
	default:
		return nil, contextutils.NewAppError(
			contextutils.ErrorCodeProviderResponseInvalid,
			contextutils.SeverityError,
			fmt.Sprintf("Provider returned status %d", resp.StatusCode), provider.Provider)
	}
}
