// Package config handles application configuration loading from environment variables.
package config

import (
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderCapabilities describes what a configured provider model can produce
type ProviderCapabilities struct {
	Languages     []string `json:"languages" yaml:"languages"`
	OutputFormats []string `json:"output_formats" yaml:"output_formats"`
}

// ProviderConfig defines the registry row for a single provider model
type ProviderConfig struct {
	Provider             string               `json:"provider" yaml:"provider"`
	Model                string               `json:"model" yaml:"model"`
	Tier                 string               `json:"tier" yaml:"tier"` // cheap, normal, premium
	CostPerMillionTokens float64              `json:"cost_per_million_tokens,omitempty" yaml:"cost_per_million_tokens,omitempty"`
	CostPerRequest       float64              `json:"cost_per_request,omitempty" yaml:"cost_per_request,omitempty"`
	AvgLatencyMs         int                  `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	QualityScore         float64              `json:"quality_score" yaml:"quality_score"`
	MaxTokens            int                  `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	URL                  string               `json:"url,omitempty" yaml:"url,omitempty"`
	Capabilities         ProviderCapabilities `json:"capabilities" yaml:"capabilities"`
	IsActive             bool                 `json:"is_active" yaml:"is_active"`
	IsDefault            bool                 `json:"is_default" yaml:"is_default"`
}

// EngineConfig holds tunables for the batch estimators
type EngineConfig struct {
	DifficultyWindowDays      int     `json:"difficulty_window_days" yaml:"difficulty_window_days"`
	DifficultyMinAttempts     int     `json:"difficulty_min_attempts" yaml:"difficulty_min_attempts"`
	AbilityWindowDays         int     `json:"ability_window_days" yaml:"ability_window_days"`
	AbilityMinAttempts        int     `json:"ability_min_attempts" yaml:"ability_min_attempts"`
	AbilitySubjectMinAttempts int     `json:"ability_subject_min_attempts" yaml:"ability_subject_min_attempts"`
	EloKFactor                float64 `json:"elo_k_factor" yaml:"elo_k_factor"`
	MatchTopN                 int     `json:"match_top_n" yaml:"match_top_n"`
	MatchCandidateLimit       int     `json:"match_candidate_limit" yaml:"match_candidate_limit"`
	RecencyWindowDays         int     `json:"recency_window_days" yaml:"recency_window_days"`
}

// FeedConfig holds feed composition tunables
type FeedConfig struct {
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`
	MaxLimit     int `json:"max_limit" yaml:"max_limit"`
	NextPoolCap  int `json:"next_pool_cap" yaml:"next_pool_cap"`
	// SoftBudgetMs is the soft time budget for feed endpoints; overruns return
	// what was collected so far with a warning.
	SoftBudgetMs int `json:"soft_budget_ms" yaml:"soft_budget_ms"`
}

// InsightConfig holds insight cache tunables
type InsightConfig struct {
	TTLHours      int `json:"ttl_hours" yaml:"ttl_hours"`
	TokenEstimate int `json:"token_estimate" yaml:"token_estimate"`
}

// GatewayConfig holds provider gateway tunables
type GatewayConfig struct {
	LLMTimeoutSeconds   int      `json:"llm_timeout_seconds" yaml:"llm_timeout_seconds"`
	TTSTimeoutSeconds   int      `json:"tts_timeout_seconds" yaml:"tts_timeout_seconds"`
	QuotaCooloffMinutes int      `json:"quota_cooloff_minutes" yaml:"quota_cooloff_minutes"`
	TTSFallbackChain    []string `json:"tts_fallback_chain" yaml:"tts_fallback_chain"`
}

// PodcastConfig holds podcast generation defaults; category overrides are
// merged per request, there is no mutable global state.
type PodcastConfig struct {
	CooldownHours            int            `json:"cooldown_hours" yaml:"cooldown_hours"`
	CategoryCooldownOverride map[string]int `json:"category_cooldown_override" yaml:"category_cooldown_override"`
	TestUserID               int            `json:"test_user_id" yaml:"test_user_id"`
	TestUserBypassesCooldown bool           `json:"test_user_bypasses_cooldown" yaml:"test_user_bypasses_cooldown"`
	SystemRole               string         `json:"system_role" yaml:"system_role"`
	ToneGuide                string         `json:"tone_guide" yaml:"tone_guide"`
	ReplySizeWords           map[string]int `json:"reply_size_words" yaml:"reply_size_words"`
	IncludeQA                bool           `json:"include_qa" yaml:"include_qa"`
	WordsPerMinute           int            `json:"words_per_minute" yaml:"words_per_minute"`
	MaxLanguages             int            `json:"max_languages" yaml:"max_languages"`
	LLMTier                  string         `json:"llm_tier" yaml:"llm_tier"`
}

// BlobStoreConfig holds the blob store root for audio artifacts and exports
type BlobStoreConfig struct {
	RootDir string `json:"root_dir" yaml:"root_dir"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           string   `json:"port" yaml:"port"`
	WorkerPort     string   `json:"worker_port" yaml:"worker_port"`
	Debug          bool     `json:"debug" yaml:"debug"`
	LogLevel       string   `json:"log_level" yaml:"log_level"`
	AppBaseURL     string   `json:"app_base_url" yaml:"app_base_url"`
	BackendBaseURL string   `json:"backend_base_url" yaml:"backend_base_url"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	Protocol       string            `json:"protocol" yaml:"protocol"` // "grpc" or "http"
	Insecure       bool              `json:"insecure" yaml:"insecure"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	ServiceName    string            `json:"service_name" yaml:"service_name"`
	ServiceVersion string            `json:"service_version" yaml:"service_version"`
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"`
}

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	Engine   EngineConfig     `json:"engine" yaml:"engine"`
	Feed     FeedConfig       `json:"feed" yaml:"feed"`
	Insights InsightConfig    `json:"insights" yaml:"insights"`
	Gateway  GatewayConfig    `json:"gateway" yaml:"gateway"`
	Podcast  PodcastConfig    `json:"podcast" yaml:"podcast"`
	Blobs    BlobStoreConfig  `json:"blobs" yaml:"blobs"`
	Provider []ProviderConfig `json:"providers" yaml:"providers"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ProvidersForTier returns the active provider rows at the given tier,
// defaults first so the gateway can pick deterministically.
func (c *Config) ProvidersForTier(tier string) []ProviderConfig {
	var rows []ProviderConfig
	for _, p := range c.Provider {
		if p.IsActive && p.Tier == tier {
			rows = append(rows, p)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].IsDefault && !rows[j].IsDefault
	})
	return rows
}

// FindProvider returns the registry row for an exact provider+model pair
func (c *Config) FindProvider(provider, model string) (ProviderConfig, bool) {
	for _, p := range c.Provider {
		if p.Provider == provider && p.Model == model {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// CooldownHoursForCategory returns the podcast cooldown for a category,
// applying the per-category override when present.
func (c *Config) CooldownHoursForCategory(category string) int {
	if c.Podcast.CategoryCooldownOverride != nil {
		if hours, ok := c.Podcast.CategoryCooldownOverride[category]; ok {
			return hours
		}
	}
	return c.Podcast.CooldownHours
}

// WordTargetForReplySize maps a reply_size keyword to a word-count target
func (c *Config) WordTargetForReplySize(replySize string) int {
	if c.Podcast.ReplySizeWords != nil {
		if words, ok := c.Podcast.ReplySizeWords[strings.ToLower(replySize)]; ok {
			return words
		}
	}
	return DefaultPodcastWordTarget
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, err
	}

	config.overrideFromEnv()
	config.applyDefaults()

	return config, nil
}

// applyDefaults fills in zero-valued tunables with engine defaults
func (c *Config) applyDefaults() {
	if c.Engine.DifficultyWindowDays <= 0 {
		c.Engine.DifficultyWindowDays = DefaultDifficultyWindowDays
	}
	if c.Engine.DifficultyMinAttempts <= 0 {
		c.Engine.DifficultyMinAttempts = DefaultDifficultyMinAttempts
	}
	if c.Engine.AbilityWindowDays <= 0 {
		c.Engine.AbilityWindowDays = DefaultAbilityWindowDays
	}
	if c.Engine.AbilityMinAttempts <= 0 {
		c.Engine.AbilityMinAttempts = DefaultAbilityMinAttempts
	}
	if c.Engine.AbilitySubjectMinAttempts <= 0 {
		c.Engine.AbilitySubjectMinAttempts = DefaultAbilitySubjectMinAttempts
	}
	if c.Engine.EloKFactor <= 0 {
		c.Engine.EloKFactor = DefaultEloKFactor
	}
	if c.Engine.MatchTopN <= 0 {
		c.Engine.MatchTopN = DefaultMatchTopN
	}
	if c.Engine.MatchCandidateLimit <= 0 {
		c.Engine.MatchCandidateLimit = DefaultMatchCandidateLimit
	}
	if c.Engine.RecencyWindowDays <= 0 {
		c.Engine.RecencyWindowDays = DefaultRecencyWindowDays
	}
	if c.Feed.DefaultLimit <= 0 {
		c.Feed.DefaultLimit = DefaultFeedLimit
	}
	if c.Feed.MaxLimit <= 0 {
		c.Feed.MaxLimit = MaxFeedLimit
	}
	if c.Feed.NextPoolCap <= 0 {
		c.Feed.NextPoolCap = NextSelectorPoolCap
	}
	if c.Feed.SoftBudgetMs <= 0 {
		c.Feed.SoftBudgetMs = int(FeedSoftBudget / time.Millisecond)
	}
	if c.Insights.TTLHours <= 0 {
		c.Insights.TTLHours = DefaultInsightTTLHours
	}
	if c.Insights.TokenEstimate <= 0 {
		c.Insights.TokenEstimate = DefaultInsightTokenEstimate
	}
	if c.Gateway.LLMTimeoutSeconds <= 0 {
		c.Gateway.LLMTimeoutSeconds = int(LLMRequestTimeout / time.Second)
	}
	if c.Gateway.TTSTimeoutSeconds <= 0 {
		c.Gateway.TTSTimeoutSeconds = int(TTSRequestTimeout / time.Second)
	}
	if c.Gateway.QuotaCooloffMinutes <= 0 {
		c.Gateway.QuotaCooloffMinutes = int(QuotaCooloffWindow / time.Minute)
	}
	if len(c.Gateway.TTSFallbackChain) == 0 {
		c.Gateway.TTSFallbackChain = []string{"elevenlabs", "google", "openai"}
	}
	if c.Podcast.CooldownHours <= 0 {
		c.Podcast.CooldownHours = DefaultPodcastCooldownHours
	}
	if c.Podcast.WordsPerMinute <= 0 {
		c.Podcast.WordsPerMinute = PodcastWordsPerMinute
	}
	if c.Podcast.MaxLanguages <= 0 {
		c.Podcast.MaxLanguages = PodcastMaxLanguages
	}
	if c.Podcast.LLMTier == "" {
		c.Podcast.LLMTier = "normal"
	}
	if c.Blobs.RootDir == "" {
		c.Blobs.RootDir = "data/blobs"
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		yamlTag = strings.Split(yamlTag, ",")[0]

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			if field.CanAddr() {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), fieldPrefix)
			}
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Interface(), fieldPrefix)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file with potential local overrides
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv("ZPORTA_CONFIG_FILE"); envPath != "" {
		return loadConfigFromFile(envPath)
	}
	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
