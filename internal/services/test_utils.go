package services

import (
	"zporta/internal/config"
)

// testConfig returns a config with the defaults unit tests rely on
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:       "8080",
			AppBaseURL: "https://app.zporta.test",
		},
		Engine: config.EngineConfig{
			DifficultyWindowDays:      config.DefaultDifficultyWindowDays,
			DifficultyMinAttempts:     config.DefaultDifficultyMinAttempts,
			AbilityWindowDays:         config.DefaultAbilityWindowDays,
			AbilityMinAttempts:        config.DefaultAbilityMinAttempts,
			AbilitySubjectMinAttempts: config.DefaultAbilitySubjectMinAttempts,
			EloKFactor:                config.DefaultEloKFactor,
			MatchTopN:                 config.DefaultMatchTopN,
			MatchCandidateLimit:       config.DefaultMatchCandidateLimit,
			RecencyWindowDays:         config.DefaultRecencyWindowDays,
		},
		Feed: config.FeedConfig{
			DefaultLimit: config.DefaultFeedLimit,
			MaxLimit:     config.MaxFeedLimit,
			NextPoolCap:  config.NextSelectorPoolCap,
		},
		Insights: config.InsightConfig{
			TTLHours:      config.DefaultInsightTTLHours,
			TokenEstimate: config.DefaultInsightTokenEstimate,
		},
		Gateway: config.GatewayConfig{
			TTSFallbackChain: []string{"elevenlabs", "google", "openai"},
		},
		Podcast: config.PodcastConfig{
			CooldownHours:  config.DefaultPodcastCooldownHours,
			WordsPerMinute: config.PodcastWordsPerMinute,
			MaxLanguages:   config.PodcastMaxLanguages,
			LLMTier:        "normal",
			ReplySizeWords: map[string]int{"short": 300, "medium": 600, "long": 1200},
		},
	}
}
