package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	LLMRequestTimeout     = 30 * time.Second
	TTSRequestTimeout     = 60 * time.Second
	WorkerShutdownTimeout = 30 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Worker timing
	WorkerHeartbeatInterval = 30 * time.Second
	WorkerCheckInterval     = 15 * time.Second

	// Feed endpoints return partial results past this budget
	FeedSoftBudget = 2 * time.Second

	// Providers reporting QuotaExceeded are skipped for this window
	QuotaCooloffWindow = 10 * time.Minute
)

// Spaced-repetition (SM-2) constants
const (
	InitialEasiness = 2.5
	MinEasiness     = 1.3
	// Answers faster than this count as "fast" for quality 5
	FastAnswerMs = 5000
)

// Batch estimator defaults
const (
	DefaultDifficultyWindowDays      = 90
	DefaultDifficultyMinAttempts     = 3
	DefaultAbilityWindowDays         = 90
	DefaultAbilityMinAttempts        = 5
	DefaultAbilitySubjectMinAttempts = 3
	DefaultEloKFactor                = 32.0
	EloBaseRating                    = 400.0
	DefaultMatchTopN                 = 100
	DefaultMatchCandidateLimit       = 1000
	DefaultRecencyWindowDays         = 7
)

// Feed constants
const (
	DefaultFeedLimit    = 20
	MaxFeedLimit        = 100
	NextSelectorPoolCap = 500
)

// Insight cache defaults
const (
	DefaultInsightTTLHours      = 24
	DefaultInsightTokenEstimate = 1500
)

// Podcast defaults
const (
	DefaultPodcastCooldownHours = 24
	DefaultPodcastWordTarget    = 600
	PodcastWordsPerMinute       = 150
	PodcastMaxLanguages         = 2
)
