// Package models defines data structures used throughout the learning engine.
package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// ItemKind identifies the variant of a learnable item
type ItemKind string

// Item kinds supported by the system
const (
	// KindQuiz represents a quiz container item
	KindQuiz ItemKind = "quiz"
	// KindQuestion represents a single question item
	KindQuestion ItemKind = "question"
	// KindLesson represents a lesson item
	KindLesson ItemKind = "lesson"
	// KindCourse represents a course item
	KindCourse ItemKind = "course"
)

// ValidItemKind reports whether k names a known item kind
func ValidItemKind(k ItemKind) bool {
	switch k {
	case KindQuiz, KindQuestion, KindLesson, KindCourse:
		return true
	}
	return false
}

// ItemRef is the stable (kind, id) tuple keying events and derived tables
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   int      `json:"id"`
}

// Visibility represents the publication state of an item
type Visibility string

const (
	// VisibilityDraft is for unpublished items
	VisibilityDraft Visibility = "draft"
	// VisibilityPublished is for published items
	VisibilityPublished Visibility = "published"
)

// Gating represents the free/premium access control of an item
type Gating string

const (
	// GatingFree marks freely accessible items
	GatingFree Gating = "free"
	// GatingPremium marks items requiring a premium plan
	GatingPremium Gating = "premium"
)

// Item is the polymorphic learnable object
type Item struct {
	ID       int      `json:"id" yaml:"id"`
	Kind     ItemKind `json:"kind" yaml:"kind"`
	Title    string   `json:"title" yaml:"title"`
	Permalink string  `json:"permalink" yaml:"permalink"`
	SubjectID int     `json:"subject_id" yaml:"subject_id"`
	Tags      pq.StringArray `json:"tags" yaml:"tags"`
	Languages pq.StringArray `json:"languages" yaml:"languages"`
	Visibility Visibility    `json:"visibility" yaml:"visibility"`
	Gating     Gating        `json:"gating" yaml:"gating"`
	// DetectedLocation is an ISO-3166 alpha-2 region code
	DetectedLocation sql.NullString `json:"detected_location" yaml:"detected_location"`
	// First question of a quiz, used by the next-item selector
	FirstQuestionID        sql.NullInt32  `json:"first_question_id" yaml:"first_question_id"`
	FirstQuestionPermalink sql.NullString `json:"first_question_permalink" yaml:"first_question_permalink"`
	// Denormalized difficulty fields for cheap reads
	DifficultyScore sql.NullFloat64 `json:"difficulty_score" yaml:"difficulty_score"`
	SuccessRate     sql.NullFloat64 `json:"success_rate" yaml:"success_rate"`
	AvgTimeSeconds  sql.NullFloat64 `json:"avg_time_seconds" yaml:"avg_time_seconds"`
	AttemptCount    int             `json:"attempt_count" yaml:"attempt_count"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
}

// Ref returns the stable (kind, id) reference for the item
func (i *Item) Ref() ItemRef {
	return ItemRef{Kind: i.Kind, ID: i.ID}
}

// EventKind identifies the type of an activity event
type EventKind string

// Event kinds recorded by the ingestor
const (
	EventContentViewed          EventKind = "content_viewed"
	EventContentInteractionTime EventKind = "content_interaction_time"
	EventQuizStarted            EventKind = "quiz_started"
	EventQuizAnswerSubmitted    EventKind = "quiz_answer_submitted"
	EventQuizCompleted          EventKind = "quiz_completed"
	EventLessonClicked          EventKind = "lesson_clicked"
	EventLessonCompleted        EventKind = "lesson_completed"
)

// ValidEventKind reports whether k names a known event kind
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventContentViewed, EventContentInteractionTime, EventQuizStarted,
		EventQuizAnswerSubmitted, EventQuizCompleted, EventLessonClicked,
		EventLessonCompleted:
		return true
	}
	return false
}

// ActivityEvent is an immutable activity record. Metadata is always a JSON
// object or nil, never a scalar or list.
type ActivityEvent struct {
	ID         int64                  `json:"id" yaml:"id"`
	UserID     sql.NullInt32          `json:"user_id" yaml:"user_id"` // null for anonymous
	Kind       EventKind              `json:"kind" yaml:"kind"`
	ItemKind   ItemKind               `json:"item_kind" yaml:"item_kind"`
	ObjectID   int                    `json:"object_id" yaml:"object_id"`
	OccurredAt time.Time              `json:"occurred_at" yaml:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata" yaml:"metadata"`
}

// MarshalJSON customizes JSON marshaling for ActivityEvent to render null users cleanly
func (e ActivityEvent) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID         int64                  `json:"id"`
		UserID     *int32                 `json:"user_id"`
		Kind       EventKind              `json:"kind"`
		ItemKind   ItemKind               `json:"item_kind"`
		ObjectID   int                    `json:"object_id"`
		OccurredAt time.Time              `json:"occurred_at"`
		Metadata   map[string]interface{} `json:"metadata"`
	}{
		ID:         e.ID,
		UserID:     nullInt32ToPointer(e.UserID),
		Kind:       e.Kind,
		ItemKind:   e.ItemKind,
		ObjectID:   e.ObjectID,
		OccurredAt: e.OccurredAt,
		Metadata:   e.Metadata,
	})
}

// Ref returns the item reference the event targets
func (e *ActivityEvent) Ref() ItemRef {
	return ItemRef{Kind: e.ItemKind, ID: e.ObjectID}
}

// AnswerMetadata is the parsed metadata payload of a quiz_answer_submitted event
type AnswerMetadata struct {
	QuizID          int   `json:"quiz_id"`
	QuestionID      int   `json:"question_id"`
	IsCorrect       bool  `json:"is_correct"`
	TimeSpentMs     int   `json:"time_spent_ms"`
	QualityOfRecall *int  `json:"quality_of_recall,omitempty"`
}

// MemoryStat is the SM-2 state for a (user, item) pair
type MemoryStat struct {
	UserID          int             `json:"user_id" yaml:"user_id"`
	ItemKind        ItemKind        `json:"item_kind" yaml:"item_kind"`
	ObjectID        int             `json:"object_id" yaml:"object_id"`
	Easiness        float64         `json:"easiness" yaml:"easiness"`
	Repetitions     int             `json:"repetitions" yaml:"repetitions"`
	IntervalDays    float64         `json:"interval_days" yaml:"interval_days"`
	LastReviewedAt  sql.NullTime    `json:"last_reviewed_at" yaml:"last_reviewed_at"`
	NextReviewAt    sql.NullTime    `json:"next_review_at" yaml:"next_review_at"`
	LastQuality     sql.NullInt32   `json:"last_quality" yaml:"last_quality"`
	LastTimeSpentMs sql.NullInt32   `json:"last_time_spent_ms" yaml:"last_time_spent_ms"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated_at"`
}

// MarshalJSON customizes JSON marshaling for MemoryStat to handle sql.Null types properly
func (m MemoryStat) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		UserID          int        `json:"user_id"`
		ItemKind        ItemKind   `json:"item_kind"`
		ObjectID        int        `json:"object_id"`
		Easiness        float64    `json:"easiness"`
		Repetitions     int        `json:"repetitions"`
		IntervalDays    float64    `json:"interval_days"`
		LastReviewedAt  *time.Time `json:"last_reviewed_at"`
		NextReviewAt    *time.Time `json:"next_review_at"`
		LastQuality     *int32     `json:"last_quality"`
		LastTimeSpentMs *int32     `json:"last_time_spent_ms"`
		UpdatedAt       time.Time  `json:"updated_at"`
	}{
		UserID:          m.UserID,
		ItemKind:        m.ItemKind,
		ObjectID:        m.ObjectID,
		Easiness:        m.Easiness,
		Repetitions:     m.Repetitions,
		IntervalDays:    m.IntervalDays,
		LastReviewedAt:  nullTimeToPointer(m.LastReviewedAt),
		NextReviewAt:    nullTimeToPointer(m.NextReviewAt),
		LastQuality:     nullInt32ToPointer(m.LastQuality),
		LastTimeSpentMs: nullInt32ToPointer(m.LastTimeSpentMs),
		UpdatedAt:       m.UpdatedAt,
	})
}

// DifficultyCategory is the human-facing difficulty band of an item
type DifficultyCategory string

// Difficulty bands used by feeds and the UI
const (
	DifficultyBeginner       DifficultyCategory = "Beginner"
	DifficultyBeginnerMedium DifficultyCategory = "Beginner-Medium"
	DifficultyMedium         DifficultyCategory = "Medium"
	DifficultyMediumHard     DifficultyCategory = "Medium-Hard"
	DifficultyHardExpert     DifficultyCategory = "Hard-Expert"
)

// CategorizeDifficulty maps a difficulty score to its band
func CategorizeDifficulty(score float64) DifficultyCategory {
	switch {
	case score < 320:
		return DifficultyBeginner
	case score < 420:
		return DifficultyBeginnerMedium
	case score < 520:
		return DifficultyMedium
	case score < 620:
		return DifficultyMediumHard
	default:
		return DifficultyHardExpert
	}
}

// ContentDifficultyProfile is the empirically measured difficulty of an item
type ContentDifficultyProfile struct {
	ItemKind       ItemKind  `json:"item_kind" yaml:"item_kind"`
	ObjectID       int       `json:"object_id" yaml:"object_id"`
	Score          float64   `json:"score" yaml:"score"` // 0..1000
	SuccessRate    float64   `json:"success_rate" yaml:"success_rate"`
	AvgTimeSeconds float64   `json:"avg_time_seconds" yaml:"avg_time_seconds"`
	AttemptCount   int       `json:"attempt_count" yaml:"attempt_count"`
	LastComputed   time.Time `json:"last_computed" yaml:"last_computed"`
}

// Category returns the difficulty band for the profile's score
func (p *ContentDifficultyProfile) Category() DifficultyCategory {
	return CategorizeDifficulty(p.Score)
}

// UserAbilityProfile is the ELO-style rating of a user
type UserAbilityProfile struct {
	UserID        int                `json:"user_id" yaml:"user_id"`
	Overall       float64            `json:"overall" yaml:"overall"` // 0..1000
	PerSubject    map[int]float64    `json:"per_subject" yaml:"per_subject"`
	TotalAttempts int                `json:"total_attempts" yaml:"total_attempts"`
	TotalCorrect  int                `json:"total_correct" yaml:"total_correct"`
	RecentTrend   float64            `json:"recent_trend" yaml:"recent_trend"` // percentage points
	GlobalRank    int                `json:"global_rank" yaml:"global_rank"`
	Percentile    float64            `json:"percentile" yaml:"percentile"`
	LastComputed  time.Time          `json:"last_computed" yaml:"last_computed"`
}

// Level maps the overall score to a difficulty band name for prompts and UI
func (p *UserAbilityProfile) Level() string {
	return string(CategorizeDifficulty(p.Overall))
}

// WeakestSubject returns the subject with the lowest per-subject rating,
// or (0, false) when no per-subject rating exists.
func (p *UserAbilityProfile) WeakestSubject() (int, bool) {
	found := false
	weakest := 0
	low := 0.0
	for subject, score := range p.PerSubject {
		if !found || score < low || (score == low && subject < weakest) {
			weakest, low, found = subject, score, true
		}
	}
	return weakest, found
}

// Match-score why-tags
const (
	WhyOptimalDifficulty = "optimal_difficulty"
	WhyMatchesInterests  = "matches_interests"
	WhyChallenge         = "challenge"
	WhyConfidenceBuilder = "confidence_builder"
)

// MatchScore is a precomputed per-user per-item ranking value
type MatchScore struct {
	UserID              int            `json:"user_id" yaml:"user_id"`
	ItemKind            ItemKind       `json:"item_kind" yaml:"item_kind"`
	ObjectID            int            `json:"object_id" yaml:"object_id"`
	Match               float64        `json:"match" yaml:"match"` // 0..100
	DifficultyGap       float64        `json:"difficulty_gap" yaml:"difficulty_gap"`
	ZPDScore            float64        `json:"zpd_score" yaml:"zpd_score"`
	PreferenceAlignment float64        `json:"preference_alignment" yaml:"preference_alignment"`
	RecencyPenalty      float64        `json:"recency_penalty" yaml:"recency_penalty"`
	WhyTags             pq.StringArray `json:"why_tags" yaml:"why_tags"`
	ComputedAt          time.Time      `json:"computed_at" yaml:"computed_at"`
}

// CachedAIInsight is one row of the keyed LLM-analysis cache.
// SubjectTag is "" for all-subject insights.
type CachedAIInsight struct {
	ID          int             `json:"id" yaml:"id"`
	UserID      int             `json:"user_id" yaml:"user_id"`
	SubjectTag  string          `json:"subject_tag" yaml:"subject_tag"`
	Engine      string          `json:"engine" yaml:"engine"`
	Payload     json.RawMessage `json:"payload" yaml:"payload"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at" yaml:"expires_at"`
	Hits        int             `json:"hits" yaml:"hits"`
	TokensUsed  int             `json:"tokens_used" yaml:"tokens_used"`
	TokensSaved int             `json:"tokens_saved" yaml:"tokens_saved"`
}

// Fresh reports whether the cached insight is still valid at the given time
func (c *CachedAIInsight) Fresh(now time.Time) bool {
	return c.ExpiresAt.After(now)
}

// CacheStatistics aggregates cache counters and cost for one day
type CacheStatistics struct {
	Day            time.Time `json:"day" yaml:"day"`
	Hits           int       `json:"hits" yaml:"hits"`
	Misses         int       `json:"misses" yaml:"misses"`
	Generations    int       `json:"generations" yaml:"generations"`
	TokensUsed     int64     `json:"tokens_used" yaml:"tokens_used"`
	TokensSaved    int64     `json:"tokens_saved" yaml:"tokens_saved"`
	CostCents      float64   `json:"cost_cents" yaml:"cost_cents"`
	CostSavedCents float64   `json:"cost_saved_cents" yaml:"cost_saved_cents"`
}

// PodcastStatus represents the lifecycle state of a podcast generation
type PodcastStatus string

const (
	// PodcastStatusPending marks a podcast whose pipeline has not finished
	PodcastStatusPending PodcastStatus = "pending"
	// PodcastStatusCompleted marks a fully generated podcast
	PodcastStatusCompleted PodcastStatus = "completed"
	// PodcastStatusFailed marks a podcast whose pipeline raised an error
	PodcastStatusFailed PodcastStatus = "failed"
)

// OutputFormat selects which artifacts a podcast generation produces
type OutputFormat string

const (
	// OutputText produces only a script
	OutputText OutputFormat = "text"
	// OutputAudio produces only audio
	OutputAudio OutputFormat = "audio"
	// OutputBoth produces script and audio
	OutputBoth OutputFormat = "both"
)

// Podcast is one generated daily-podcast artifact for a user
type Podcast struct {
	ID              int            `json:"id" yaml:"id"`
	UserID          int            `json:"user_id" yaml:"user_id"`
	Category        string         `json:"category" yaml:"category"`
	Languages       pq.StringArray `json:"languages" yaml:"languages"`
	OutputFormat    OutputFormat   `json:"output_format" yaml:"output_format"`
	Script          string         `json:"script" yaml:"script"`
	AudioBlobs      pq.StringArray `json:"audio_blobs" yaml:"audio_blobs"`
	Status          PodcastStatus  `json:"status" yaml:"status"`
	LLMProvider     sql.NullString `json:"llm_provider" yaml:"llm_provider"`
	TTSProvider     sql.NullString `json:"tts_provider" yaml:"tts_provider"`
	DurationSeconds int            `json:"duration_seconds" yaml:"duration_seconds"`
	ErrorMessage    sql.NullString `json:"error_message" yaml:"error_message"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
}

// MarshalJSON customizes JSON marshaling for Podcast to handle sql.Null types properly
func (p Podcast) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID              int           `json:"id"`
		UserID          int           `json:"user_id"`
		Category        string        `json:"category"`
		Languages       []string      `json:"languages"`
		OutputFormat    OutputFormat  `json:"output_format"`
		Script          string        `json:"script"`
		AudioBlobs      []string      `json:"audio_blobs"`
		Status          PodcastStatus `json:"status"`
		LLMProvider     *string       `json:"llm_provider"`
		TTSProvider     *string       `json:"tts_provider"`
		DurationSeconds int           `json:"duration_seconds"`
		ErrorMessage    *string       `json:"error_message"`
		CreatedAt       time.Time     `json:"created_at"`
	}{
		ID:              p.ID,
		UserID:          p.UserID,
		Category:        p.Category,
		Languages:       p.Languages,
		OutputFormat:    p.OutputFormat,
		Script:          p.Script,
		AudioBlobs:      p.AudioBlobs,
		Status:          p.Status,
		LLMProvider:     nullStringToPointer(p.LLMProvider),
		TTSProvider:     nullStringToPointer(p.TTSProvider),
		DurationSeconds: p.DurationSeconds,
		ErrorMessage:    nullStringToPointer(p.ErrorMessage),
		CreatedAt:       p.CreatedAt,
	})
}

// Role represents what a user does on the platform
type Role string

const (
	// RoleExplorer is a learner
	RoleExplorer Role = "explorer"
	// RoleGuide is a teacher
	RoleGuide Role = "guide"
	// RoleBoth is a user who both learns and teaches
	RoleBoth Role = "both"
)

// User represents a user in the system
type User struct {
	ID        int            `json:"id" yaml:"id"`
	Username  string         `json:"username" yaml:"username"`
	Email     sql.NullString `json:"email" yaml:"email"`
	Role      Role           `json:"role" yaml:"role"`
	Timezone  sql.NullString `json:"timezone" yaml:"timezone"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// MarshalJSON customizes JSON marshaling for User to handle sql.Null types properly
func (u User) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID        int       `json:"id"`
		Username  string    `json:"username"`
		Email     *string   `json:"email"`
		Role      Role      `json:"role"`
		Timezone  *string   `json:"timezone"`
		CreatedAt time.Time `json:"created_at"`
	}{
		ID:        u.ID,
		Username:  u.Username,
		Email:     nullStringToPointer(u.Email),
		Role:      u.Role,
		Timezone:  nullStringToPointer(u.Timezone),
		CreatedAt: u.CreatedAt,
	})
}

// UserPreference holds a user's feed and notification preferences
type UserPreference struct {
	UserID     int            `json:"user_id" yaml:"user_id"`
	SubjectIDs pq.Int64Array  `json:"subject_ids" yaml:"subject_ids"`
	Tags       pq.StringArray `json:"tags" yaml:"tags"`
	Languages  pq.StringArray `json:"languages" yaml:"languages"`
	// Region is an ISO-3166 alpha-2 code
	Region        sql.NullString `json:"region" yaml:"region"`
	Timezone      sql.NullString `json:"timezone" yaml:"timezone"`
	OptInPodcasts bool           `json:"opt_in_podcasts" yaml:"opt_in_podcasts"`
	OptInMail     bool           `json:"opt_in_mail" yaml:"opt_in_mail"`
}

// WorkerStatus tracks the engine worker's state and run bookkeeping
type WorkerStatus struct {
	ID               int            `json:"id" yaml:"id"`
	WorkerInstance   string         `json:"worker_instance" yaml:"worker_instance"`
	IsRunning        bool           `json:"is_running" yaml:"is_running"`
	IsPaused         bool           `json:"is_paused" yaml:"is_paused"`
	CurrentActivity  sql.NullString `json:"current_activity" yaml:"current_activity"`
	LastHeartbeat    sql.NullTime   `json:"last_heartbeat" yaml:"last_heartbeat"`
	LastRunStart     sql.NullTime   `json:"last_run_start" yaml:"last_run_start"`
	LastRunFinish    sql.NullTime   `json:"last_run_finish" yaml:"last_run_finish"`
	LastRunError     sql.NullString `json:"last_run_error" yaml:"last_run_error"`
	TotalRowsWritten int            `json:"total_rows_written" yaml:"total_rows_written"`
	TotalRuns        int            `json:"total_runs" yaml:"total_runs"`
	CreatedAt        time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"updated_at"`
}

// MarshalJSON customizes JSON marshaling for WorkerStatus to handle sql.Null types properly
func (w WorkerStatus) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID               int        `json:"id"`
		WorkerInstance   string     `json:"worker_instance"`
		IsRunning        bool       `json:"is_running"`
		IsPaused         bool       `json:"is_paused"`
		CurrentActivity  *string    `json:"current_activity"`
		LastHeartbeat    *time.Time `json:"last_heartbeat"`
		LastRunStart     *time.Time `json:"last_run_start"`
		LastRunFinish    *time.Time `json:"last_run_finish"`
		LastRunError     *string    `json:"last_run_error"`
		TotalRowsWritten int        `json:"total_rows_written"`
		TotalRuns        int        `json:"total_runs"`
		CreatedAt        time.Time  `json:"created_at"`
		UpdatedAt        time.Time  `json:"updated_at"`
	}{
		ID:               w.ID,
		WorkerInstance:   w.WorkerInstance,
		IsRunning:        w.IsRunning,
		IsPaused:         w.IsPaused,
		CurrentActivity:  nullStringToPointer(w.CurrentActivity),
		LastHeartbeat:    nullTimeToPointer(w.LastHeartbeat),
		LastRunStart:     nullTimeToPointer(w.LastRunStart),
		LastRunFinish:    nullTimeToPointer(w.LastRunFinish),
		LastRunError:     nullStringToPointer(w.LastRunError),
		TotalRowsWritten: w.TotalRowsWritten,
		TotalRuns:        w.TotalRuns,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	})
}

// WorkerRun is one recorded batch-job execution
type WorkerRun struct {
	ID           int            `json:"id" yaml:"id"`
	JobName      string         `json:"job_name" yaml:"job_name"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt   sql.NullTime   `json:"finished_at" yaml:"finished_at"`
	Status       string         `json:"status" yaml:"status"`
	RowsWritten  int            `json:"rows_written" yaml:"rows_written"`
	ErrorMessage sql.NullString `json:"error_message" yaml:"error_message"`
}

// MarshalJSON customizes JSON marshaling for WorkerRun to handle sql.Null types properly
func (r WorkerRun) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID           int        `json:"id"`
		JobName      string     `json:"job_name"`
		StartedAt    time.Time  `json:"started_at"`
		FinishedAt   *time.Time `json:"finished_at"`
		Status       string     `json:"status"`
		RowsWritten  int        `json:"rows_written"`
		ErrorMessage *string    `json:"error_message"`
	}{
		ID:           r.ID,
		JobName:      r.JobName,
		StartedAt:    r.StartedAt,
		FinishedAt:   nullTimeToPointer(r.FinishedAt),
		Status:       r.Status,
		RowsWritten:  r.RowsWritten,
		ErrorMessage: nullStringToPointer(r.ErrorMessage),
	})
}

// Helper functions for converting sql.Null types to pointers
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullInt32ToPointer(ni sql.NullInt32) *int32 {
	if ni.Valid {
		return &ni.Int32
	}
	return nil
}
