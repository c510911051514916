package models

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidItemKind(t *testing.T) {
	assert.True(t, ValidItemKind(KindQuiz))
	assert.True(t, ValidItemKind(KindQuestion))
	assert.True(t, ValidItemKind(KindLesson))
	assert.True(t, ValidItemKind(KindCourse))
	assert.False(t, ValidItemKind(ItemKind("playlist")))
}

func TestValidEventKind(t *testing.T) {
	assert.True(t, ValidEventKind(EventQuizAnswerSubmitted))
	assert.True(t, ValidEventKind(EventContentViewed))
	assert.False(t, ValidEventKind(EventKind("page_scrolled")))
}

func TestCategorizeDifficulty(t *testing.T) {
	tests := []struct {
		score float64
		want  DifficultyCategory
	}{
		{0, DifficultyBeginner},
		{319.9, DifficultyBeginner},
		{320, DifficultyBeginnerMedium},
		{419.9, DifficultyBeginnerMedium},
		{420, DifficultyMedium},
		{519.9, DifficultyMedium},
		{520, DifficultyMediumHard},
		{619.9, DifficultyMediumHard},
		{620, DifficultyHardExpert},
		{1000, DifficultyHardExpert},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategorizeDifficulty(tt.score), "score %v", tt.score)
	}
}

func TestUserAbilityProfile_WeakestSubject(t *testing.T) {
	p := &UserAbilityProfile{PerSubject: map[int]float64{
		3: 480,
		7: 390,
		9: 510,
	}}

	subject, ok := p.WeakestSubject()
	assert.True(t, ok)
	assert.Equal(t, 7, subject)

	empty := &UserAbilityProfile{}
	_, ok = empty.WeakestSubject()
	assert.False(t, ok)
}

func TestCachedAIInsight_Fresh(t *testing.T) {
	now := time.Now()
	fresh := &CachedAIInsight{ExpiresAt: now.Add(time.Hour)}
	stale := &CachedAIInsight{ExpiresAt: now.Add(-time.Minute)}

	assert.True(t, fresh.Fresh(now))
	assert.False(t, stale.Fresh(now))
}

func TestActivityEvent_MarshalJSON_AnonymousUser(t *testing.T) {
	e := ActivityEvent{
		ID:       42,
		Kind:     EventContentViewed,
		ItemKind: KindLesson,
		ObjectID: 7,
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out["user_id"])
	assert.Equal(t, "content_viewed", out["kind"])
}

func TestMemoryStat_MarshalJSON(t *testing.T) {
	reviewed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := MemoryStat{
		UserID:         1,
		ItemKind:       KindQuestion,
		ObjectID:       99,
		Easiness:       2.5,
		Repetitions:    1,
		IntervalDays:   1,
		LastReviewedAt: sql.NullTime{Time: reviewed, Valid: true},
		LastQuality:    sql.NullInt32{Int32: 5, Valid: true},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(5), out["last_quality"])
	assert.Nil(t, out["next_review_at"])
	assert.NotNil(t, out["last_reviewed_at"])
}

func TestPodcast_MarshalJSON(t *testing.T) {
	p := Podcast{
		ID:           3,
		UserID:       1,
		Category:     "daily_digest",
		Languages:    []string{"en", "fa"},
		OutputFormat: OutputBoth,
		Status:       PodcastStatusFailed,
		ErrorMessage: sql.NullString{String: "tts failed", Valid: true},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "tts failed", out["error_message"])
	assert.Nil(t, out["llm_provider"])
	assert.Equal(t, "failed", out["status"])
}

func TestItemRef(t *testing.T) {
	i := &Item{ID: 12, Kind: KindQuiz}
	assert.Equal(t, ItemRef{Kind: KindQuiz, ID: 12}, i.Ref())

	e := &ActivityEvent{ItemKind: KindLesson, ObjectID: 8}
	assert.Equal(t, ItemRef{Kind: KindLesson, ID: 8}, e.Ref())
}
