package services

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/models"
	contextutils "zporta/internal/utils"
)

func newStat() *models.MemoryStat {
	return &models.MemoryStat{
		UserID:       1,
		ItemKind:     models.KindQuestion,
		ObjectID:     10,
		Easiness:     config.InitialEasiness,
		Repetitions:  0,
		IntervalDays: 0,
	}
}

func TestQualityForAnswer(t *testing.T) {
	recall := 1
	tests := []struct {
		name   string
		answer models.AnswerMetadata
		want   int
	}{
		{"correct and fast", models.AnswerMetadata{IsCorrect: true, TimeSpentMs: 2000}, 5},
		{"correct but slow", models.AnswerMetadata{IsCorrect: true, TimeSpentMs: 9000}, 4},
		{"correct without timing", models.AnswerMetadata{IsCorrect: true}, 4},
		{"wrong with recall signal", models.AnswerMetadata{IsCorrect: false, QualityOfRecall: &recall}, 2},
		{"wrong", models.AnswerMetadata{IsCorrect: false}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityForAnswer(&tt.answer))
		})
	}
}

func TestApplySM2_FirstCorrectFastAnswer(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next := ApplySM2(newStat(), 5, at)

	assert.Equal(t, 1, next.Repetitions)
	assert.Equal(t, 1.0, next.IntervalDays)
	assert.InDelta(t, 2.6, next.Easiness, 0.0001)
	require.True(t, next.NextReviewAt.Valid)
	assert.Equal(t, at.Add(24*time.Hour), next.NextReviewAt.Time)
}

func TestApplySM2_SecondCorrectAnswer(t *testing.T) {
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	prev := newStat()
	prev.Repetitions = 1
	prev.IntervalDays = 1
	prev.Easiness = 2.6

	next := ApplySM2(prev, 4, at)

	assert.Equal(t, 2, next.Repetitions)
	assert.Equal(t, 6.0, next.IntervalDays)
	require.True(t, next.NextReviewAt.Valid)
	assert.Equal(t, at.Add(6*24*time.Hour), next.NextReviewAt.Time)
}

func TestApplySM2_ThirdRepetitionUsesEasiness(t *testing.T) {
	prev := newStat()
	prev.Repetitions = 2
	prev.IntervalDays = 6
	prev.Easiness = 2.5

	next := ApplySM2(prev, 4, time.Now())

	assert.Equal(t, 3, next.Repetitions)
	assert.InDelta(t, 15.0, next.IntervalDays, 0.0001)
}

func TestApplySM2_WrongAnswerResetsRegardlessOfPriorState(t *testing.T) {
	prev := newStat()
	prev.Repetitions = 7
	prev.IntervalDays = 120
	prev.Easiness = 2.8

	next := ApplySM2(prev, 0, time.Now())

	assert.Equal(t, 0, next.Repetitions)
	assert.Equal(t, 1.0, next.IntervalDays)
	assert.InDelta(t, 2.0, next.Easiness, 0.0001)
}

func TestApplySM2_EasinessNeverBelowFloor(t *testing.T) {
	prev := newStat()
	prev.Easiness = config.MinEasiness

	next := ApplySM2(prev, 0, time.Now())

	assert.Equal(t, config.MinEasiness, next.Easiness)
}

func TestApplySM2_QualityFiveRaisesEasiness(t *testing.T) {
	prev := newStat()
	prev.Easiness = 2.0

	next := ApplySM2(prev, 5, time.Now())

	assert.InDelta(t, 2.1, next.Easiness, 0.0001)
}

func TestApplySM2_LastQualityRecorded(t *testing.T) {
	next := ApplySM2(newStat(), 4, time.Now())

	require.True(t, next.LastQuality.Valid)
	assert.Equal(t, int32(4), next.LastQuality.Int32)
	assert.True(t, next.LastReviewedAt.Valid)
}

func TestApplySM2_ScenarioSequence(t *testing.T) {
	// correct fast, correct next day, then wrong
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s1 := ApplySM2(newStat(), 5, t0)
	assert.Equal(t, 1, s1.Repetitions)
	assert.Equal(t, 1.0, s1.IntervalDays)
	assert.InDelta(t, 2.6, s1.Easiness, 0.0001)

	s2 := ApplySM2(s1, 4, t0.Add(24*time.Hour))
	assert.Equal(t, 2, s2.Repetitions)
	assert.Equal(t, 6.0, s2.IntervalDays)

	s3 := ApplySM2(s2, 0, t0.Add(48*time.Hour))
	assert.Equal(t, 0, s3.Repetitions)
	assert.Equal(t, 1.0, s3.IntervalDays)
	assert.InDelta(t, s2.Easiness-0.8, s3.Easiness, 0.0001)
	assert.GreaterOrEqual(t, s3.Easiness, config.MinEasiness)
}

func TestClassifyConcurrencyError(t *testing.T) {
	serialization := errors.New("pq: could not serialize access due to concurrent update")
	assert.Equal(t, contextutils.ErrorCodeConcurrentUpdate, contextutils.GetErrorCode(classifyConcurrencyError(serialization, "ctx")))

	plain := sql.ErrConnDone
	assert.NotEqual(t, contextutils.ErrorCodeConcurrentUpdate, contextutils.GetErrorCode(classifyConcurrencyError(plain, "ctx")))
}
