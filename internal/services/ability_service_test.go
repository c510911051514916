package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
)

func correctAttempts(n int, difficulty float64) []Attempt {
	attempts := make([]Attempt, n)
	for i := range attempts {
		attempts[i] = Attempt{Difficulty: difficulty, Correct: true, At: time.Now()}
	}
	return attempts
}

func TestComputeEloRating_FirstCorrectStep(t *testing.T) {
	// rating 400 against difficulty 500: expected = 1/(1+10^0.25) ~ 0.36,
	// so one correct answer gains about 20.5 points
	rating := ComputeEloRating(correctAttempts(1, 500), config.DefaultEloKFactor)
	assert.InDelta(t, 420.5, rating, 0.5)
}

func TestComputeEloRating_StrictlyIncreasingOnCorrectAnswers(t *testing.T) {
	attempts := correctAttempts(3, 500)
	prev := config.EloBaseRating
	for i := 1; i <= len(attempts); i++ {
		rating := ComputeEloRating(attempts[:i], config.DefaultEloKFactor)
		assert.Greater(t, rating, prev)
		prev = rating
	}
}

func TestComputeEloRating_Symmetry(t *testing.T) {
	attempts := []Attempt{
		{Difficulty: 500, Correct: true},
		{Difficulty: 420, Correct: false},
		{Difficulty: 610, Correct: true},
	}
	a := ComputeEloRating(attempts, config.DefaultEloKFactor)
	b := ComputeEloRating(attempts, config.DefaultEloKFactor)
	assert.Equal(t, a, b)
}

func TestComputeEloRating_WrongAnswersLowerRating(t *testing.T) {
	attempts := []Attempt{
		{Difficulty: 400, Correct: false},
		{Difficulty: 400, Correct: false},
	}
	rating := ComputeEloRating(attempts, config.DefaultEloKFactor)
	assert.Less(t, rating, config.EloBaseRating)
}

func TestComputeTrend(t *testing.T) {
	// 10 attempts, first 7 wrong, last 3 correct: overall 30%, recent 100%
	var attempts []Attempt
	for i := 0; i < 7; i++ {
		attempts = append(attempts, Attempt{Correct: false})
	}
	for i := 0; i < 3; i++ {
		attempts = append(attempts, Attempt{Correct: true})
	}

	assert.InDelta(t, 70, ComputeTrend(attempts), 0.0001)
	assert.Equal(t, 0.0, ComputeTrend(nil))
}

func TestBuildAbilityProfile(t *testing.T) {
	attempts := []Attempt{
		{Difficulty: 500, Correct: true, SubjectID: 1},
		{Difficulty: 500, Correct: true, SubjectID: 1},
		{Difficulty: 500, Correct: false, SubjectID: 1},
		{Difficulty: 450, Correct: true, SubjectID: 2},
		{Difficulty: 450, Correct: false, SubjectID: 2},
	}

	profile := BuildAbilityProfile(7, attempts, config.DefaultEloKFactor, 3)

	assert.Equal(t, 7, profile.UserID)
	assert.Equal(t, 5, profile.TotalAttempts)
	assert.Equal(t, 3, profile.TotalCorrect)
	require.Contains(t, profile.PerSubject, 1)
	assert.NotContains(t, profile.PerSubject, 2) // below subject minimum
	assert.GreaterOrEqual(t, profile.Overall, 0.0)
	assert.LessOrEqual(t, profile.Overall, 1000.0)
}

func TestBuildAbilityProfile_LevelFromOverall(t *testing.T) {
	profile := BuildAbilityProfile(1, correctAttempts(20, 700), config.DefaultEloKFactor, 3)
	assert.Greater(t, profile.Overall, 400.0)
	assert.NotEmpty(t, profile.Level())
}
