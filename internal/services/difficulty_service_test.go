package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"zporta/internal/models"
)

func TestComputeDifficultyScore_LowConfidenceBlendsTowardPrior(t *testing.T) {
	// one attempt barely moves the score off the 400 prior:
	// raw = 900 + 0.3*250 = 975, blended 1/30 toward it
	score := ComputeDifficultyScore(0, 60, 1)
	assert.InDelta(t, 975*(1.0/30)+400*(29.0/30), score, 0.0001)
}

func TestComputeDifficultyScore_FullConfidence(t *testing.T) {
	// 40% success, 20s average at 30+ attempts:
	// success = 400 + 60*5 = 700, time = (20-10)*5 = 50, raw = 715
	score := ComputeDifficultyScore(40, 20, 30)
	assert.InDelta(t, 715, score, 0.0001)
}

func TestComputeDifficultyScore_MidConfidence(t *testing.T) {
	// spec scenario: success 40%, avg time 20s, 10 attempts => [500, 600]
	score := ComputeDifficultyScore(40, 20, 10)
	assert.GreaterOrEqual(t, score, 500.0)
	assert.LessOrEqual(t, score, 600.0)
}

func TestComputeDifficultyScore_TimeCappedAtSixtySeconds(t *testing.T) {
	capped := ComputeDifficultyScore(50, 60, 30)
	over := ComputeDifficultyScore(50, 300, 30)
	assert.Equal(t, capped, over)
}

func TestComputeDifficultyScore_Clamped(t *testing.T) {
	assert.LessOrEqual(t, ComputeDifficultyScore(0, 60, 100), 1000.0)
	assert.GreaterOrEqual(t, ComputeDifficultyScore(100, 0, 100), 0.0)
}

func TestComputeDifficultyScore_EasyItemScoresLow(t *testing.T) {
	easy := ComputeDifficultyScore(95, 5, 50)
	hard := ComputeDifficultyScore(20, 45, 50)
	assert.Less(t, easy, hard)
	assert.Less(t, easy, 450.0)
	assert.Greater(t, hard, 620.0)
}

func TestDifficultyProfileCategory(t *testing.T) {
	p := &models.ContentDifficultyProfile{Score: 715}
	assert.Equal(t, models.DifficultyHardExpert, p.Category())

	p.Score = 300
	assert.Equal(t, models.DifficultyBeginner, p.Category())
}
