package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"zporta/internal/models"
)

func TestZPDScore(t *testing.T) {
	tests := []struct {
		gap  float64
		want float64
	}{
		{0, 1.0},
		{50, 1.0},
		{-50, 1.0},
		{150, 0.55},
		{-150, 0.55},
		{250, 0.1},
		{400, 0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ZPDScore(tt.gap), 0.0001, "gap %v", tt.gap)
	}
}

func TestZPDScore_PeaksAtZeroGap(t *testing.T) {
	peak := ZPDScore(0)
	for _, gap := range []float64{-240, -120, -60, 60, 120, 240} {
		assert.LessOrEqual(t, ZPDScore(gap), peak)
	}
}

func TestPreferenceAlignment(t *testing.T) {
	item := &models.Item{
		SubjectID: 3,
		Tags:      []string{"grammar", "verbs"},
		Languages: []string{"en", "it"},
	}

	pref := &models.UserPreference{
		SubjectIDs: []int64{3, 9},
		Tags:       []string{"grammar", "listening"},
		Languages:  []string{"it"},
	}

	// 0.4 subject + 0.3*(1/2) tag overlap + 0.3 language = 0.85
	assert.InDelta(t, 0.85, PreferenceAlignment(item, pref), 0.0001)
}

func TestPreferenceAlignment_CappedAtOne(t *testing.T) {
	item := &models.Item{
		SubjectID: 1,
		Tags:      []string{"a", "b", "c"},
		Languages: []string{"en"},
	}
	pref := &models.UserPreference{
		SubjectIDs: []int64{1},
		Tags:       []string{"a", "b", "c"},
		Languages:  []string{"en"},
	}

	assert.Equal(t, 1.0, PreferenceAlignment(item, pref))
}

func TestPreferenceAlignment_NilPreference(t *testing.T) {
	assert.Equal(t, 0.0, PreferenceAlignment(&models.Item{}, nil))
}

func TestRecencyPenalty(t *testing.T) {
	assert.InDelta(t, 1.0, RecencyPenalty(0, 7), 0.0001)
	assert.InDelta(t, 0.5, RecencyPenalty(3.5, 7), 0.0001)
	assert.Equal(t, 0.0, RecencyPenalty(7, 7))
	assert.Equal(t, 0.0, RecencyPenalty(30, 7))
}

func TestMatchValue(t *testing.T) {
	// perfect components give 100
	assert.InDelta(t, 100, MatchValue(1, 1, 0), 0.0001)
	// zpd alone contributes half
	assert.InDelta(t, 70, MatchValue(1, 0, 0), 0.0001)
	// full recency removes the 20-point freshness share
	assert.InDelta(t, 80, MatchValue(1, 1, 1), 0.0001)
}

func TestWhyTags(t *testing.T) {
	tags := WhyTags(10, 0.6)
	assert.Contains(t, tags, models.WhyOptimalDifficulty)
	assert.Contains(t, tags, models.WhyMatchesInterests)
	assert.NotContains(t, tags, models.WhyChallenge)

	assert.Contains(t, WhyTags(120, 0), models.WhyChallenge)
	assert.Contains(t, WhyTags(-120, 0), models.WhyConfidenceBuilder)
}
