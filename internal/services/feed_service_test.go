package services

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"zporta/internal/models"
)

func TestScoreNextCandidate(t *testing.T) {
	item := &models.Item{
		SubjectID:        4,
		Tags:             []string{"verbs", "a1"},
		Languages:        []string{"it", "en"},
		DetectedLocation: sql.NullString{String: "IT", Valid: true},
	}
	pref := &models.UserPreference{
		SubjectIDs: []int64{4},
		Tags:       []string{"verbs"},
		Languages:  []string{"it"},
		Region:     sql.NullString{String: "IT", Valid: true},
	}

	// +2 region, +3 subject, +1 tag, +1 language
	assert.Equal(t, 7, ScoreNextCandidate(item, pref))
}

func TestScoreNextCandidate_NoPreference(t *testing.T) {
	assert.Equal(t, 0, ScoreNextCandidate(&models.Item{}, nil))
}

func TestScoreNextCandidate_PartialSignals(t *testing.T) {
	item := &models.Item{
		SubjectID: 9,
		Tags:      []string{"listening", "b2"},
		Languages: []string{"en"},
	}
	pref := &models.UserPreference{
		SubjectIDs: []int64{1},
		Tags:       []string{"listening", "b2", "c1"},
		Languages:  []string{"fa"},
	}

	// only the two tag matches count
	assert.Equal(t, 2, ScoreNextCandidate(item, pref))
}

func TestQualifyItemColumns(t *testing.T) {
	qualified := qualifyItemColumns("i")
	assert.Contains(t, qualified, "i.id")
	assert.Contains(t, qualified, "i.first_question_id")
	assert.NotContains(t, qualified, "i.\n")
}

func TestToNextItem(t *testing.T) {
	s := &FeedService{config: testConfig()}
	item := &models.Item{
		ID:                     5,
		Title:                  "Passato Prossimo",
		Permalink:              "/quizzes/passato-prossimo",
		FirstQuestionPermalink: sql.NullString{String: "/questions/42", Valid: true},
	}

	next := s.toNextItem(item)
	assert.Equal(t, 5, next.ItemID)
	assert.Equal(t, "/questions/42", next.FirstQuestionPermalink)
	assert.Equal(t, "https://app.zporta.test/questions/42", next.FirstQuestionURL)
}
