package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/models"
)

func TestTemplateScript_InterpolatesStats(t *testing.T) {
	snapshot := &LearnerSnapshot{
		HasAbility:       true,
		AbilityScore:     612,
		Level:            "Medium-Hard",
		Accuracy:         78,
		RecentQuizTitle:  "Photosynthesis Basics",
		EnrolledCourses:  3,
		LessonsCompleted: 12,
		NotesCount:       5,
	}

	script := TemplateScript(snapshot, true)

	assert.Contains(t, script, "Medium-Hard")
	assert.Contains(t, script, "612")
	assert.Contains(t, script, "78%")
	assert.Contains(t, script, `"Photosynthesis Basics"`)
	assert.Contains(t, script, "3 courses")
	assert.Contains(t, script, "12 lessons")
	assert.Contains(t, script, "5 notes")
	assert.Len(t, ExtractQuestions(script), 2)
}

func TestTemplateScript_NoAbilityProfile(t *testing.T) {
	script := TemplateScript(&LearnerSnapshot{Level: "mixed"}, false)

	assert.Contains(t, script, "mix of topics")
	assert.Empty(t, ExtractQuestions(script))
}

func TestExtractQuestions(t *testing.T) {
	script := "Intro line.\n\nQ: What was hard?\nSome narration.\nQ: How long today?\nQ:\n"

	questions := ExtractQuestions(script)

	require.Len(t, questions, 2)
	assert.Equal(t, "What was hard?", questions[0])
	assert.Equal(t, "How long today?", questions[1])
}

func TestEstimateDuration(t *testing.T) {
	service := &PodcastService{config: testConfig()}

	// 300 words at 150 wpm is two minutes
	script := strings.Repeat("word ", 300)
	assert.Equal(t, 120, service.estimateDuration(script))
	assert.Equal(t, 0, service.estimateDuration(""))
}

func TestBuildAccuracyReport_CleanScript(t *testing.T) {
	snapshot := &LearnerSnapshot{
		HasAbility:      true,
		Level:           "Medium",
		RecentQuizTitle: "Fractions",
	}
	podcast := &models.Podcast{
		Script:       "Your level is Medium. Great job on Fractions.\nQ: Ready for more?\n",
		OutputFormat: models.OutputText,
	}

	report := BuildAccuracyReport(podcast, snapshot, true)

	assert.Equal(t, 100, report.AccuracyScore)
	assert.Equal(t, "publish", report.Recommendation)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Warnings)
	assert.True(t, report.ContentChecks["mentions_level"])
	assert.True(t, report.ContentChecks["mentions_recent_quiz"])
	assert.True(t, report.ContentChecks["has_qa_section"])
}

func TestBuildAccuracyReport_MissingQAIsAnIssue(t *testing.T) {
	snapshot := &LearnerSnapshot{Level: "Medium"}
	podcast := &models.Podcast{
		Script:       "Your level is Medium today.",
		OutputFormat: models.OutputText,
	}

	report := BuildAccuracyReport(podcast, snapshot, true)

	assert.Equal(t, "regenerate", report.Recommendation)
	assert.Contains(t, report.Issues, "script is missing the Q&A section")
	assert.Equal(t, 60, report.AccuracyScore)
}

func TestBuildAccuracyReport_AudioRequestedButMissing(t *testing.T) {
	snapshot := &LearnerSnapshot{Level: "Medium"}
	podcast := &models.Podcast{
		Script:       "Your level is Medium.\nQ: Keep going?\n",
		OutputFormat: models.OutputBoth,
	}

	report := BuildAccuracyReport(podcast, snapshot, false)

	assert.Equal(t, "review", report.Recommendation)
	assert.Contains(t, report.Warnings, "audio was requested but none is attached")
	assert.False(t, report.ContentChecks["has_audio"])
}

func TestBuildAccuracyReport_EmptyScript(t *testing.T) {
	report := BuildAccuracyReport(&models.Podcast{OutputFormat: models.OutputText}, &LearnerSnapshot{}, false)

	assert.Equal(t, "regenerate", report.Recommendation)
	assert.Contains(t, report.Issues, "script is empty")
}
