package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// PodcastRequest describes one generation request
type PodcastRequest struct {
	Category     string              `json:"category"`
	Languages    []string            `json:"languages"`
	OutputFormat models.OutputFormat `json:"output_format"`
	ReplySize    string              `json:"reply_size"`
}

// LearnerSnapshot is the stats bundle a podcast script is built from
type LearnerSnapshot struct {
	AbilityScore     float64
	Level            string
	WeakestSubject   int
	RecentQuizTitle  string
	EnrolledCourses  int
	NotesCount       int
	LessonsCompleted int
	Accuracy         float64
	HasAbility       bool
}

// AccuracyReport is the result of cross-checking a script against the
// learner's stats
type AccuracyReport struct {
	AccuracyScore  int               `json:"accuracy_score"`
	Issues         []string          `json:"issues"`
	Warnings       []string          `json:"warnings"`
	ContentChecks  map[string]bool   `json:"content_checks"`
	Recommendation string            `json:"recommendation"`
}

// PodcastServiceInterface defines the interface for podcast orchestration
type PodcastServiceInterface interface {
	// Generate runs the stats -> LLM -> TTS pipeline for one user
	Generate(ctx context.Context, userID int, req *PodcastRequest) (*models.Podcast, error)
	// GetPodcast returns one of the user's podcasts
	GetPodcast(ctx context.Context, podcastID, userID int) (*models.Podcast, error)
	// AccuracyCheck cross-checks a stored script against the learner's stats
	AccuracyCheck(ctx context.Context, podcastID, userID int) (*AccuracyReport, error)
	// SubmitAnswers validates answers against the script's Q&A questions
	SubmitAnswers(ctx context.Context, podcastID, userID int, answers map[string]string) error
}

// PodcastService composes daily podcasts: collect stats, generate a script,
// synthesize audio per language, and persist the artifact. A cooldown limits
// how often a user can trigger the pipeline.
type PodcastService struct {
	db      *sql.DB
	config  *config.Config
	logger  *observability.Logger
	gateway ProviderGatewayInterface
	ability AbilityServiceInterface
	blobs   BlobStoreInterface
}

// NewPodcastServiceWithLogger creates a new podcast service
func NewPodcastServiceWithLogger(db *sql.DB, cfg *config.Config, gateway ProviderGatewayInterface, ability AbilityServiceInterface, blobs BlobStoreInterface, logger *observability.Logger) *PodcastService {
	return &PodcastService{
		db:      db,
		config:  cfg,
		logger:  logger,
		gateway: gateway,
		ability: ability,
		blobs:   blobs,
	}
}

// Generate runs the podcast pipeline. Every call creates a new row: the
// pipeline marks it completed on success or failed with the error message,
// so operators can always inspect what happened.
func (s *PodcastService) Generate(ctx context.Context, userID int, req *PodcastRequest) (result0 *models.Podcast, err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "generate",
		observability.AttributeUserID(userID),
		attribute.String("podcast.category", req.Category),
	)
	defer observability.FinishSpan(span, &err)

	if err := s.checkCooldown(ctx, userID, req.Category); err != nil {
		return nil, err
	}

	if req.OutputFormat == "" {
		req.OutputFormat = models.OutputBoth
	}
	languages := req.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	maxLanguages := s.config.Podcast.MaxLanguages
	if maxLanguages <= 0 {
		maxLanguages = config.PodcastMaxLanguages
	}
	if len(languages) > maxLanguages {
		languages = languages[:maxLanguages]
	}

	podcast := &models.Podcast{
		UserID:       userID,
		Category:     req.Category,
		Languages:    pq.StringArray(languages),
		OutputFormat: req.OutputFormat,
		Status:       models.PodcastStatusPending,
		CreatedAt:    time.Now(),
	}
	if err := s.insertPending(ctx, podcast); err != nil {
		return nil, err
	}

	if pipelineErr := s.runPipeline(ctx, podcast, req, languages); pipelineErr != nil {
		s.markFailed(ctx, podcast, pipelineErr)
		return nil, pipelineErr
	}
	return podcast, nil
}

// checkCooldown rejects a generation when the user's latest completed
// podcast is newer than the category's cooldown window
func (s *PodcastService) checkCooldown(ctx context.Context, userID int, category string) error {
	if s.config.Podcast.TestUserBypassesCooldown && userID == s.config.Podcast.TestUserID {
		return nil
	}

	cooldownHours := s.config.CooldownHoursForCategory(category)
	if cooldownHours <= 0 {
		return nil
	}

	var lastCompleted time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM podcasts
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, models.PodcastStatusCompleted).Scan(&lastCompleted)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return contextutils.WrapError(err, "failed to query latest podcast")
	}

	unlockAt := lastCompleted.Add(time.Duration(cooldownHours) * time.Hour)
	if time.Now().Before(unlockAt) {
		return contextutils.NewAppError(
			contextutils.ErrorCodeCooldownActive,
			contextutils.SeverityInfo,
			"Podcast generation is cooling down",
			fmt.Sprintf("unlocks at %s", unlockAt.UTC().Format(time.RFC3339)))
	}
	return nil
}

func (s *PodcastService) insertPending(ctx context.Context, podcast *models.Podcast) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO podcasts (user_id, category, languages, output_format, script, audio_blobs, status, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, '', '{}', $5, 0, $6)
		RETURNING id`,
		podcast.UserID, podcast.Category, podcast.Languages, podcast.OutputFormat,
		podcast.Status, podcast.CreatedAt).Scan(&podcast.ID)
	if err != nil {
		return contextutils.WrapError(err, "failed to insert podcast row")
	}
	return nil
}

func (s *PodcastService) runPipeline(ctx context.Context, podcast *models.Podcast, req *PodcastRequest, languages []string) (err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "run_pipeline",
		observability.AttributeUserID(podcast.UserID),
	)
	defer observability.FinishSpan(span, &err)

	snapshot, err := s.collectStats(ctx, podcast.UserID)
	if err != nil {
		return err
	}

	script, llmProvider := s.generateScript(ctx, snapshot, req)
	podcast.Script = script
	if llmProvider != "" {
		podcast.LLMProvider = sql.NullString{String: llmProvider, Valid: true}
	}

	if req.OutputFormat != models.OutputText {
		if err := s.synthesizeAudio(ctx, podcast, languages); err != nil {
			// script-only degradation: keep the text, note the failure
			s.logger.Warn(ctx, "TTS failed, degrading to script-only podcast", map[string]interface{}{
				"podcast_id": podcast.ID,
				"error":      err.Error(),
			})
			podcast.ErrorMessage = sql.NullString{String: "audio unavailable: " + err.Error(), Valid: true}
		}
	}

	podcast.DurationSeconds = s.estimateDuration(podcast.Script)
	podcast.Status = models.PodcastStatusCompleted

	_, err = s.db.ExecContext(ctx, `
		UPDATE podcasts
		SET script = $1, audio_blobs = $2, status = $3, llm_provider = $4, tts_provider = $5,
			duration_seconds = $6, error_message = $7
		WHERE id = $8`,
		podcast.Script, podcast.AudioBlobs, podcast.Status, podcast.LLMProvider,
		podcast.TTSProvider, podcast.DurationSeconds, podcast.ErrorMessage, podcast.ID)
	if err != nil {
		return contextutils.WrapError(err, "failed to finalize podcast row")
	}
	return nil
}

func (s *PodcastService) markFailed(ctx context.Context, podcast *models.Podcast, cause error) {
	podcast.Status = models.PodcastStatusFailed
	podcast.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE podcasts SET status = $1, error_message = $2 WHERE id = $3`,
		podcast.Status, podcast.ErrorMessage, podcast.ID); err != nil {
		s.logger.Error(ctx, "Failed to mark podcast as failed", err, map[string]interface{}{
			"podcast_id": podcast.ID,
		})
	}
}

// collectStats gathers everything the script mentions about the learner.
// A missing ability profile degrades to a "mixed" level.
func (s *PodcastService) collectStats(ctx context.Context, userID int) (result0 *LearnerSnapshot, err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "collect_stats",
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	snapshot := &LearnerSnapshot{Level: "mixed"}

	profile, profileErr := s.ability.GetProfile(ctx, userID)
	if profileErr == nil {
		snapshot.HasAbility = true
		snapshot.AbilityScore = profile.Overall
		snapshot.Level = profile.Level()
		if subject, ok := profile.WeakestSubject(); ok {
			snapshot.WeakestSubject = subject
		}
		if profile.TotalAttempts > 0 {
			snapshot.Accuracy = float64(profile.TotalCorrect) / float64(profile.TotalAttempts) * 100
		}
	} else if !contextutils.IsError(profileErr, contextutils.ErrRecordNotFound) {
		return nil, profileErr
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(i.title, '')
		FROM activity_events e
		LEFT JOIN items i ON i.kind = e.item_kind AND i.id = e.object_id
		WHERE e.user_id = $1 AND e.kind = $2
		ORDER BY e.occurred_at DESC
		LIMIT 1`, userID, models.EventQuizCompleted).Scan(&snapshot.RecentQuizTitle)
	if err != nil && err != sql.ErrNoRows {
		return nil, contextutils.WrapError(err, "failed to query recent quiz")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE user_id = $1`, userID).Scan(&snapshot.EnrolledCourses)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to count enrollments")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE user_id = $1`, userID).Scan(&snapshot.NotesCount)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to count notes")
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT object_id) FROM activity_events
		WHERE user_id = $1 AND kind = $2`, userID, models.EventLessonCompleted).Scan(&snapshot.LessonsCompleted)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to count completed lessons")
	}

	return snapshot, nil
}

// generateScript asks the configured LLM tier for a script and falls back to
// the deterministic template when the whole provider chain fails
func (s *PodcastService) generateScript(ctx context.Context, snapshot *LearnerSnapshot, req *PodcastRequest) (script, provider string) {
	tier := s.config.Podcast.LLMTier
	if tier == "" {
		tier = "normal"
	}

	response, err := s.gateway.GenerateText(ctx, tier, &LLMRequest{
		SystemPrompt: s.config.Podcast.SystemRole,
		UserPrompt:   s.buildPrompt(snapshot, req),
	})
	if err != nil {
		s.logger.Warn(ctx, "Script generation failed, using template fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return TemplateScript(snapshot, s.config.Podcast.IncludeQA), ""
	}
	return response.Text, response.Provider
}

func (s *PodcastService) buildPrompt(snapshot *LearnerSnapshot, req *PodcastRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a daily learning podcast script of about %d words.\n",
		s.config.WordTargetForReplySize(req.ReplySize))
	if s.config.Podcast.ToneGuide != "" {
		fmt.Fprintf(&b, "Tone: %s\n", s.config.Podcast.ToneGuide)
	}
	fmt.Fprintf(&b, "The learner's level is %s", snapshot.Level)
	if snapshot.HasAbility {
		fmt.Fprintf(&b, " (score %.0f, accuracy %.0f%%)", snapshot.AbilityScore, snapshot.Accuracy)
	}
	b.WriteString(".\n")
	if snapshot.RecentQuizTitle != "" {
		fmt.Fprintf(&b, "Their most recent completed quiz was %q.\n", snapshot.RecentQuizTitle)
	}
	fmt.Fprintf(&b, "They are enrolled in %d courses, completed %d lessons, and wrote %d notes.\n",
		snapshot.EnrolledCourses, snapshot.LessonsCompleted, snapshot.NotesCount)
	if s.config.Podcast.IncludeQA {
		b.WriteString("Finish with a short Q&A section; prefix each question line with \"Q:\".\n")
	}
	return b.String()
}

// TemplateScript is the deterministic fallback used when no LLM provider is
// reachable. It interpolates the learner's stats directly.
func TemplateScript(snapshot *LearnerSnapshot, includeQA bool) string {
	var b strings.Builder
	b.WriteString("Welcome back to your daily learning recap.\n\n")
	if snapshot.HasAbility {
		fmt.Fprintf(&b, "Your current level is %s with an ability score of %.0f and %.0f%% accuracy.\n",
			snapshot.Level, snapshot.AbilityScore, snapshot.Accuracy)
	} else {
		b.WriteString("We're still getting to know your level, so today's recap covers a mix of topics.\n")
	}
	if snapshot.RecentQuizTitle != "" {
		fmt.Fprintf(&b, "Nice work finishing %q recently.\n", snapshot.RecentQuizTitle)
	}
	fmt.Fprintf(&b, "So far you're enrolled in %d courses, have completed %d lessons, and kept %d notes.\n",
		snapshot.EnrolledCourses, snapshot.LessonsCompleted, snapshot.NotesCount)
	b.WriteString("Keep the streak going today.\n")
	if includeQA {
		b.WriteString("\nQ: What topic felt hardest this week?\n")
		b.WriteString("Q: How many minutes can you practice today?\n")
	}
	return b.String()
}

// synthesizeAudio produces one MP3 blob per language via the gateway's TTS
// fallback chain
func (s *PodcastService) synthesizeAudio(ctx context.Context, podcast *models.Podcast, languages []string) (err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "synthesize_audio",
		attribute.Int("languages", len(languages)),
	)
	defer observability.FinishSpan(span, &err)

	for _, language := range languages {
		response, ttsErr := s.gateway.SynthesizeSpeech(ctx, &TTSRequest{
			Text:     podcast.Script,
			Language: language,
		})
		if ttsErr != nil {
			return ttsErr
		}

		name, saveErr := s.blobs.Save(ctx, podcast.UserID, "mp3", response.Audio)
		if saveErr != nil {
			return saveErr
		}
		podcast.AudioBlobs = append(podcast.AudioBlobs, name)
		podcast.TTSProvider = sql.NullString{String: response.Provider, Valid: true}
	}
	return nil
}

// estimateDuration estimates playback seconds from word count at the
// configured speaking rate
func (s *PodcastService) estimateDuration(script string) int {
	wpm := s.config.Podcast.WordsPerMinute
	if wpm <= 0 {
		wpm = config.PodcastWordsPerMinute
	}
	words := len(strings.Fields(script))
	return words * 60 / wpm
}

// GetPodcast returns one of the user's podcasts
func (s *PodcastService) GetPodcast(ctx context.Context, podcastID, userID int) (result0 *models.Podcast, err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "get_podcast",
		observability.AttributeUserID(userID),
		attribute.Int("podcast.id", podcastID),
	)
	defer observability.FinishSpan(span, &err)

	var podcast models.Podcast
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, languages, output_format, script, audio_blobs, status,
			llm_provider, tts_provider, duration_seconds, error_message, created_at
		FROM podcasts
		WHERE id = $1 AND user_id = $2`, podcastID, userID,
	).Scan(&podcast.ID, &podcast.UserID, &podcast.Category, &podcast.Languages,
		&podcast.OutputFormat, &podcast.Script, &podcast.AudioBlobs, &podcast.Status,
		&podcast.LLMProvider, &podcast.TTSProvider, &podcast.DurationSeconds,
		&podcast.ErrorMessage, &podcast.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrRecordNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query podcast")
	}
	return &podcast, nil
}

// AccuracyCheck cross-checks a stored script against the learner's current
// stats without calling any provider
func (s *PodcastService) AccuracyCheck(ctx context.Context, podcastID, userID int) (result0 *AccuracyReport, err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "accuracy_check",
		observability.AttributeUserID(userID),
		attribute.Int("podcast.id", podcastID),
	)
	defer observability.FinishSpan(span, &err)

	podcast, err := s.GetPodcast(ctx, podcastID, userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.collectStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildAccuracyReport(podcast, snapshot, s.config.Podcast.IncludeQA), nil
}

// BuildAccuracyReport runs the deterministic script-vs-stats checks
func BuildAccuracyReport(podcast *models.Podcast, snapshot *LearnerSnapshot, expectQA bool) *AccuracyReport {
	report := &AccuracyReport{
		Issues:        []string{},
		Warnings:      []string{},
		ContentChecks: map[string]bool{},
	}
	script := podcast.Script
	lower := strings.ToLower(script)

	hasScript := strings.TrimSpace(script) != ""
	report.ContentChecks["has_script"] = hasScript
	if !hasScript {
		report.Issues = append(report.Issues, "script is empty")
	}

	mentionsLevel := snapshot.Level != "" && strings.Contains(lower, strings.ToLower(snapshot.Level))
	report.ContentChecks["mentions_level"] = mentionsLevel
	if hasScript && !mentionsLevel {
		report.Warnings = append(report.Warnings, "script does not mention the learner's level")
	}

	mentionsQuiz := snapshot.RecentQuizTitle == "" ||
		strings.Contains(lower, strings.ToLower(snapshot.RecentQuizTitle))
	report.ContentChecks["mentions_recent_quiz"] = mentionsQuiz
	if !mentionsQuiz {
		report.Warnings = append(report.Warnings, "script does not mention the most recent quiz")
	}

	hasQA := len(ExtractQuestions(script)) > 0
	report.ContentChecks["has_qa_section"] = hasQA
	if expectQA && hasScript && !hasQA {
		report.Issues = append(report.Issues, "script is missing the Q&A section")
	}

	hasAudio := len(podcast.AudioBlobs) > 0
	report.ContentChecks["has_audio"] = hasAudio
	if podcast.OutputFormat != models.OutputText && !hasAudio {
		report.Warnings = append(report.Warnings, "audio was requested but none is attached")
	}

	score := 100
	score -= 40 * len(report.Issues)
	score -= 10 * len(report.Warnings)
	if score < 0 {
		score = 0
	}
	report.AccuracyScore = score

	switch {
	case len(report.Issues) > 0:
		report.Recommendation = "regenerate"
	case len(report.Warnings) > 0:
		report.Recommendation = "review"
	default:
		report.Recommendation = "publish"
	}
	return report
}

// ExtractQuestions returns the Q&A questions of a script, one per "Q:" line
func ExtractQuestions(script string) []string {
	var questions []string
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Q:") {
			question := strings.TrimSpace(strings.TrimPrefix(line, "Q:"))
			if question != "" {
				questions = append(questions, question)
			}
		}
	}
	return questions
}

// SubmitAnswers validates that every question in the script's Q&A section
// has an answer, then stores the answers on the podcast row
func (s *PodcastService) SubmitAnswers(ctx context.Context, podcastID, userID int, answers map[string]string) (err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "submit_answers",
		observability.AttributeUserID(userID),
		attribute.Int("podcast.id", podcastID),
	)
	defer observability.FinishSpan(span, &err)

	podcast, err := s.GetPodcast(ctx, podcastID, userID)
	if err != nil {
		return err
	}

	var missing []string
	for _, question := range ExtractQuestions(podcast.Script) {
		if strings.TrimSpace(answers[question]) == "" {
			missing = append(missing, question)
		}
	}
	if len(missing) > 0 {
		return contextutils.NewAppError(
			contextutils.ErrorCodeMissingRequired,
			contextutils.SeverityWarn,
			"All Q&A questions must be answered",
			strings.Join(missing, "; "))
	}

	encoded, err := json.Marshal(answers)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode answers")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE podcasts SET qa_answers = $1 WHERE id = $2`, encoded, podcastID)
	if err != nil {
		return contextutils.WrapError(err, "failed to store answers")
	}
	return nil
}
