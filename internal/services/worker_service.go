package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"zporta/internal/models"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ErrSettingNotFound is returned when a setting is not found in the database
var ErrSettingNotFound = errors.New("setting not found")

// Batch job names known to the worker
const (
	JobContentDifficulty = "content_difficulty"
	JobUserAbilities     = "user_abilities"
	JobMatchScores       = "match_scores"
	JobCacheSweep        = "cache_sweep"
)

// WorkerServiceInterface defines the interface for worker management operations
type WorkerServiceInterface interface {
	// Settings management
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	IsGlobalPaused(ctx context.Context) (bool, error)
	SetGlobalPause(ctx context.Context, paused bool) error

	// Status management
	UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) error
	GetWorkerStatus(ctx context.Context, instance string) (*models.WorkerStatus, error)
	GetAllWorkerStatuses(ctx context.Context) ([]models.WorkerStatus, error)
	UpdateHeartbeat(ctx context.Context, instance string) error
	IsWorkerHealthy(ctx context.Context, instance string) (bool, error)
	GetWorkerHealth(ctx context.Context) (map[string]interface{}, error)

	// Control operations
	PauseWorker(ctx context.Context, instance string) error
	ResumeWorker(ctx context.Context, instance string) error
	TriggerJob(ctx context.Context, jobName string) error
	ConsumeTrigger(ctx context.Context, jobName string) (bool, error)

	// Run history
	StartRun(ctx context.Context, jobName string) (int, error)
	FinishRun(ctx context.Context, runID, rowsWritten int, runErr error) error
	GetRecentRuns(ctx context.Context, limit int) ([]models.WorkerRun, error)
}

// WorkerService implements worker management operations
type WorkerService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewWorkerServiceWithLogger creates a new WorkerService instance with logger
func NewWorkerServiceWithLogger(db *sql.DB, logger *observability.Logger) *WorkerService {
	return &WorkerService{
		db:     db,
		logger: logger,
	}
}

// GetSetting retrieves a setting value by key
func (s *WorkerService) GetSetting(ctx context.Context, key string) (result0 string, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if len(strings.TrimSpace(key)) == 0 {
		return "", contextutils.WrapErrorf(errors.New("invalid setting key"), "setting key cannot be empty")
	}

	var value string
	err = s.db.QueryRowContext(ctx, `
		SELECT setting_value FROM worker_settings WHERE setting_key = $1
	`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Debug(ctx, "Setting not found", map[string]interface{}{"setting_key": key})
			return "", contextutils.WrapErrorf(ErrSettingNotFound, "%s", key)
		}
		s.logger.Error(ctx, "Failed to get setting", err, map[string]interface{}{"setting_key": key})
		return "", contextutils.WrapErrorf(err, "failed to get setting %s", key)
	}

	return value, nil
}

// SetSetting updates or creates a setting
func (s *WorkerService) SetSetting(ctx context.Context, key, value string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if len(strings.TrimSpace(key)) == 0 {
		return contextutils.WrapErrorf(errors.New("invalid setting key"), "setting key cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_settings (setting_key, setting_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (setting_key) DO UPDATE SET
			setting_value = EXCLUDED.setting_value,
			updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		s.logger.Error(ctx, "Failed to set setting", err, map[string]interface{}{"setting_key": key, "setting_value": value})
		return contextutils.WrapErrorf(err, "failed to set setting %s", key)
	}

	s.logger.Debug(ctx, "Setting updated", map[string]interface{}{"setting_key": key, "setting_value": value})
	return nil
}

// IsGlobalPaused checks if batch processing is globally paused
func (s *WorkerService) IsGlobalPaused(ctx context.Context) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_global_paused")
	defer observability.FinishSpan(span, &err)

	value, err := s.GetSetting(ctx, "global_pause")
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			if setErr := s.SetSetting(ctx, "global_pause", "false"); setErr != nil {
				return false, contextutils.WrapError(setErr, "failed to initialize global_pause setting")
			}
			return false, nil
		}
		return false, err
	}

	return value == "true", nil
}

// SetGlobalPause sets the global pause state
func (s *WorkerService) SetGlobalPause(ctx context.Context, paused bool) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_global_pause", attribute.Bool("paused", paused))
	defer observability.FinishSpan(span, &err)

	value := "false"
	if paused {
		value = "true"
	}
	if err = s.SetSetting(ctx, "global_pause", value); err != nil {
		return err
	}

	s.logger.Info(ctx, "Global pause state updated", map[string]interface{}{"global_paused": paused})
	return nil
}

// UpdateWorkerStatus updates the worker status in the database
func (s *WorkerService) UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) (err error) {
	activity := ""
	if status.CurrentActivity.Valid {
		activity = status.CurrentActivity.String
	}

	ctx, span := observability.TraceWorkerFunction(ctx, "update_worker_status",
		attribute.String("worker.instance", instance),
		attribute.Bool("worker.is_running", status.IsRunning),
		attribute.Bool("worker.is_paused", status.IsPaused),
		attribute.String("worker.activity", activity),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (
			worker_instance, is_running, is_paused, current_activity,
			last_heartbeat, last_run_start, last_run_finish, last_run_error,
			total_rows_written, total_runs, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			is_running = EXCLUDED.is_running,
			is_paused = EXCLUDED.is_paused,
			current_activity = EXCLUDED.current_activity,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_run_start = EXCLUDED.last_run_start,
			last_run_finish = EXCLUDED.last_run_finish,
			last_run_error = EXCLUDED.last_run_error,
			total_rows_written = EXCLUDED.total_rows_written,
			total_runs = EXCLUDED.total_runs,
			updated_at = EXCLUDED.updated_at
	`, instance, status.IsRunning, status.IsPaused, status.CurrentActivity,
		status.LastHeartbeat, status.LastRunStart, status.LastRunFinish,
		status.LastRunError, status.TotalRowsWritten, status.TotalRuns)
	if err != nil {
		s.logger.Error(ctx, "Failed to update worker status", err, map[string]interface{}{
			"worker_instance": instance,
			"activity":        activity,
		})
		return contextutils.WrapErrorf(err, "failed to update worker status for instance %s", instance)
	}

	return nil
}

// GetWorkerStatus retrieves worker status by instance
func (s *WorkerService) GetWorkerStatus(ctx context.Context, instance string) (result0 *models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_status", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	var status models.WorkerStatus
	err = s.db.QueryRowContext(ctx, `
		SELECT id, worker_instance, is_running, is_paused, current_activity,
			   last_heartbeat, last_run_start, last_run_finish, last_run_error,
			   total_rows_written, total_runs, created_at, updated_at
		FROM worker_status WHERE worker_instance = $1
	`, instance).Scan(
		&status.ID, &status.WorkerInstance, &status.IsRunning, &status.IsPaused,
		&status.CurrentActivity, &status.LastHeartbeat, &status.LastRunStart,
		&status.LastRunFinish, &status.LastRunError, &status.TotalRowsWritten,
		&status.TotalRuns, &status.CreatedAt, &status.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, contextutils.ErrRecordNotFound
		}
		return nil, contextutils.WrapErrorf(err, "failed to get worker status for instance %s", instance)
	}

	return &status, nil
}

// GetAllWorkerStatuses retrieves all worker statuses
func (s *WorkerService) GetAllWorkerStatuses(ctx context.Context) (result0 []models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_all_worker_statuses")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_instance, is_running, is_paused, current_activity,
			   last_heartbeat, last_run_start, last_run_finish, last_run_error,
			   total_rows_written, total_runs, created_at, updated_at
		FROM worker_status ORDER BY worker_instance
	`)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get all worker statuses")
	}
	defer func() { _ = rows.Close() }()

	var statuses []models.WorkerStatus
	for rows.Next() {
		var status models.WorkerStatus
		err = rows.Scan(
			&status.ID, &status.WorkerInstance, &status.IsRunning, &status.IsPaused,
			&status.CurrentActivity, &status.LastHeartbeat, &status.LastRunStart,
			&status.LastRunFinish, &status.LastRunError, &status.TotalRowsWritten,
			&status.TotalRuns, &status.CreatedAt, &status.UpdatedAt,
		)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan worker status row")
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating worker status rows")
	}

	return statuses, nil
}

// UpdateHeartbeat updates the heartbeat for a worker instance
func (s *WorkerService) UpdateHeartbeat(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "update_heartbeat", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_instance, last_heartbeat, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at
	`, instance)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to update heartbeat for instance %s", instance)
	}

	return nil
}

// IsWorkerHealthy checks if a worker instance is healthy based on recent heartbeat
func (s *WorkerService) IsWorkerHealthy(ctx context.Context, instance string) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_worker_healthy", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	var lastHeartbeat sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT last_heartbeat FROM worker_status WHERE worker_instance = $1
	`, instance).Scan(&lastHeartbeat)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, contextutils.WrapErrorf(err, "failed to check worker health for instance %s", instance)
	}
	if !lastHeartbeat.Valid {
		return false, nil
	}

	// healthy while the heartbeat is within the last 5 minutes
	return time.Since(lastHeartbeat.Time) < 5*time.Minute, nil
}

// PauseWorker pauses a specific worker instance
func (s *WorkerService) PauseWorker(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "pause_worker", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE worker_status SET is_paused = true, updated_at = NOW()
		WHERE worker_instance = $1
	`, instance)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to pause worker instance %s", instance)
	}

	s.logger.Info(ctx, "Worker paused", map[string]interface{}{"worker_instance": instance})
	return nil
}

// ResumeWorker resumes a specific worker instance
func (s *WorkerService) ResumeWorker(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "resume_worker", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE worker_status SET is_paused = false, updated_at = NOW()
		WHERE worker_instance = $1
	`, instance)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to resume worker instance %s", instance)
	}

	s.logger.Info(ctx, "Worker resumed", map[string]interface{}{"worker_instance": instance})
	return nil
}

// TriggerJob requests an immediate run of a batch job; the worker picks the
// trigger up on its next check interval
func (s *WorkerService) TriggerJob(ctx context.Context, jobName string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "trigger_job", attribute.String("job.name", jobName))
	defer observability.FinishSpan(span, &err)

	if !validJobName(jobName) {
		return contextutils.NewAppError(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Unknown batch job",
			jobName)
	}
	return s.SetSetting(ctx, triggerKey(jobName), "1")
}

// ConsumeTrigger atomically claims a pending trigger for a job
func (s *WorkerService) ConsumeTrigger(ctx context.Context, jobName string) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "consume_trigger", attribute.String("job.name", jobName))
	defer observability.FinishSpan(span, &err)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM worker_settings WHERE setting_key = $1 AND setting_value = '1'
	`, triggerKey(jobName))
	if err != nil {
		return false, contextutils.WrapErrorf(err, "failed to consume trigger for job %s", jobName)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, contextutils.WrapError(err, "failed to read affected rows")
	}
	return affected > 0, nil
}

func triggerKey(jobName string) string {
	return fmt.Sprintf("trigger_%s", jobName)
}

func validJobName(jobName string) bool {
	switch jobName {
	case JobContentDifficulty, JobUserAbilities, JobMatchScores, JobCacheSweep:
		return true
	}
	return false
}

// StartRun records the start of a batch job execution and returns the run id
func (s *WorkerService) StartRun(ctx context.Context, jobName string) (result0 int, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "start_run", attribute.String("job.name", jobName))
	defer observability.FinishSpan(span, &err)

	var runID int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO worker_runs (job_name, started_at, status)
		VALUES ($1, NOW(), 'running')
		RETURNING id
	`, jobName).Scan(&runID)
	if err != nil {
		return 0, contextutils.WrapErrorf(err, "failed to record run start for job %s", jobName)
	}
	return runID, nil
}

// FinishRun closes a run record with its outcome
func (s *WorkerService) FinishRun(ctx context.Context, runID, rowsWritten int, runErr error) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "finish_run",
		attribute.Int("run.id", runID),
		attribute.Int("run.rows_written", rowsWritten),
	)
	defer observability.FinishSpan(span, &err)

	status := "completed"
	var message sql.NullString
	if runErr != nil {
		status = "failed"
		message = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE worker_runs
		SET finished_at = NOW(), status = $1, rows_written = $2, error_message = $3
		WHERE id = $4
	`, status, rowsWritten, message, runID)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to record run finish for run %d", runID)
	}
	return nil
}

// GetRecentRuns returns the most recent batch job executions
func (s *WorkerService) GetRecentRuns(ctx context.Context, limit int) (result0 []models.WorkerRun, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_recent_runs", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_name, started_at, finished_at, status, rows_written, error_message
		FROM worker_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query worker runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []models.WorkerRun
	for rows.Next() {
		var run models.WorkerRun
		if err := rows.Scan(&run.ID, &run.JobName, &run.StartedAt, &run.FinishedAt,
			&run.Status, &run.RowsWritten, &run.ErrorMessage); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan worker run row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating worker run rows")
	}
	return runs, nil
}

// GetWorkerHealth returns a summary of all worker instances and pause state
func (s *WorkerService) GetWorkerHealth(ctx context.Context) (result0 map[string]interface{}, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_health")
	defer observability.FinishSpan(span, &err)

	statuses, err := s.GetAllWorkerStatuses(ctx)
	if err != nil {
		return nil, err
	}

	globalPaused, err := s.IsGlobalPaused(ctx)
	if err != nil {
		s.logger.Error(ctx, "Failed to get global pause state", err, map[string]interface{}{})
		globalPaused = false
	}

	instances := make([]map[string]interface{}, 0, len(statuses))
	healthyCount := 0
	for _, status := range statuses {
		healthy, healthErr := s.IsWorkerHealthy(ctx, status.WorkerInstance)
		if healthErr != nil {
			s.logger.Error(ctx, "Failed to check health for worker", healthErr, map[string]interface{}{
				"worker_instance": status.WorkerInstance,
			})
			continue
		}
		if healthy {
			healthyCount++
		}

		var lastRunError string
		if status.LastRunError.Valid {
			lastRunError = status.LastRunError.String
		}
		instances = append(instances, map[string]interface{}{
			"worker_instance":    status.WorkerInstance,
			"healthy":            healthy,
			"is_running":         status.IsRunning,
			"is_paused":          status.IsPaused,
			"last_heartbeat":     status.LastHeartbeat,
			"last_run_error":     lastRunError,
			"total_rows_written": status.TotalRowsWritten,
			"total_runs":         status.TotalRuns,
		})
	}

	return map[string]interface{}{
		"global_paused":    globalPaused,
		"worker_instances": instances,
		"total_count":      len(statuses),
		"healthy_count":    healthyCount,
	}, nil
}
