// Package worker contains the background worker responsible for the nightly
// batch estimators (content difficulty, user ability, match scores) and the
// hourly stale insight sweep. The worker runs independently of HTTP request
// handling, reports its health through heartbeat rows, and honors pause and
// trigger flags stored in worker_settings.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"zporta/internal/config"
	"zporta/internal/models"
	"zporta/internal/observability"
	"zporta/internal/services"
)

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
}

// Worker runs the batch estimators on a schedule
type Worker struct {
	difficultyService services.DifficultyServiceInterface
	abilityService    services.AbilityServiceInterface
	matchService      services.MatchServiceInterface
	insightService    services.InsightServiceInterface
	workerService     services.WorkerServiceInterface
	instance          string
	cfg               *config.Config
	logger            *observability.Logger

	scheduler *gocron.Scheduler
	status    Status
	mu        sync.RWMutex

	// Time function for testing - defaults to time.Now
	timeNow func() time.Time
	cancel  context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(
	difficultyService services.DifficultyServiceInterface,
	abilityService services.AbilityServiceInterface,
	matchService services.MatchServiceInterface,
	insightService services.InsightServiceInterface,
	workerService services.WorkerServiceInterface,
	instance string,
	cfg *config.Config,
	logger *observability.Logger,
) *Worker {
	return &Worker{
		difficultyService: difficultyService,
		abilityService:    abilityService,
		matchService:      matchService,
		insightService:    insightService,
		workerService:     workerService,
		instance:          instance,
		cfg:               cfg,
		logger:            logger,
		scheduler:         gocron.NewScheduler(time.UTC),
		timeNow:           time.Now,
	}
}

// Start schedules the batch jobs and blocks until the context is canceled.
// The nightly chain runs difficulty, ability, and match in that order so
// each estimator sees the previous one's output.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.setRunning(true)
	w.updateDatabaseStatus(ctx, "started")

	go w.heartbeatLoop(ctx)

	if _, err := w.scheduler.Every(1).Day().At("02:00").Do(func() { w.runNightlyChain(ctx) }); err != nil {
		w.logger.Error(ctx, "Failed to schedule nightly chain", err, nil)
	}
	if _, err := w.scheduler.Every(1).Hour().Do(func() { w.runCacheSweep(ctx) }); err != nil {
		w.logger.Error(ctx, "Failed to schedule cache sweep", err, nil)
	}
	w.scheduler.StartAsync()

	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance": w.instance,
	})

	// Poll for manual triggers left by the admin endpoints
	ticker := time.NewTicker(config.WorkerCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkTriggers(ctx)
		}
	}
}

// Shutdown gracefully shuts down the worker and records the final status
func (w *Worker) Shutdown(ctx context.Context) error {
	w.scheduler.Stop()
	if w.cancel != nil {
		w.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, config.WorkerShutdownTimeout)
	defer cancel()

	w.setRunning(false)
	w.updateDatabaseStatus(shutdownCtx, "shutdown")
	w.logger.Info(shutdownCtx, "Worker shut down", map[string]interface{}{
		"instance": w.instance,
	})
	return nil
}

// GetStatus returns a snapshot of the in-memory worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// runNightlyChain runs the three estimators in dependency order. A failed
// job does not stop the chain; each job records its own run row.
func (w *Worker) runNightlyChain(ctx context.Context) {
	ctx, span := observability.TraceWorkerFunction(ctx, "nightly_chain")
	defer observability.FinishSpan(span, nil)

	if w.isPaused(ctx) {
		w.logger.Info(ctx, "Skipping nightly chain, worker paused", nil)
		return
	}

	w.runJob(ctx, services.JobContentDifficulty, func(ctx context.Context) (int, error) {
		return w.difficultyService.ComputeAll(ctx, services.DifficultyBatchOptions{
			MinAttempts: w.cfg.Engine.DifficultyMinAttempts,
			WindowDays:  w.cfg.Engine.DifficultyWindowDays,
		})
	})
	w.runJob(ctx, services.JobUserAbilities, func(ctx context.Context) (int, error) {
		return w.abilityService.ComputeAll(ctx, services.AbilityBatchOptions{
			MinAttempts: w.cfg.Engine.AbilityMinAttempts,
			WindowDays:  w.cfg.Engine.AbilityWindowDays,
		})
	})
	w.runJob(ctx, services.JobMatchScores, func(ctx context.Context) (int, error) {
		return w.matchService.ComputeAll(ctx, services.MatchBatchOptions{
			TopN: w.cfg.Engine.MatchTopN,
		})
	})
}

// runCacheSweep deletes expired insight rows
func (w *Worker) runCacheSweep(ctx context.Context) {
	ctx, span := observability.TraceWorkerFunction(ctx, "cache_sweep")
	defer observability.FinishSpan(span, nil)

	if w.isPaused(ctx) {
		return
	}

	w.runJob(ctx, services.JobCacheSweep, func(ctx context.Context) (int, error) {
		return w.insightService.ClearStale(ctx, 0, "", false)
	})
}

// runJob wraps one job with run bookkeeping and status updates
func (w *Worker) runJob(ctx context.Context, jobName string, fn func(context.Context) (int, error)) {
	ctx, span := observability.TraceWorkerFunction(ctx, "run_job",
		observability.AttributeJobName(jobName),
	)
	defer observability.FinishSpan(span, nil)

	w.setActivity(jobName)
	defer w.setActivity("")

	runID, err := w.workerService.StartRun(ctx, jobName)
	if err != nil {
		w.logger.Error(ctx, "Failed to record run start", err, map[string]interface{}{
			"job": jobName,
		})
	}

	start := w.timeNow()
	w.setLastRunStart(start)

	rows, jobErr := fn(ctx)

	w.setLastRunFinish(w.timeNow(), jobErr)
	if runID > 0 {
		if err := w.workerService.FinishRun(ctx, runID, rows, jobErr); err != nil {
			w.logger.Error(ctx, "Failed to record run finish", err, map[string]interface{}{
				"job": jobName,
			})
		}
	}

	if jobErr != nil {
		w.logger.Error(ctx, "Worker job failed", jobErr, map[string]interface{}{
			"job": jobName,
		})
		return
	}

	w.logger.Info(ctx, "Worker job completed", map[string]interface{}{
		"job":          jobName,
		"rows_written": rows,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	w.updateDatabaseStatus(ctx, "idle")
}

// checkTriggers claims and runs any manual triggers left by the admin API
func (w *Worker) checkTriggers(ctx context.Context) {
	if w.isPaused(ctx) {
		return
	}

	jobs := map[string]func(context.Context) (int, error){
		services.JobContentDifficulty: func(ctx context.Context) (int, error) {
			return w.difficultyService.ComputeAll(ctx, services.DifficultyBatchOptions{
				MinAttempts: w.cfg.Engine.DifficultyMinAttempts,
				WindowDays:  w.cfg.Engine.DifficultyWindowDays,
			})
		},
		services.JobUserAbilities: func(ctx context.Context) (int, error) {
			return w.abilityService.ComputeAll(ctx, services.AbilityBatchOptions{
				MinAttempts: w.cfg.Engine.AbilityMinAttempts,
				WindowDays:  w.cfg.Engine.AbilityWindowDays,
			})
		},
		services.JobMatchScores: func(ctx context.Context) (int, error) {
			return w.matchService.ComputeAll(ctx, services.MatchBatchOptions{
				TopN: w.cfg.Engine.MatchTopN,
			})
		},
		services.JobCacheSweep: func(ctx context.Context) (int, error) {
			return w.insightService.ClearStale(ctx, 0, "", false)
		},
	}

	for jobName, fn := range jobs {
		claimed, err := w.workerService.ConsumeTrigger(ctx, jobName)
		if err != nil {
			w.logger.Error(ctx, "Failed to check trigger", err, map[string]interface{}{
				"job": jobName,
			})
			continue
		}
		if !claimed {
			continue
		}
		w.logger.Info(ctx, "Running manually triggered job", map[string]interface{}{
			"job": jobName,
		})
		w.runJob(ctx, jobName, fn)
	}
}

// isPaused reports whether either the global or instance pause flag is set
func (w *Worker) isPaused(ctx context.Context) bool {
	globalPaused, err := w.workerService.IsGlobalPaused(ctx)
	if err != nil {
		w.logger.Error(ctx, "Failed to check global pause", err, nil)
		return false
	}
	if globalPaused {
		return true
	}

	status, err := w.workerService.GetWorkerStatus(ctx, w.instance)
	if err != nil {
		return false
	}
	return status.IsPaused
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(config.WorkerHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.workerService.UpdateHeartbeat(ctx, w.instance); err != nil {
				w.logger.Error(ctx, "Failed to update heartbeat for worker", err, map[string]interface{}{
					"instance": w.instance,
				})
			}
		}
	}
}

// updateDatabaseStatus pushes the in-memory status to the worker_status row
func (w *Worker) updateDatabaseStatus(ctx context.Context, activity string) {
	w.mu.RLock()
	status := w.status
	w.mu.RUnlock()

	dbStatus := &models.WorkerStatus{
		WorkerInstance: w.instance,
		IsRunning:      status.IsRunning,
		IsPaused:       status.IsPaused,
	}
	dbStatus.CurrentActivity.String = activity
	dbStatus.CurrentActivity.Valid = activity != ""
	if !status.LastRunStart.IsZero() {
		dbStatus.LastRunStart.Time = status.LastRunStart
		dbStatus.LastRunStart.Valid = true
	}
	if !status.LastRunFinish.IsZero() {
		dbStatus.LastRunFinish.Time = status.LastRunFinish
		dbStatus.LastRunFinish.Valid = true
	}
	if status.LastRunError != "" {
		dbStatus.LastRunError.String = status.LastRunError
		dbStatus.LastRunError.Valid = true
	}

	if err := w.workerService.UpdateWorkerStatus(ctx, w.instance, dbStatus); err != nil {
		w.logger.Error(ctx, "Failed to update worker status", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

func (w *Worker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.IsRunning = running
}

func (w *Worker) setActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

func (w *Worker) setLastRunStart(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastRunStart = t
}

func (w *Worker) setLastRunFinish(t time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastRunFinish = t
	if err != nil {
		w.status.LastRunError = err.Error()
	} else {
		w.status.LastRunError = ""
	}
}
