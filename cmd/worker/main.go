// Package main provides the entry point for the background worker. The
// worker runs the nightly batch estimators and the hourly insight sweep,
// and exposes a small HTTP surface for health checks.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/di"
	"zporta/internal/observability"
	"zporta/internal/version"
	"zporta/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "zporta-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if sd, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			if err := sd.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error(), "provider": "tracer"})
			}
		}
		if mp != nil {
			if err := mp.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down meter provider", map[string]interface{}{"error": err.Error(), "provider": "meter"})
			}
		}
	}()

	instance := os.Getenv("WORKER_INSTANCE")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	if instance == "" {
		instance = "worker-1"
	}

	logger.Info(ctx, "Starting learning engine worker", map[string]interface{}{
		"instance": instance,
		"port":     cfg.Server.WorkerPort,
	})

	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}

	difficultyService, err := container.GetDifficultyService()
	if err != nil {
		logger.Error(ctx, "Failed to get difficulty service", err, nil)
		os.Exit(1)
	}
	abilityService, err := container.GetAbilityService()
	if err != nil {
		logger.Error(ctx, "Failed to get ability service", err, nil)
		os.Exit(1)
	}
	matchService, err := container.GetMatchService()
	if err != nil {
		logger.Error(ctx, "Failed to get match service", err, nil)
		os.Exit(1)
	}
	insightService, err := container.GetInsightService()
	if err != nil {
		logger.Error(ctx, "Failed to get insight service", err, nil)
		os.Exit(1)
	}
	workerService, err := container.GetWorkerService()
	if err != nil {
		logger.Error(ctx, "Failed to get worker service", err, nil)
		os.Exit(1)
	}

	w := worker.NewWorker(difficultyService, abilityService, matchService, insightService, workerService, instance, cfg, logger)

	go w.Start(ctx)

	// Small HTTP surface: health and version for the backend's aggregation
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.GinMiddlewareWithErrorHandling("zporta-worker"))
	router.GET("/health", func(c *gin.Context) {
		status := w.GetStatus()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "worker",
			"instance": w.GetInstance(),
			"running":  status.IsRunning,
			"activity": status.CurrentActivity,
		})
	})
	router.GET("/v1/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "worker",
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := router.Run(":" + cfg.Server.WorkerPort); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	case err := <-serverErr:
		logger.Error(ctx, "Worker HTTP server failed", err, nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
	defer shutdownCancel()

	if err := w.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during worker shutdown", err, nil)
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during container shutdown", err, nil)
	}

	logger.Info(ctx, "Shutdown completed successfully", nil)
}
