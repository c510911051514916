package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"

	"zporta/internal/config"
	"zporta/internal/middleware"
	"zporta/internal/observability"
	"zporta/internal/services"
	"zporta/internal/version"
)

// NewRouter creates the API router with all middleware and routes
func NewRouter(
	cfg *config.Config,
	eventService services.EventServiceInterface,
	feedService services.FeedServiceInterface,
	abilityService services.AbilityServiceInterface,
	insightService services.InsightServiceInterface,
	podcastService services.PodcastServiceInterface,
	cacheStatsService services.CacheStatsServiceInterface,
	workerService services.WorkerServiceInterface,
	logger *observability.Logger,
) *gin.Engine {
	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorRecoveryMiddleware())

	// HTTP request logging using our observability logger
	router.Use(func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  latency.Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		if statusCode >= 500 {
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		} else if statusCode >= 400 {
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		} else {
			logger.Info(c.Request.Context(), "HTTP request", fields)
		}
	})

	// Health check endpoint (defined before any middleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "backend"})
	})

	// OpenTelemetry middleware for HTTP tracing and context propagation
	router.Use(observability.GinMiddlewareWithErrorHandling("zporta-backend"))

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	// Setup CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With", middleware.UserIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Setup Gin mode
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}

	// Security middleware
	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	router.Use(secure.New(secureConfig))

	// Initialize handlers
	eventHandler := NewEventHandler(eventService, cfg, logger)
	feedHandler := NewFeedHandler(feedService, cfg, logger)
	abilityHandler := NewAbilityHandler(abilityService, cfg, logger)
	insightHandler := NewInsightHandler(insightService, cfg, logger)
	podcastHandler := NewPodcastHandler(podcastService, cfg, logger)
	adminHandler := NewAdminHandler(cacheStatsService, workerService, insightService, cfg, logger)

	// API routes (trailing slashes are canonical, no redirect happens)
	api := router.Group("/api")
	{
		events := api.Group("/events")
		events.Use(middleware.OptionalUser())
		{
			events.POST("/", middleware.EventValidationMiddleware(), eventHandler.RecordEvent)
			events.GET("/recent/", middleware.RequireUser(), eventHandler.GetRecentEvents)
		}

		feed := api.Group("/feed")
		{
			feed.GET("/explore/", middleware.OptionalUser(), feedHandler.Explore)
			feed.GET("/personalized/", middleware.RequireUser(), feedHandler.Personalized)
			feed.GET("/review/", middleware.RequireUser(), feedHandler.Review)
			feed.GET("/next/", middleware.RequireUser(), feedHandler.Next)
		}

		api.GET("/ability/me/", middleware.RequireUser(), abilityHandler.GetMyProfile)
		api.GET("/insights/", middleware.RequireUser(), insightHandler.GetInsight)
		api.GET("/dashboard/", middleware.RequireUser(), feedHandler.UnifiedDashboard)

		podcasts := api.Group("/podcasts")
		podcasts.Use(middleware.RequireUser())
		{
			podcasts.POST("/", podcastHandler.Generate)
			podcasts.GET("/:id/", podcastHandler.GetPodcast)
			podcasts.GET("/:id/accuracy-check/", podcastHandler.AccuracyCheck)
			podcasts.PUT("/:id/answers/", podcastHandler.SubmitAnswers)
		}
	}

	// V1 routes: version and operational endpoints
	v1 := router.Group("/v1")
	{
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"service":   "backend",
				"version":   version.Version,
				"commit":    version.Commit,
				"buildTime": version.BuildTime,
			})
		})

		admin := v1.Group("/admin")
		{
			admin.GET("/cache-stats", adminHandler.GetCacheStats)
			admin.POST("/insights/clear-stale", adminHandler.ClearStaleInsights)

			worker := admin.Group("/worker")
			{
				worker.GET("/status", adminHandler.GetWorkerStatuses)
				worker.GET("/health", adminHandler.GetWorkerHealth)
				worker.GET("/runs", adminHandler.GetRecentRuns)
				worker.PUT("/global-pause", adminHandler.SetGlobalPause)
				worker.POST("/trigger/:job", adminHandler.TriggerJob)
				worker.POST("/instances/:instance/pause", adminHandler.PauseWorker)
				worker.POST("/instances/:instance/resume", adminHandler.ResumeWorker)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return router
}
