// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"sync"

	"zporta/internal/config"
	"zporta/internal/database"
	"zporta/internal/observability"
	"zporta/internal/services"
	contextutils "zporta/internal/utils"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetEventService() (services.EventServiceInterface, error)
	GetMemoryService() (services.MemoryServiceInterface, error)
	GetFeedService() (services.FeedServiceInterface, error)
	GetDifficultyService() (services.DifficultyServiceInterface, error)
	GetAbilityService() (services.AbilityServiceInterface, error)
	GetMatchService() (services.MatchServiceInterface, error)
	GetInsightService() (services.InsightServiceInterface, error)
	GetPodcastService() (services.PodcastServiceInterface, error)
	GetProviderGateway() (services.ProviderGatewayInterface, error)
	GetCacheStatsService() (services.CacheStatsServiceInterface, error)
	GetWorkerService() (services.WorkerServiceInterface, error)
	GetBlobStore() (services.BlobStoreInterface, error)
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg           *config.Config
	logger        *observability.Logger
	dbManager     *database.Manager
	db            *sql.DB
	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger) *ServiceContainer {
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		services: make(map[string]interface{}),
	}
}

// Initialize sets up all services and their dependencies
func (sc *ServiceContainer) Initialize(_ context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Initialize database
	sc.dbManager = database.NewManager(sc.logger)
	db, err := sc.dbManager.InitDBWithConfig(sc.cfg.Database)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return db.Close()
	})

	sc.initializeServices()
	return nil
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetEventService returns the event ingestion service
func (sc *ServiceContainer) GetEventService() (services.EventServiceInterface, error) {
	return GetServiceAs[services.EventServiceInterface](sc, "event")
}

// GetMemoryService returns the spaced-repetition memory service
func (sc *ServiceContainer) GetMemoryService() (services.MemoryServiceInterface, error) {
	return GetServiceAs[services.MemoryServiceInterface](sc, "memory")
}

// GetFeedService returns the feed composition service
func (sc *ServiceContainer) GetFeedService() (services.FeedServiceInterface, error) {
	return GetServiceAs[services.FeedServiceInterface](sc, "feed")
}

// GetDifficultyService returns the content difficulty estimator
func (sc *ServiceContainer) GetDifficultyService() (services.DifficultyServiceInterface, error) {
	return GetServiceAs[services.DifficultyServiceInterface](sc, "difficulty")
}

// GetAbilityService returns the user ability estimator
func (sc *ServiceContainer) GetAbilityService() (services.AbilityServiceInterface, error) {
	return GetServiceAs[services.AbilityServiceInterface](sc, "ability")
}

// GetMatchService returns the match scorer
func (sc *ServiceContainer) GetMatchService() (services.MatchServiceInterface, error) {
	return GetServiceAs[services.MatchServiceInterface](sc, "match")
}

// GetInsightService returns the insight cache service
func (sc *ServiceContainer) GetInsightService() (services.InsightServiceInterface, error) {
	return GetServiceAs[services.InsightServiceInterface](sc, "insight")
}

// GetPodcastService returns the podcast pipeline service
func (sc *ServiceContainer) GetPodcastService() (services.PodcastServiceInterface, error) {
	return GetServiceAs[services.PodcastServiceInterface](sc, "podcast")
}

// GetProviderGateway returns the AI provider gateway
func (sc *ServiceContainer) GetProviderGateway() (services.ProviderGatewayInterface, error) {
	return GetServiceAs[services.ProviderGatewayInterface](sc, "provider_gateway")
}

// GetCacheStatsService returns the cache cost ledger service
func (sc *ServiceContainer) GetCacheStatsService() (services.CacheStatsServiceInterface, error) {
	return GetServiceAs[services.CacheStatsServiceInterface](sc, "cache_stats")
}

// GetWorkerService returns the worker management service
func (sc *ServiceContainer) GetWorkerService() (services.WorkerServiceInterface, error) {
	return GetServiceAs[services.WorkerServiceInterface](sc, "worker")
}

// GetBlobStore returns the audio blob store
func (sc *ServiceContainer) GetBlobStore() (services.BlobStoreInterface, error) {
	return GetServiceAs[services.BlobStoreInterface](sc, "blob_store")
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var errs []error
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errs)
	}
	return nil
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices() {
	// Services with no intra-service dependencies
	memoryService := services.NewMemoryServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["memory"] = memoryService

	difficultyService := services.NewDifficultyServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["difficulty"] = difficultyService

	abilityService := services.NewAbilityServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["ability"] = abilityService

	matchService := services.NewMatchServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["match"] = matchService

	cacheStatsService := services.NewCacheStatsServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["cache_stats"] = cacheStatsService

	workerService := services.NewWorkerServiceWithLogger(sc.db, sc.logger)
	sc.services["worker"] = workerService

	blobStore := services.NewFileBlobStore(sc.cfg.Blobs.RootDir, sc.logger)
	sc.services["blob_store"] = blobStore

	// Event ingestion drives memory state updates
	eventService := services.NewEventServiceWithLogger(sc.db, sc.cfg, memoryService, sc.logger)
	sc.services["event"] = eventService

	// Feed composition reads memory and match state
	feedService := services.NewFeedServiceWithLogger(sc.db, sc.cfg, memoryService, matchService, sc.logger)
	sc.services["feed"] = feedService

	// Provider gateway feeds the insight cache and podcast pipeline
	providerClient := services.NewHTTPProviderClient(sc.logger)
	providerGateway := services.NewProviderGatewayWithLogger(sc.cfg, providerClient, cacheStatsService, sc.logger)
	sc.services["provider_gateway"] = providerGateway

	insightService := services.NewInsightServiceWithLogger(sc.db, sc.cfg, providerGateway, abilityService, cacheStatsService, sc.logger)
	sc.services["insight"] = insightService

	podcastService := services.NewPodcastServiceWithLogger(sc.db, sc.cfg, providerGateway, abilityService, blobStore, sc.logger)
	sc.services["podcast"] = podcastService
}
