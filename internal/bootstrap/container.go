package bootstrap

import (
	"context"
	"sync"

	"trendboard/internal/adapters/calendar"
	chclient "trendboard/internal/adapters/clickhouse"
	"trendboard/internal/adapters/config"
	"trendboard/internal/adapters/kafka"
	pgclient "trendboard/internal/adapters/postgres"
	redisclient "trendboard/internal/adapters/redis"
	"trendboard/internal/api"
	"trendboard/internal/api/health"
	"trendboard/internal/consumers"
	"trendboard/internal/events"
	chrepo "trendboard/internal/repository/clickhouse"
	pgrepo "trendboard/internal/repository/postgres"
	"trendboard/internal/services/aggregation"
	"trendboard/internal/services/ingest"
	levelsservice "trendboard/internal/services/levels"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/services/snapshot"
	trendservice "trendboard/internal/services/trend"
	"trendboard/internal/workers"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores)
	PG    *pgclient.Client
	CH    *chclient.Client // nil unless ClickHouse is enabled
	Redis *redisclient.Client

	Repos       *Repositories
	Services    *Services
	Adapters    *Adapters
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Securities   *pgrepo.SecurityRepository
	Bars         *pgrepo.BarRepository
	IngestionLog *pgrepo.IngestionLogRepository
	Levels       *pgrepo.LevelRepository
	Trends       *pgrepo.TrendRepository
	LabelHistory *chrepo.LabelHistoryRepository // optional analytics sink
}

// Services groups all domain services
type Services struct {
	Calendar    *calendar.TradingCalendar
	Ingest      *ingest.Service
	Aggregation *aggregation.Service
	Levels      *levelsservice.Service
	Trend       *trendservice.Service
	Snapshot    *snapshot.Service
	Pipeline    *pipeline.Service
	Throttle    *pipeline.Throttle
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer        *kafka.Producer
	BarsIngestedConsumer *kafka.Consumer
	Publisher            *events.Publisher
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
	BarsIngestedSvc *consumers.BarsIngestedConsumer
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Services:    &Services{},
		Adapters:    &Adapters{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitApplication()
	c.MustInitBackground()
}

// MustInitCore initializes what command line tools need: storage and
// services, without Kafka, HTTP or workers
func (c *Container) MustInitCore() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitServices()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Repos.LabelHistory != nil {
		c.Repos.LabelHistory.Start(c.Context)
	}

	if err := c.startConsumers(); err != nil {
		return err
	}

	// Start HTTP server
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.Log.Info("✓ All systems operational")
	return nil
}

// startConsumers starts all Kafka consumers in background goroutines
func (c *Container) startConsumers() error {
	if c.Background.BarsIngestedSvc == nil {
		c.Log.Info("Kafka disabled, no event consumers started")
		return nil
	}

	svc := c.Background.BarsIngestedSvc
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := svc.Start(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("bars_ingested consumer failed", "error", err)
		}
	}()

	c.Log.Infow("✓ Event consumers started", "consumers", []string{"bars_ingested"})
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(c)
}

// Close releases storage for command line use
func (c *Container) Close() {
	c.Cancel()
	c.Lifecycle.closeDatabases(c.PG, c.CH, c.Redis, c.Log)
	_ = logger.Sync()
}
