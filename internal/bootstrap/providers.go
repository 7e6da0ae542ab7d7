package bootstrap

import (
	"context"
	"time"

	"trendboard/internal/adapters/calendar"
	chclient "trendboard/internal/adapters/clickhouse"
	"trendboard/internal/adapters/config"
	errnoop "trendboard/internal/adapters/errors/noop"
	"trendboard/internal/adapters/errors/sentry"
	"trendboard/internal/adapters/kafka"
	pgclient "trendboard/internal/adapters/postgres"
	redisclient "trendboard/internal/adapters/redis"
	"trendboard/internal/api"
	"trendboard/internal/api/health"
	"trendboard/internal/consumers"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/events"
	"trendboard/internal/metrics"
	chrepo "trendboard/internal/repository/clickhouse"
	pgrepo "trendboard/internal/repository/postgres"
	"trendboard/internal/services/aggregation"
	"trendboard/internal/services/ingest"
	levelsservice "trendboard/internal/services/levels"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/services/snapshot"
	trendservice "trendboard/internal/services/trend"
	"trendboard/migrations"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects Postgres and the optional ClickHouse and Redis
func (c *Container) MustInitInfrastructure() {
	var err error

	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	if c.Config.Postgres.AutoMigrate {
		applied, err := MigratePostgres(c.Context, c.PG)
		if err != nil {
			c.Log.Fatalf("failed to migrate postgres: %v", err)
		}
		c.Log.Infow("✓ PostgreSQL migrations applied", "applied", applied)
	}

	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}
}

// MigratePostgres applies the embedded schema migrations
func MigratePostgres(ctx context.Context, pg *pgclient.Client) (int, error) {
	migs, err := pgclient.LoadMigrations(migrations.Postgres, "postgres")
	if err != nil {
		return 0, err
	}
	return pg.Migrate(ctx, migs)
}

// ========================================
// Phase 3: Domain Layer - Repositories
// ========================================

// MustInitRepositories initializes all domain repositories
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()
	c.Repos.Securities = pgrepo.NewSecurityRepository(db)
	c.Repos.Bars = pgrepo.NewBarRepository(db)
	c.Repos.IngestionLog = pgrepo.NewIngestionLogRepository(db)
	c.Repos.Levels = pgrepo.NewLevelRepository(db)
	c.Repos.Trends = pgrepo.NewTrendRepository(db)

	if c.CH != nil {
		c.Repos.LabelHistory = chrepo.NewLabelHistoryRepository(c.CH.Conn(), c.Config.ClickHouse.LabelTable, c.Config.ClickHouse.BatchSize)
		if err := c.Repos.LabelHistory.EnsureSchema(c.Context); err != nil {
			c.Log.Fatalf("failed to prepare label history table: %v", err)
		}
	}

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka when enabled
func (c *Container) MustInitAdapters() {
	if !c.Config.Kafka.Enabled {
		c.Log.Info("Kafka disabled")
		return
	}
	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	c.Adapters.BarsIngestedConsumer = provideKafkaConsumer(c.Config, kafka.TopicBarsIngested, c.Log)
	c.Adapters.Publisher = events.NewPublisher(c.Adapters.KafkaProducer)
}

// ========================================
// Phase 5: Domain Services
// ========================================

// MustInitServices wires ingestion, aggregation, levels, labels, snapshots and the pipeline
func (c *Container) MustInitServices() {
	cfg := c.Config

	cal, err := calendar.New(cfg.Market)
	if err != nil {
		c.Log.Fatalf("failed to build trading calendar: %v", err)
	}
	c.Services.Calendar = cal

	var ingestPublisher ingest.Publisher
	if c.Adapters.Publisher != nil {
		ingestPublisher = c.Adapters.Publisher
	}
	c.Services.Ingest = ingest.NewService(c.Repos.Bars, c.Repos.IngestionLog, ingest.Options{
		BatchSize: cfg.Ingest.BatchSize,
		Publisher: ingestPublisher,
	})

	c.Services.Aggregation = aggregation.NewService(c.Repos.Bars, cal, aggregation.Options{
		DeriveIntraday: cfg.Aggregation.DeriveIntraday,
	})

	estimator, err := levelsservice.NewEstimator(provideLevelParams(cfg))
	if err != nil {
		c.Log.Fatalf("invalid level parameters: %v", err)
	}
	levelsTF, err := market_data.ParseTimeframe(cfg.Levels.SourceTimeframe)
	if err != nil {
		c.Log.Fatalf("invalid level timeframe: %v", err)
	}
	c.Services.Levels = levelsservice.NewService(c.Repos.Bars, c.Repos.Levels, estimator, levelsTF)

	labeler, err := trendservice.NewLabeler(provideTrendParams(cfg))
	if err != nil {
		c.Log.Fatalf("invalid trend parameters: %v", err)
	}
	trendOpts := trendservice.Options{ChunkSize: cfg.Trend.ChunkSize}
	if c.Repos.LabelHistory != nil {
		trendOpts.Sink = c.Repos.LabelHistory
	}
	c.Services.Trend = trendservice.NewService(c.Repos.Bars, c.Repos.Trends, c.Services.Levels, labeler, trendOpts)

	timeframes, err := market_data.ParseTimeframes(cfg.Trend.Timeframes)
	if err != nil {
		c.Log.Fatalf("invalid trend timeframes: %v", err)
	}

	snapOpts := snapshot.Options{
		Timeframes:  timeframes,
		Fingerprint: c.Services.Trend.Fingerprint(),
		TTL:         cfg.Redis.CacheTTL,
	}
	if c.Redis != nil {
		snapOpts.Cache = c.Redis
	}
	c.Services.Snapshot = snapshot.NewService(c.Repos.Bars, c.Repos.Securities, c.Services.Levels, c.Repos.Trends, snapOpts)

	var remote pipeline.RemoteLock
	if c.Redis != nil {
		remote = c.Redis
	}
	notifiers := pipeline.Notifiers{c.Services.Snapshot}
	if c.Adapters.Publisher != nil {
		notifiers = append(notifiers, c.Adapters.Publisher)
	}
	c.Services.Pipeline = pipeline.NewService(
		pipeline.NewLocker(remote, cfg.Redis.LockTTL),
		c.Services.Aggregation,
		c.Services.Levels,
		c.Services.Trend,
		pipeline.Options{Timeframes: timeframes, Notifier: notifiers},
	)
	c.Services.Throttle = pipeline.NewThrottle(cfg.HTTP.RecalcMinInterval)

	if err := ingest.RegisterSecurity(c.Context, c.Repos.Securities, market_data.Security{
		SecurityID:   cfg.Market.SecurityID,
		Symbol:       cfg.Market.Symbol,
		Exchange:     cfg.Market.Exchange,
		Timezone:     cfg.Market.Timezone,
		SessionOpen:  cfg.Market.SessionOpen,
		SessionClose: cfg.Market.SessionClose,
	}); err != nil {
		c.Log.Fatalf("failed to register security %s: %v", cfg.Market.SecurityID, err)
	}

	c.Log.Infow("✓ Services initialized",
		"security_id", cfg.Market.SecurityID,
		"timeframes", cfg.Trend.Timeframes,
		"fingerprint", c.Services.Trend.Fingerprint(),
	)
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the HTTP API
func (c *Container) MustInitApplication() {
	components := []health.Component{{Name: "postgres", Checker: c.PG}}
	if c.CH != nil {
		components = append(components, health.Component{Name: "clickhouse", Checker: c.CH, Optional: true})
	}
	if c.Redis != nil {
		components = append(components, health.Component{Name: "redis", Checker: c.Redis})
	}

	c.Background.WorkerScheduler = provideWorkers(c.Repos.Securities, c.Services.Pipeline, c.Config, c.Log)
	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, c.Background.WorkerScheduler, components...)

	c.Application.HTTPServer = provideHTTPServer(c.Config, c.Application.HealthHandler, c.Services, c.Log)
	c.Log.Info("✓ HTTP API initialized")
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground wires event consumers; workers are created with the API
// so health can report them
func (c *Container) MustInitBackground() {
	if c.Adapters.BarsIngestedConsumer != nil {
		c.Background.BarsIngestedSvc = consumers.NewBarsIngestedConsumer(
			c.Adapters.BarsIngestedConsumer,
			c.Services.Pipeline,
			c.Services.Throttle,
			c.Config.HTTP.RecalcMinInterval,
		)
	}
	c.Log.Info("✓ Background processing initialized")
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("Kafka brokers not configured, using default localhost:9092")
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Async:   false,
	})
	log.Info("✓ Kafka producer initialized")
	return producer
}

func provideKafkaConsumer(cfg *config.Config, topic string, log *logger.Logger) *kafka.Consumer {
	log.Infow("Initializing Kafka consumer", "topic", topic)
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   topic,
	})
	log.Infow("✓ Kafka consumer initialized", "topic", topic)
	return consumer
}

func provideLevelParams(cfg *config.Config) levelsservice.Params {
	p := levelsservice.DefaultParams()
	p.Lookback = cfg.Levels.Lookback
	p.MinBars = cfg.Levels.MinBars
	p.TolerancePct = cfg.Levels.TolerancePct
	p.MinRevisits = cfg.Levels.MinRevisits
	p.PriceField = levelsservice.PriceField(cfg.Levels.PriceField)
	p.ATRMultiple = cfg.Levels.ATRMultiple
	p.ATRPeriod = cfg.Levels.ATRPeriod
	return p
}

func provideTrendParams(cfg *config.Config) trendservice.Params {
	return trendservice.Params{
		FastPeriod:    cfg.Trend.FastPeriod,
		SlowPeriod:    cfg.Trend.SlowPeriod,
		SaturationPct: cfg.Trend.SaturationPct,
		DeadZone:      cfg.Trend.DeadZone,
		ZoneBandPct:   cfg.Levels.ZoneBandPct,
	}
}

func provideHTTPServer(cfg *config.Config, healthHandler *health.Handler, svc *Services, log *logger.Logger) *api.Server {
	securities := api.NewSecurityHandler(svc.Snapshot, svc.Pipeline, svc.Trend, svc.Throttle, cfg.Trend.WinRateHorizon)

	return api.NewServer(api.ServerConfig{
		Port:         cfg.HTTP.Port,
		ServiceName:  cfg.App.Name,
		Version:      cfg.App.Version,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, healthHandler, securities, log)
}

// shutdownTimeout bounds the HTTP drain
func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.HTTP.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.HTTP.ShutdownTimeout
}
