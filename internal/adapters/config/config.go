package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
	HTTP          HTTPConfig
	Market        MarketConfig
	Aggregation   AggregationConfig
	Levels        LevelsConfig
	Trend         TrendConfig
	Ingest        IngestConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"trendboard"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	// Applied as statement_timeout on every connection
	StatementTimeout time.Duration `envconfig:"POSTGRES_STATEMENT_TIMEOUT" default:"5m"`
	// Apply embedded migrations at service startup
	AutoMigrate bool `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" options='-c statement_timeout=%d'", c.StatementTimeout.Milliseconds())
	}
	return dsn
}

// ClickHouseConfig configures the optional label history sink
type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"trendboard"`
	// Append-only copy of completed labeling runs
	LabelTable string `envconfig:"CLICKHOUSE_LABEL_TABLE" default:"trend_label_history"`
	BatchSize  int    `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"5000"`
}

// RedisConfig configures the snapshot cache and the cross-process pipeline lock.
// Redis is optional: with Enabled=false the in-process lock is the only guard.
type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"10m"`
	CacheTTL time.Duration `envconfig:"REDIS_SNAPSHOT_TTL" default:"30s"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"trendboard"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	// Recalculate requests relabel full history synchronously
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"2m"`
	// Minimum spacing between two recalculate requests for the same security
	RecalcMinInterval time.Duration `envconfig:"HTTP_RECALC_MIN_INTERVAL" default:"30s"`
}

// MarketConfig describes the traded security and its exchange session
type MarketConfig struct {
	SecurityID   string `envconfig:"MARKET_SECURITY_ID" default:"15380"`
	Symbol       string `envconfig:"MARKET_SYMBOL" default:"MANKIND"`
	Exchange     string `envconfig:"MARKET_EXCHANGE" default:"NSE_EQ"`
	Timezone     string `envconfig:"MARKET_TIMEZONE" default:"Asia/Kolkata"`
	SessionOpen  string `envconfig:"MARKET_SESSION_OPEN" default:"09:15"`
	SessionClose string `envconfig:"MARKET_SESSION_CLOSE" default:"15:30"`
	CalendarMIC  string `envconfig:"MARKET_CALENDAR_MIC" default:"xnse"`
}

// Location resolves the configured market zone
func (c MarketConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load market timezone %q", c.Timezone)
	}
	return loc, nil
}

// SessionMinutes returns open offset and length of the trading session in minutes
func (c MarketConfig) SessionMinutes() (openOffset int, length int, err error) {
	open, err := parseClock(c.SessionOpen)
	if err != nil {
		return 0, 0, err
	}
	closeAt, err := parseClock(c.SessionClose)
	if err != nil {
		return 0, 0, err
	}
	if closeAt <= open {
		return 0, 0, errors.Wrapf(errors.ErrInvalidInput, "session close %s not after open %s", c.SessionClose, c.SessionOpen)
	}
	return open, closeAt - open, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "parse clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type AggregationConfig struct {
	DeriveIntraday bool `envconfig:"AGGREGATION_DERIVE_INTRADAY" default:"true"`
}

type LevelsConfig struct {
	SourceTimeframe string  `envconfig:"LEVELS_SOURCE_TIMEFRAME" default:"daily"`
	Lookback        int     `envconfig:"LEVELS_LOOKBACK" default:"120"`
	MinBars         int     `envconfig:"LEVELS_MIN_BARS" default:"20"`
	TolerancePct    float64 `envconfig:"LEVELS_TOLERANCE_PCT" default:"0.5"`
	MinRevisits     int     `envconfig:"LEVELS_MIN_REVISITS" default:"2"`
	PriceField      string  `envconfig:"LEVELS_PRICE_FIELD" default:"close"`
	// ATR-scaled tolerance; 0 keeps the fixed TolerancePct
	ATRMultiple float64 `envconfig:"LEVELS_ATR_MULTIPLE" default:"0"`
	ATRPeriod   int     `envconfig:"LEVELS_ATR_PERIOD" default:"14"`
	// Band around S1/R1 used for the level zone of a trend label
	ZoneBandPct float64 `envconfig:"LEVELS_ZONE_BAND_PCT" default:"0.5"`
}

type TrendConfig struct {
	FastPeriod    int     `envconfig:"TREND_FAST_PERIOD" default:"8"`
	SlowPeriod    int     `envconfig:"TREND_SLOW_PERIOD" default:"21"`
	SaturationPct float64 `envconfig:"TREND_SATURATION_PCT" default:"1.0"`
	DeadZone      float64 `envconfig:"TREND_DEAD_ZONE" default:"0.2"`
	ChunkSize     int     `envconfig:"TREND_WRITE_CHUNK_SIZE" default:"1000"`
	// Timeframes relabelled by a pipeline run, comma separated
	Timeframes []string `envconfig:"TREND_TIMEFRAMES" default:"1m,5m,15m,60m,daily,weekly,monthly"`
	// Horizon in bars for the win-rate statistic
	WinRateHorizon int `envconfig:"TREND_WIN_RATE_HORIZON" default:"5"`
}

type IngestConfig struct {
	BatchSize int `envconfig:"INGEST_BATCH_SIZE" default:"5000"`
}

// WorkerConfig contains intervals for the background workers
type WorkerConfig struct {
	PipelineInterval time.Duration `envconfig:"WORKER_PIPELINE_INTERVAL" default:"15m"`
	CoverageInterval time.Duration `envconfig:"WORKER_COVERAGE_INTERVAL" default:"1h"`
	// Window re-aggregated by the periodic pipeline run; 0 means all history
	PipelineLookback time.Duration `envconfig:"WORKER_PIPELINE_LOOKBACK" default:"96h"`
	// Recompute automatically when coverage verification reports stale labels
	CoverageAutoRepair bool `envconfig:"WORKER_COVERAGE_AUTO_REPAIR" default:"true"`
	// Max securities recomputed concurrently by the pipeline worker
	MaxConcurrency int `envconfig:"WORKER_PIPELINE_MAX_CONCURRENCY" default:"2"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	var errs errors.MultiError

	if _, err := c.Market.Location(); err != nil {
		errs.Add(err)
	}
	if _, _, err := c.Market.SessionMinutes(); err != nil {
		errs.Add(err)
	}
	if c.Trend.FastPeriod < 2 || c.Trend.SlowPeriod <= c.Trend.FastPeriod {
		errs.Add(errors.NewValidationError("TREND_SLOW_PERIOD", "slow period must exceed fast period (fast >= 2)", c.Trend.SlowPeriod))
	}
	if c.Trend.SaturationPct <= 0 {
		errs.Add(errors.NewValidationError("TREND_SATURATION_PCT", "must be positive", c.Trend.SaturationPct))
	}
	if c.Trend.DeadZone < 0 || c.Trend.DeadZone >= 1 {
		errs.Add(errors.NewValidationError("TREND_DEAD_ZONE", "must be in [0,1)", c.Trend.DeadZone))
	}
	if _, err := market_data.ParseTimeframes(c.Trend.Timeframes); err != nil {
		errs.Add(errors.Wrap(err, "TREND_TIMEFRAMES"))
	}
	if _, err := market_data.ParseTimeframe(c.Levels.SourceTimeframe); err != nil {
		errs.Add(errors.Wrap(err, "LEVELS_SOURCE_TIMEFRAME"))
	}
	if c.Levels.TolerancePct <= 0 && c.Levels.ATRMultiple <= 0 {
		errs.Add(errors.NewValidationError("LEVELS_TOLERANCE_PCT", "must be positive", c.Levels.TolerancePct))
	}
	if c.Ingest.BatchSize <= 0 {
		errs.Add(errors.NewValidationError("INGEST_BATCH_SIZE", "must be positive", c.Ingest.BatchSize))
	}
	if c.ErrorTracking.Enabled && c.ErrorTracking.Provider == "sentry" && c.ErrorTracking.SentryDSN == "" {
		errs.Add(errors.NewValidationError("SENTRY_DSN", "required when error tracking is enabled", ""))
	}

	return errs.ToError()
}
