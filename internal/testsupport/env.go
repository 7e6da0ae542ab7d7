package testsupport

import (
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"

	"trendboard/internal/adapters/config"
)

// IntegrationConfig holds the stores integration tests talk to. It is read
// from the same variables the service reads.
type IntegrationConfig struct {
	Postgres   config.PostgresConfig
	ClickHouse config.ClickHouseConfig
	Redis      config.RedisConfig
}

// LoadIntegrationConfig skips the test in -short mode or when the Postgres
// variables are missing. ClickHouse and Redis are enabled only when their
// host variable is set, regardless of *_ENABLED; Redis is moved to
// REDIS_TEST_DB (default 15) because the helper flushes it.
func LoadIntegrationConfig(t testing.TB) IntegrationConfig {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	var cfg IntegrationConfig
	if err := envconfig.Process("", &cfg.Postgres); err != nil || cfg.Postgres.Host == "" {
		t.Skipf("integration environment missing: set POSTGRES_HOST, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB (%v)", err)
	}
	cfg.Postgres.MaxConns = 4
	cfg.Postgres.AutoMigrate = false

	if err := envconfig.Process("", &cfg.ClickHouse); err != nil {
		t.Fatalf("clickhouse env: %v", err)
	}
	cfg.ClickHouse.Enabled = os.Getenv("CLICKHOUSE_HOST") != ""

	if err := envconfig.Process("", &cfg.Redis); err != nil {
		t.Fatalf("redis env: %v", err)
	}
	cfg.Redis.Enabled = os.Getenv("REDIS_HOST") != ""

	var testDB struct {
		DB int `envconfig:"REDIS_TEST_DB" default:"15"`
	}
	if err := envconfig.Process("", &testDB); err != nil {
		t.Fatalf("redis env: %v", err)
	}
	cfg.Redis.DB = testDB.DB

	return cfg
}
