package testsupport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadIntegrationConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("loader skips in short mode")
	}
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_USER", "trend")
	t.Setenv("POSTGRES_PASSWORD", "pass")
	t.Setenv("POSTGRES_DB", "trendboard_test")
	t.Setenv("POSTGRES_PORT", "5543")
	t.Setenv("CLICKHOUSE_HOST", "")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "0")
	t.Setenv("REDIS_TEST_DB", "9")

	cfg := LoadIntegrationConfig(t)

	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5543, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, 4, cfg.Postgres.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.Postgres.StatementTimeout)
	assert.False(t, cfg.Postgres.AutoMigrate)

	assert.False(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, "trend_label_history", cfg.ClickHouse.LabelTable)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr())
	assert.Equal(t, 9, cfg.Redis.DB, "tests never touch the service database")
}
