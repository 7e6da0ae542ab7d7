package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/pkg/errors"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_USER", "trendboard")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "trendboard")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "15380", cfg.Market.SecurityID)
	assert.Equal(t, []string{"1m", "5m", "15m", "60m", "daily", "weekly", "monthly"}, cfg.Trend.Timeframes)
	assert.True(t, cfg.Aggregation.DeriveIntraday)
	assert.Equal(t, 5000, cfg.Ingest.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Workers.PipelineInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)

	offset, length, err := cfg.Market.SessionMinutes()
	require.NoError(t, err)
	assert.Equal(t, 9*60+15, offset)
	assert.Equal(t, 375, length)

	loc, err := cfg.Market.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())

	assert.Contains(t, cfg.Postgres.DSN(), "statement_timeout=300000")
}

func TestLoad_MissingPostgres(t *testing.T) {
	setRequired(t)
	os.Unsetenv("POSTGRES_HOST")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Trend.FastPeriod = 21
	cfg.Trend.SlowPeriod = 8
	cfg.Trend.Timeframes = []string{"daily", "2h"}
	cfg.Market.SessionOpen = "15:30"
	cfg.Levels.TolerancePct = 0

	err = cfg.Validate()
	require.Error(t, err)
	var multi *errors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Equal(t, 4, multi.Len())
	assert.True(t, errors.Is(err, errors.ErrInvalidTimeframe))

	cfg.Levels.ATRMultiple = 1.5
	err = cfg.Validate()
	require.True(t, errors.As(err, &multi))
	assert.Equal(t, 3, multi.Len())
}
