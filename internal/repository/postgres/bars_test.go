package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func TestBarRepository_UpsertCountsOnlyChanges(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	fixtures := NewTestFixtures(t, testDB.Tx())
	sec := fixtures.CreateSecurity()

	repo := NewBarRepository(testDB.Tx())
	ctx := context.Background()
	bars := testsupport.DailySeries(day0, []float64{2700, 2690, 2680})

	written, err := repo.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	written, err = repo.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Zero(t, written, "replaying identical bars must not touch rows")

	bars[2].Volume = 12345
	written, err = repo.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	count, err := repo.CountBars(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBarRepository_Reads(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	fixtures := NewTestFixtures(t, testDB.Tx())
	sec := fixtures.CreateSecurity()
	stored := fixtures.CreateDailyBars(day0, []float64{2700, 2690, 2680, 2670, 2660})

	repo := NewBarRepository(testDB.Tx())
	ctx := context.Background()

	all, err := repo.GetBars(ctx, sec, market_data.TimeframeDaily, market_data.Range{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
	}
	assert.True(t, all[0].Close.Equal(stored[0].Close))

	window, err := repo.GetBars(ctx, sec, market_data.TimeframeDaily, market_data.Range{
		From: stored[1].Timestamp,
		To:   stored[3].Timestamp,
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	recent, err := repo.GetRecentBars(ctx, sec, market_data.TimeframeDaily, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2670", recent[0].Close.String())
	assert.Equal(t, "2660", recent[1].Close.String())

	latest, err := repo.GetLatestBar(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.True(t, latest.Timestamp.Equal(stored[4].Timestamp))

	_, err = repo.GetLatestBar(ctx, sec, market_data.TimeframeWeekly)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestBarRepository_EnvelopeEnforcedByDatabase(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	fixtures := NewTestFixtures(t, testDB.Tx())
	fixtures.CreateSecurity()

	bar := testsupport.DailySeries(day0, []float64{2700})[0]
	bar.High = bar.Low.Sub(bar.Low)

	_, err := NewBarRepository(testDB.Tx()).UpsertBars(context.Background(), []market_data.Bar{bar})
	assert.Error(t, err)
}

func TestBarRepository_SessionDays(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	fixtures := NewTestFixtures(t, testDB.Tx())
	sec := fixtures.CreateSecurity()

	repo := NewBarRepository(testDB.Tx())
	ctx := context.Background()
	ist := testsupport.IST(t)

	// 00:10 IST on the 5th is still the 4th in UTC
	bars := testsupport.MinuteSession(time.Date(2024, 3, 4, 9, 15, 0, 0, ist), 3, 2600)
	bars = append(bars, testsupport.MinuteSession(time.Date(2024, 3, 5, 0, 10, 0, 0, ist), 2, 2600)...)
	_, err := repo.UpsertBars(ctx, bars)
	require.NoError(t, err)

	days, err := repo.SessionDays(ctx, sec, market_data.Timeframe1m, ist)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.True(t, days[0].Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, ist)))
	assert.True(t, days[1].Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, ist)))

	none, err := repo.SessionDays(ctx, sec, market_data.TimeframeDaily, ist)
	require.NoError(t, err)
	assert.Empty(t, none)
}
