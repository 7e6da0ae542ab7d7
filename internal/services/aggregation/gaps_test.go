package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/testsupport"
)

func TestService_Gaps_SessionNeverAggregated(t *testing.T) {
	cal := newCalendar(t)
	loc := cal.Location()
	ctx := context.Background()

	minutes := testsupport.MinuteSession(sessionOpen(loc, 2024, 3, 4), 375, 2600)
	minutes = append(minutes, testsupport.MinuteSession(sessionOpen(loc, 2024, 3, 5), 375, 2650)...)
	store := testsupport.NewBarStore(minutes...)
	svc := NewService(store, cal, Options{DeriveIntraday: true})

	mar4 := time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	mar5 := mar4.AddDate(0, 0, 1)
	_, err := svc.Aggregate(ctx, testsupport.SecurityID, market_data.Range{From: mar4, To: mar5})
	require.NoError(t, err)

	gaps, err := svc.Gaps(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	require.Len(t, gaps, 4, "daily plus three intraday series miss the 5th")
	for _, g := range gaps {
		assert.True(t, g.Range.From.Equal(mar5), g.Timeframe)
		assert.True(t, g.Range.To.Equal(mar5.AddDate(0, 0, 1)), g.Timeframe)
	}
	assert.Equal(t, 1, CountGaps(gaps, market_data.TimeframeDaily))
	assert.Zero(t, CountGaps(gaps, market_data.TimeframeWeekly))

	ranges := MergeGaps(gaps)
	require.Len(t, ranges, 1)
	for _, r := range ranges {
		_, err := svc.Aggregate(ctx, testsupport.SecurityID, r)
		require.NoError(t, err)
	}

	gaps, err = svc.Gaps(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.Len(t, store.Series(testsupport.SecurityID, market_data.TimeframeDaily), 2)
}

func TestService_Gaps_MissingPeriods(t *testing.T) {
	cal := newCalendar(t)
	loc := cal.Location()
	ctx := context.Background()

	store := testsupport.NewBarStore(testsupport.MinuteSession(sessionOpen(loc, 2024, 3, 4), 375, 2600)...)
	svc := NewService(store, cal, Options{})
	_, err := svc.Aggregate(ctx, testsupport.SecurityID, market_data.Range{})
	require.NoError(t, err)

	require.Equal(t, 1, store.Delete(testsupport.SecurityID, market_data.TimeframeWeekly, market_data.Range{}))
	require.Equal(t, 1, store.Delete(testsupport.SecurityID, market_data.TimeframeMonthly, market_data.Range{}))

	gaps, err := svc.Gaps(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, market_data.TimeframeMonthly, gaps[0].Timeframe)
	assert.True(t, gaps[0].Range.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)))
	assert.Equal(t, market_data.TimeframeWeekly, gaps[1].Timeframe)
	assert.True(t, gaps[1].Range.From.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, loc)))

	// intraday series are not expected unless derived
	assert.Zero(t, CountGaps(gaps, market_data.Timeframe15m))
}

func TestMergeGaps(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	gaps := []Gap{
		{Timeframe: market_data.TimeframeDaily, Range: market_data.Range{From: day.AddDate(0, 0, 10), To: day.AddDate(0, 0, 11)}},
		{Timeframe: market_data.TimeframeDaily, Range: market_data.Range{From: day, To: day.AddDate(0, 0, 1)}},
		{Timeframe: market_data.TimeframeWeekly, Range: market_data.Range{From: day, To: day.AddDate(0, 0, 7)}},
		{Timeframe: market_data.Timeframe5m, Range: market_data.Range{From: day.AddDate(0, 0, 7), To: day.AddDate(0, 0, 8)}},
	}

	ranges := MergeGaps(gaps)
	require.Len(t, ranges, 2)
	assert.Equal(t, market_data.Range{From: day, To: day.AddDate(0, 0, 8)}, ranges[0])
	assert.Equal(t, market_data.Range{From: day.AddDate(0, 0, 10), To: day.AddDate(0, 0, 11)}, ranges[1])
	assert.Nil(t, MergeGaps(nil))
}
