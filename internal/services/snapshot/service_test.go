package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/services/trend"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

type fixture struct {
	bars   *testsupport.BarStore
	labels *testsupport.TrendStore
	trends *trend.Service
	cache  *testsupport.MemCache
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 2700 - float64(i)*2
	}
	closes[28] = 2646.5
	closes[29] = 2615

	bars := testsupport.NewBarStore(testsupport.DailySeries(day0, closes)...)
	labels := testsupport.NewTrendStore(bars)
	labeler, err := trend.NewLabeler(trend.DefaultParams())
	require.NoError(t, err)

	f := &fixture{
		bars:   bars,
		labels: labels,
		trends: trend.NewService(bars, labels, nil, labeler, trend.Options{}),
		cache:  testsupport.NewMemCache(),
	}
	securities := testsupport.NewSecurityStore(market_data.Security{SecurityID: testsupport.SecurityID, Symbol: "MANKIND"})
	f.svc = NewService(bars, securities, nil, labels, Options{
		Fingerprint: f.trends.Fingerprint(),
		Cache:       f.cache,
		Now:         testsupport.Clock(day0.AddDate(0, 2, 0)),
	})
	return f
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.trends.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	snap, err := f.svc.Build(ctx, testsupport.SecurityID)
	require.NoError(t, err)

	assert.Equal(t, "MANKIND", snap.Symbol)
	require.NotNil(t, snap.DayChange)
	assert.Equal(t, "-1.19", snap.DayChange.StringFixed(2))
	assert.Equal(t, "2615", snap.LastClose.String())

	daily, ok := snap.View(market_data.TimeframeDaily)
	require.True(t, ok)
	require.NotNil(t, daily.Bar)
	require.NotNil(t, daily.Label)
	assert.False(t, daily.Stale)
	assert.Equal(t, trenddomain.DirectionDown, daily.Label.Direction)

	weekly, ok := snap.View(market_data.TimeframeWeekly)
	require.True(t, ok)
	assert.Nil(t, weekly.Bar)
	assert.False(t, weekly.Stale)
}

func TestBuild_UnlabelledNewestBarIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.trends.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	_, err = f.bars.UpsertBars(ctx, testsupport.DailySeries(day0.AddDate(0, 3, 0), []float64{2620}))
	require.NoError(t, err)

	snap, err := f.svc.Build(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	daily, _ := snap.View(market_data.TimeframeDaily)
	assert.True(t, daily.Stale)
}

func TestBuild_NoLabelsIsStale(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.Build(context.Background(), testsupport.SecurityID)
	require.NoError(t, err)
	daily, _ := snap.View(market_data.TimeframeDaily)
	assert.Nil(t, daily.Label)
	assert.True(t, daily.Stale)
}

func TestGet_CachesUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Get(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.Sets)

	second, err := f.svc.Get(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.Sets)
	assert.True(t, first.DayChange.Equal(*second.DayChange))
	assert.True(t, first.GeneratedAt.Equal(second.GeneratedAt))

	require.NoError(t, f.svc.Recomputed(ctx, &pipeline.Result{SecurityID: testsupport.SecurityID}))
	assert.Zero(t, f.cache.Len())

	_, err = f.svc.Get(ctx, testsupport.SecurityID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.cache.Sets)
}

func TestGet_CacheErrorFallsBackToBuild(t *testing.T) {
	f := newFixture(t)
	f.cache.GetErr = errors.ErrUnavailable

	snap, err := f.svc.Get(context.Background(), testsupport.SecurityID)
	require.NoError(t, err)
	assert.Equal(t, testsupport.SecurityID, snap.SecurityID)
}
