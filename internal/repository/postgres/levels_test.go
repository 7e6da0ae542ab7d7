package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

func levelSet(sec string, asOf time.Time, ref float64, prices ...float64) *levelsdomain.LevelSet {
	set := &levelsdomain.LevelSet{
		SecurityID:     sec,
		Timeframe:      market_data.TimeframeDaily,
		AsOf:           asOf,
		ReferencePrice: decimal.NewFromFloat(ref),
		Lookback:       120,
		BarsUsed:       60,
	}
	for i, p := range prices {
		side := levelsdomain.SideSupport
		if p > ref {
			side = levelsdomain.SideResistance
		}
		set.Levels = append(set.Levels, levelsdomain.Level{
			SecurityID: sec,
			Timeframe:  market_data.TimeframeDaily,
			Side:       side,
			Rank:       i%2 + 1,
			Price:      decimal.NewFromFloat(p),
			Touches:    3,
			Revisits:   2,
			AsOf:       asOf,
		})
	}
	return set
}

func TestLevelRepository_InsertAndRead(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	sec := NewTestFixtures(t, testDB.Tx()).CreateSecurity()
	repo := NewLevelRepository(testDB.Tx())
	ctx := context.Background()

	_, err := repo.GetCurrent(ctx, sec, market_data.TimeframeDaily)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	older := levelSet(sec, day0, 2650, 2600, 2700)
	newer := levelSet(sec, day0.AddDate(0, 0, 7), 2640, 2590, 2610, 2680)
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newer))
	assert.NotZero(t, older.ID)
	assert.Greater(t, newer.ID, older.ID)

	current, err := repo.GetCurrent(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, current.ID)
	require.Len(t, current.Levels, 3)
	s1, ok := current.Support(1)
	require.True(t, ok)
	assert.Equal(t, "2590", s1.Price.String())

	history, err := repo.GetHistory(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, older.ID, history[0].ID)
	assert.Len(t, history[0].Levels, 2)

	active := levelsdomain.NewHistory(history).ActiveAt(day0.AddDate(0, 0, 3))
	require.NotNil(t, active)
	assert.Equal(t, older.ID, active.ID)
}
