package trend

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newLabeler(t *testing.T) *Labeler {
	t.Helper()
	l, err := NewLabeler(DefaultParams())
	require.NoError(t, err)
	return l
}

func geometric(n int, start, growth float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+growth, float64(i))
	}
	return out
}

func TestLabel_OneLabelPerBarInOrder(t *testing.T) {
	bars := testsupport.DailySeries(day0, geometric(50, 100, 0.01))

	labels, err := newLabeler(t).Label(bars, nil)
	require.NoError(t, err)
	require.Len(t, labels, len(bars))

	for i, l := range labels {
		assert.Equal(t, bars[i].Timestamp, l.BarTime)
		assert.Equal(t, testsupport.SecurityID, l.SecurityID)
		assert.Equal(t, market_data.TimeframeDaily, l.Timeframe)
		assert.Equal(t, DefaultParams().Fingerprint(), l.ParamsFingerprint)
		assert.True(t, l.Direction.Valid())
	}
}

func TestLabel_WarmUpIsNeutral(t *testing.T) {
	bars := testsupport.DailySeries(day0, geometric(30, 100, 0.02))

	labels, err := newLabeler(t).Label(bars, nil)
	require.NoError(t, err)

	for i := 0; i < DefaultParams().WarmUp(); i++ {
		assert.Equal(t, trenddomain.DirectionNeutral, labels[i].Direction, "bar %d", i)
		assert.Zero(t, labels[i].Strength)
	}
	assert.Equal(t, trenddomain.DirectionUp, labels[len(labels)-1].Direction)
}

func TestLabel_ShortSeriesIsAllNeutral(t *testing.T) {
	bars := testsupport.DailySeries(day0, geometric(10, 100, 0.02))

	labels, err := newLabeler(t).Label(bars, nil)
	require.NoError(t, err)
	require.Len(t, labels, 10)
	for _, l := range labels {
		assert.Equal(t, trenddomain.DirectionNeutral, l.Direction)
	}
}

func TestLabel_Directions(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		want     trenddomain.Direction
		strength float64
	}{
		{name: "steady climb saturates", closes: geometric(60, 100, 0.01), want: trenddomain.DirectionUp, strength: 1},
		{name: "steady fall saturates", closes: geometric(60, 100, -0.01), want: trenddomain.DirectionDown, strength: 1},
		{name: "flat", closes: geometric(60, 100, 0), want: trenddomain.DirectionNeutral, strength: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := newLabeler(t).Label(testsupport.DailySeries(day0, tt.closes), nil)
			require.NoError(t, err)

			last := labels[len(labels)-1]
			assert.Equal(t, tt.want, last.Direction)
			assert.InDelta(t, tt.strength, last.Strength, 1e-9)
			assert.InDelta(t, math.Abs(last.Score), last.Strength, 1e-12)
		})
	}
}

// The dashboard read "up" for a session that fell 1.19%. Labelling only the
// session's own bars leaves the first 20 bars in warm-up and the late
// recovery reads as an uptrend; with the full history the bar before the
// rejection is a downtrend.
func TestLabel_IncidentNeedsFullHistory(t *testing.T) {
	prior, day := testsupport.IncidentSeries(t)
	l := newLabeler(t)

	assert.Equal(t, "2618", day[0].Open.String())
	assert.Equal(t, "2615", day[len(day)-1].Close.String())
	low := day[0].Low
	for _, b := range day {
		low = decimal.Min(low, b.Low)
	}
	assert.Equal(t, "2581", low.String())
	change := day[len(day)-1].Close.Sub(decimal.NewFromFloat(testsupport.IncidentPrevClose)).
		Div(decimal.NewFromFloat(testsupport.IncidentPrevClose)).Mul(decimal.NewFromInt(100))
	assert.Equal(t, "-1.19", change.StringFixed(2))

	full, err := l.Label(append(append([]market_data.Bar{}, prior...), day...), nil)
	require.NoError(t, err)
	fullDay := full[len(prior):]

	beforeRejection := testsupport.IncidentRejectionBar - 1
	assert.Equal(t, trenddomain.DirectionDown, fullDay[beforeRejection].Direction)
	assert.InDelta(t, -0.498, fullDay[beforeRejection].Score, 0.005)
	for i := 0; i <= beforeRejection; i++ {
		assert.Equal(t, trenddomain.DirectionDown, fullDay[i].Direction, "bar %d", i)
	}
	assert.Equal(t, trenddomain.DirectionNeutral, fullDay[len(fullDay)-1].Direction)

	tail, err := l.Label(day, nil)
	require.NoError(t, err)
	assert.Equal(t, trenddomain.DirectionNeutral, tail[beforeRejection].Direction)
	assert.Equal(t, trenddomain.DirectionUp, tail[len(tail)-1].Direction)
}

func TestLabel_LabelsAreCausal(t *testing.T) {
	closes := geometric(80, 100, 0.004)
	for i := 40; i < len(closes); i++ {
		closes[i] = closes[39] * math.Pow(0.99, float64(i-39))
	}
	bars := testsupport.DailySeries(day0, closes)
	l := newLabeler(t)

	full, err := l.Label(bars, nil)
	require.NoError(t, err)
	prefix, err := l.Label(bars[:45], nil)
	require.NoError(t, err)

	for i := range prefix {
		assert.Equal(t, prefix[i], full[i], "bar %d", i)
	}
}

func TestLabel_LevelZone(t *testing.T) {
	asOf := day0.Add(24 * time.Hour)
	set := &levelsdomain.LevelSet{
		AsOf: asOf,
		Levels: []levelsdomain.Level{
			{Side: levelsdomain.SideResistance, Rank: 1, Price: decimal.NewFromInt(110)},
			{Side: levelsdomain.SideSupport, Rank: 1, Price: decimal.NewFromInt(100)},
		},
	}
	history := levelsdomain.NewHistory([]*levelsdomain.LevelSet{set})

	tf := market_data.TimeframeDaily
	bars := []market_data.Bar{
		testsupport.NewBar(tf, day0, 109, 109.8, 108, 109.5, 1),                   // before AsOf
		testsupport.NewBar(tf, day0.AddDate(0, 0, 1), 109, 109.6, 108, 109, 1),    // high within 0.5% of R1
		testsupport.NewBar(tf, day0.AddDate(0, 0, 2), 101, 102, 100.4, 101, 1),    // low within 0.5% of S1
		testsupport.NewBar(tf, day0.AddDate(0, 0, 3), 105, 106, 104, 105, 1),      // between
		testsupport.NewBar(tf, day0.AddDate(0, 0, 4), 101, 110.2, 99.8, 100.5, 1), // both, close near S1
	}

	labels, err := newLabeler(t).Label(bars, history)
	require.NoError(t, err)

	want := []trenddomain.LevelZone{
		trenddomain.ZoneNone,
		trenddomain.ZoneAtResistance,
		trenddomain.ZoneAtSupport,
		trenddomain.ZoneNone,
		trenddomain.ZoneAtSupport,
	}
	for i, w := range want {
		assert.Equal(t, w, labels[i].LevelZone, "bar %d", i)
	}
}

func TestLabel_RejectsUnsortedOrMixedSeries(t *testing.T) {
	bars := testsupport.DailySeries(day0, geometric(5, 100, 0.01))
	l := newLabeler(t)

	swapped := append([]market_data.Bar{}, bars...)
	swapped[1], swapped[2] = swapped[2], swapped[1]
	_, err := l.Label(swapped, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	mixed := append([]market_data.Bar{}, bars...)
	mixed[3].Timeframe = market_data.TimeframeWeekly
	_, err = l.Label(mixed, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	labels, err := l.Label(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, "ema_cross:fast=8,slow=21,sat=1.00,dz=0.20,zone=0.50", p.Fingerprint())

	p.SlowPeriod = p.FastPeriod
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.DeadZone = 1
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.SaturationPct = 2
	assert.NotEqual(t, DefaultParams().Fingerprint(), p.Fingerprint())
}
