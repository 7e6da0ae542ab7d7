package levels

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/testsupport"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// barsFromCloses builds one flat bar per close on consecutive days
func barsFromCloses(closes []float64) []market_data.Bar {
	out := make([]market_data.Bar, len(closes))
	for i, c := range closes {
		out[i] = testsupport.NewBar(market_data.TimeframeDaily, day0.AddDate(0, 0, i), c, c, c, c, 1000)
	}
	return out
}

func newEstimator(t *testing.T, mutate func(p *Params)) *Estimator {
	t.Helper()
	p := DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	e, err := NewEstimator(p)
	require.NoError(t, err)
	return e
}

func price(l levelsdomain.Level) float64 {
	return l.Price.InexactFloat64()
}

func TestEstimate_RangeBoundSeries(t *testing.T) {
	pattern := []float64{100, 102, 105, 108, 110, 108, 105, 102}
	var closes []float64
	for i := 0; i < 4; i++ {
		closes = append(closes, pattern...)
	}
	closes = append(closes, 105)

	set := newEstimator(t, nil).Estimate(barsFromCloses(closes), day0.AddDate(0, 2, 0))

	assert.True(t, set.ReferencePrice.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, len(closes), set.BarsUsed)

	s1, ok := set.Support(1)
	require.True(t, ok)
	assert.InDelta(t, 102, price(s1), 1e-9)
	assert.Equal(t, 8, s1.Revisits)
	s2, ok := set.Support(2)
	require.True(t, ok)
	assert.InDelta(t, 100, price(s2), 1e-9)
	_, ok = set.Support(3)
	assert.False(t, ok, "only two qualifying clusters below the reference")

	r1, ok := set.Resistance(1)
	require.True(t, ok)
	assert.InDelta(t, 108, price(r1), 1e-9)
	r2, ok := set.Resistance(2)
	require.True(t, ok)
	assert.InDelta(t, 110, price(r2), 1e-9)
	_, ok = set.Resistance(3)
	assert.False(t, ok)

	// the cluster at the reference price is neither support nor resistance
	for _, l := range set.Levels {
		assert.NotEqual(t, 105.0, price(l))
	}
}

func TestEstimate_KeepsThreeStrongestPerSide(t *testing.T) {
	closes := []float64{
		90, 101, 93, 101, 96, 101, 99, 101,
		90, 101, 93, 101, 96, 101, 99, 101,
		93, 101, 96, 101, 99, 101,
		96, 101, 99, 101,
		99, 101,
	}
	set := newEstimator(t, nil).Estimate(barsFromCloses(closes), day0)

	support := set.Side(levelsdomain.SideSupport)
	require.Len(t, support, 3)
	assert.InDelta(t, 99, price(support[0]), 1e-9)
	assert.InDelta(t, 96, price(support[1]), 1e-9)
	assert.InDelta(t, 93, price(support[2]), 1e-9)
	assert.Equal(t, 5, support[0].Revisits)
	assert.Empty(t, set.Side(levelsdomain.SideResistance))
}

func TestEstimate_MissingLevels(t *testing.T) {
	// steady climb to new highs: nothing is revisited
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 2500 + float64(i)*3
	}
	set := newEstimator(t, nil).Estimate(barsFromCloses(closes), day0)

	_, ok := set.Resistance(1)
	assert.False(t, ok)
	_, ok = set.Support(1)
	assert.False(t, ok)
	assert.True(t, set.Empty())
	assert.True(t, set.ReferencePrice.Equal(decimal.NewFromInt(2617)))
}

func TestEstimate_ContiguousTouchesAreOneVisit(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 10; i++ {
		closes = append(closes, 120) // one long visit
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 100+float64(i%2)*4) // 100/104 alternate
	}
	set := newEstimator(t, nil).Estimate(barsFromCloses(closes), day0)

	for _, l := range set.Levels {
		assert.NotEqual(t, 120.0, price(l), "a single run never qualifies")
	}
}

func TestEstimate_TooFewBars(t *testing.T) {
	set := newEstimator(t, nil).Estimate(barsFromCloses([]float64{100, 101, 100, 101, 100}), day0)
	assert.True(t, set.Empty())
	assert.Equal(t, 5, set.BarsUsed)
	assert.True(t, set.ReferencePrice.Equal(decimal.NewFromInt(100)))

	empty := newEstimator(t, nil).Estimate(nil, day0)
	assert.True(t, empty.Empty())
}

func TestEstimate_LookbackWindow(t *testing.T) {
	// old range-bound history followed by a fresh range far above it
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 50+float64(i%2)*5)
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 200+float64(i%3)*10)
	}
	set := newEstimator(t, func(p *Params) { p.Lookback = 30 }).Estimate(barsFromCloses(closes), day0)

	assert.Equal(t, 30, set.BarsUsed)
	for _, l := range set.Levels {
		assert.Greater(t, price(l), 150.0, "bars outside the lookback are ignored")
	}
}

func TestEstimate_HighLowField(t *testing.T) {
	bars := make([]market_data.Bar, 0, 24)
	prev := 100.0
	for i := 0; i < 24; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 104
		}
		h := max(prev, c) + 0.5
		l := min(prev, c) - 0.5
		if i%4 == 0 {
			h = 110
		}
		if i%4 == 2 {
			l = 95
		}
		bars = append(bars, testsupport.NewBar(market_data.TimeframeDaily, day0.AddDate(0, 0, i), prev, h, l, c, 1000))
		prev = c
	}
	set := newEstimator(t, func(p *Params) { p.PriceField = PriceHighLow }).Estimate(bars, day0)
	ref := set.ReferencePrice.InexactFloat64()

	var sawResistance, sawSupport bool
	for _, l := range set.Side(levelsdomain.SideResistance) {
		assert.Greater(t, price(l), ref)
		if price(l) == 110 {
			sawResistance = true
		}
	}
	for _, l := range set.Side(levelsdomain.SideSupport) {
		assert.Less(t, price(l), ref)
		if price(l) == 95 {
			sawSupport = true
		}
	}
	assert.True(t, sawResistance, "repeated highs form resistance")
	assert.True(t, sawSupport, "repeated lows form support")
}

func TestEstimator_ATRTolerance(t *testing.T) {
	bars := make([]market_data.Bar, 20)
	for i := range bars {
		bars[i] = testsupport.NewBar(market_data.TimeframeDaily, day0.AddDate(0, 0, i), 100, 101, 99, 100, 1)
	}
	e := newEstimator(t, func(p *Params) { p.ATRMultiple = 0.5 })
	assert.InDelta(t, 1.0, e.tolerance(bars, 100), 1e-9)

	fixed := newEstimator(t, nil)
	assert.InDelta(t, 0.5, fixed.tolerance(bars, 100), 1e-9)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.PriceField = "open"
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.MinBars = p.Lookback + 1
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.TolerancePct = 0
	assert.Error(t, p.Validate())
	p.ATRMultiple = 1
	assert.NoError(t, p.Validate())
}

func TestEstimate_LevelsNeverOnReference(t *testing.T) {
	tests := []struct {
		name    string
		pattern []float64
		side    levelsdomain.Side
		nearest string
	}{
		{"support cluster just under the close", []float64{99.99, 95, 100.00, 95}, levelsdomain.SideSupport, "99.99"},
		{"resistance cluster just over the close", []float64{100.01, 105, 100.00, 105}, levelsdomain.SideResistance, "100.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closes []float64
			for i := 0; i < 6; i++ {
				closes = append(closes, tt.pattern...)
			}
			closes = append(closes, 100)

			set := newEstimator(t, nil).Estimate(barsFromCloses(closes), day0.AddDate(0, 2, 0))
			require.True(t, set.ReferencePrice.Equal(decimal.NewFromInt(100)))

			for _, l := range set.Side(levelsdomain.SideSupport) {
				assert.True(t, l.Price.LessThan(set.ReferencePrice), "support %s", l.Price)
			}
			for _, l := range set.Side(levelsdomain.SideResistance) {
				assert.True(t, l.Price.GreaterThan(set.ReferencePrice), "resistance %s", l.Price)
			}

			nearest := set.Side(tt.side)
			require.NotEmpty(t, nearest)
			assert.Equal(t, tt.nearest, nearest[0].Price.StringFixed(2))
		})
	}
}
