package levels

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/services/indicators"
	"trendboard/pkg/errors"
)

// PriceField selects which bar prices become level candidates
type PriceField string

const (
	PriceClose   PriceField = "close"
	PriceHighLow PriceField = "high_low" // highs feed resistance, lows feed support
	PriceTypical PriceField = "typical"  // (high+low+close)/3
)

// Params configure the estimator
type Params struct {
	Lookback     int
	MinBars      int
	TolerancePct float64
	MinRevisits  int
	PriceField   PriceField
	// ATRMultiple, when positive, replaces TolerancePct by ATR(ATRPeriod)*ATRMultiple
	// expressed as a percentage of the reference price
	ATRMultiple float64
	ATRPeriod   int
}

// DefaultParams returns the production defaults
func DefaultParams() Params {
	return Params{
		Lookback:     120,
		MinBars:      20,
		TolerancePct: 0.5,
		MinRevisits:  2,
		PriceField:   PriceClose,
		ATRPeriod:    14,
	}
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	switch {
	case p.Lookback <= 0:
		return errors.NewValidationError("lookback", "must be positive", p.Lookback)
	case p.MinBars <= 0 || p.MinBars > p.Lookback:
		return errors.NewValidationError("min_bars", "must be in [1, lookback]", p.MinBars)
	case p.TolerancePct <= 0 && p.ATRMultiple <= 0:
		return errors.NewValidationError("tolerance_pct", "must be positive", p.TolerancePct)
	case p.MinRevisits < 1:
		return errors.NewValidationError("min_revisits", "must be at least 1", p.MinRevisits)
	case p.ATRMultiple > 0 && p.ATRPeriod < 1:
		return errors.NewValidationError("atr_period", "must be positive", p.ATRPeriod)
	}
	switch p.PriceField {
	case PriceClose, PriceHighLow, PriceTypical:
		return nil
	}
	return errors.NewValidationError("price_field", "must be close, high_low or typical", p.PriceField)
}

// Estimator derives support/resistance levels from a bar window
type Estimator struct {
	params Params
}

// NewEstimator validates params and builds an estimator
func NewEstimator(p Params) (*Estimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{params: p}, nil
}

// Params returns the estimator configuration
func (e *Estimator) Params() Params {
	return e.params
}

type candidate struct {
	price float64
	idx   int
}

type cluster struct {
	sum     float64
	members []candidate
}

func (c *cluster) mean() float64 {
	return c.sum / float64(len(c.members))
}

// levelPrice is the stored price of the cluster on side, rounded to the
// tick away from the reference so it stays on its side
func (c *cluster) levelPrice(side levelsdomain.Side) decimal.Decimal {
	m := decimal.NewFromFloat(c.mean())
	if side == levelsdomain.SideSupport {
		return m.RoundFloor(2)
	}
	return m.RoundCeil(2)
}

// revisits counts separated runs of bar indexes inside the cluster
func (c *cluster) revisits() int {
	idx := make([]int, 0, len(c.members))
	for _, m := range c.members {
		idx = append(idx, m.idx)
	}
	sort.Ints(idx)

	runs := 0
	prev := -2
	for _, i := range idx {
		if i == prev {
			continue
		}
		if i != prev+1 {
			runs++
		}
		prev = i
	}
	return runs
}

// Estimate computes the level set from bars (any order) as of asOf.
// Fewer than MinBars bars yields an empty set.
func (e *Estimator) Estimate(bars []market_data.Bar, asOf time.Time) levelsdomain.LevelSet {
	window := make([]market_data.Bar, len(bars))
	copy(window, bars)
	sort.SliceStable(window, func(i, j int) bool { return window[i].Timestamp.Before(window[j].Timestamp) })
	if len(window) > e.params.Lookback {
		window = window[len(window)-e.params.Lookback:]
	}

	set := levelsdomain.LevelSet{AsOf: asOf, Lookback: e.params.Lookback, BarsUsed: len(window)}
	if len(window) == 0 {
		return set
	}
	last := window[len(window)-1]
	set.SecurityID = last.SecurityID
	set.Timeframe = last.Timeframe
	set.ReferencePrice = last.Close
	if len(window) < e.params.MinBars {
		return set
	}

	ref := last.Close.InexactFloat64()
	tol := e.tolerance(window, ref)

	var support, resistance []*cluster
	switch e.params.PriceField {
	case PriceHighLow:
		highs := make([]candidate, len(window))
		lows := make([]candidate, len(window))
		for i, b := range window {
			highs[i] = candidate{price: b.High.InexactFloat64(), idx: i}
			lows[i] = candidate{price: b.Low.InexactFloat64(), idx: i}
		}
		_, resistance = splitByReference(e.qualified(clusterize(highs, tol)), set.ReferencePrice)
		support, _ = splitByReference(e.qualified(clusterize(lows, tol)), set.ReferencePrice)
	default:
		cands := make([]candidate, len(window))
		for i, b := range window {
			cands[i] = candidate{price: e.price(b), idx: i}
		}
		support, resistance = splitByReference(e.qualified(clusterize(cands, tol)), set.ReferencePrice)
	}

	set.Levels = append(set.Levels, rank(support, ref, levelsdomain.SideSupport, set)...)
	set.Levels = append(set.Levels, rank(resistance, ref, levelsdomain.SideResistance, set)...)
	return set
}

func (e *Estimator) price(b market_data.Bar) float64 {
	if e.params.PriceField == PriceTypical {
		return b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3)).InexactFloat64()
	}
	return b.Close.InexactFloat64()
}

// tolerance returns the clustering band in percent
func (e *Estimator) tolerance(window []market_data.Bar, ref float64) float64 {
	if e.params.ATRMultiple <= 0 || ref <= 0 {
		return e.params.TolerancePct
	}
	data, err := indicators.PrepareData(window)
	if err != nil {
		return e.params.TolerancePct
	}
	atr, err := indicators.LastATR(data, e.params.ATRPeriod)
	if err != nil || atr <= 0 {
		return e.params.TolerancePct
	}
	return atr * e.params.ATRMultiple / ref * 100
}

func (e *Estimator) qualified(clusters []*cluster) []*cluster {
	out := clusters[:0]
	for _, c := range clusters {
		if c.revisits() >= e.params.MinRevisits {
			out = append(out, c)
		}
	}
	return out
}

// clusterize greedily groups sorted prices within tolPct of the running mean
func clusterize(cands []candidate, tolPct float64) []*cluster {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].price == sorted[j].price {
			return sorted[i].idx < sorted[j].idx
		}
		return sorted[i].price < sorted[j].price
	})

	var clusters []*cluster
	var cur *cluster
	for _, c := range sorted {
		if cur != nil {
			m := cur.mean()
			if math.Abs(c.price-m)/m*100 <= tolPct {
				cur.members = append(cur.members, c)
				cur.sum += c.price
				continue
			}
		}
		cur = &cluster{sum: c.price, members: []candidate{c}}
		clusters = append(clusters, cur)
	}
	return clusters
}

// splitByReference compares stored level prices, not raw means, so no
// level lands on the reference price
func splitByReference(clusters []*cluster, ref decimal.Decimal) (below, above []*cluster) {
	for _, c := range clusters {
		switch {
		case c.levelPrice(levelsdomain.SideSupport).LessThan(ref):
			below = append(below, c)
		case c.levelPrice(levelsdomain.SideResistance).GreaterThan(ref):
			above = append(above, c)
		}
	}
	return below, above
}

// rank keeps the MaxRank strongest clusters and numbers them nearest first
func rank(clusters []*cluster, ref float64, side levelsdomain.Side, set levelsdomain.LevelSet) []levelsdomain.Level {
	dist := func(c *cluster) float64 { return math.Abs(c.mean() - ref) }

	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if ra, rb := a.revisits(), b.revisits(); ra != rb {
			return ra > rb
		}
		if len(a.members) != len(b.members) {
			return len(a.members) > len(b.members)
		}
		return dist(a) < dist(b)
	})
	if len(clusters) > levelsdomain.MaxRank {
		clusters = clusters[:levelsdomain.MaxRank]
	}
	sort.SliceStable(clusters, func(i, j int) bool { return dist(clusters[i]) < dist(clusters[j]) })

	out := make([]levelsdomain.Level, 0, len(clusters))
	for i, c := range clusters {
		out = append(out, levelsdomain.Level{
			SecurityID: set.SecurityID,
			Timeframe:  set.Timeframe,
			Side:       side,
			Rank:       i + 1,
			Price:      c.levelPrice(side),
			Touches:    len(c.members),
			Revisits:   c.revisits(),
			AsOf:       set.AsOf,
		})
	}
	return out
}

// String describes the parameters for logs
func (p Params) String() string {
	return fmt.Sprintf("lookback=%d min_bars=%d tol=%.2f%% min_revisits=%d field=%s atr_x=%.2f",
		p.Lookback, p.MinBars, p.TolerancePct, p.MinRevisits, p.PriceField, p.ATRMultiple)
}
