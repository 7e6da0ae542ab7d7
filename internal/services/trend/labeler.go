package trend

import (
	"math"

	"github.com/shopspring/decimal"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/services/indicators"
	"trendboard/pkg/errors"
)

// Labeler classifies every bar of a series as uptrend, downtrend or neutral
type Labeler struct {
	params Params
}

// NewLabeler validates params and builds a labeler
func NewLabeler(p Params) (*Labeler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Labeler{params: p}, nil
}

// Params returns the labeler parameters
func (l *Labeler) Params() Params {
	return l.params
}

// Label returns exactly one label per bar, in input order. bars must be the
// series of one (security, timeframe) sorted by time with unique timestamps.
// Each label only depends on bars at or before it and on the level set
// active at its bar time.
//
// Label does not fill run metadata (RunID, ComputedAt).
func (l *Labeler) Label(bars []market_data.Bar, history levelsdomain.History) ([]trenddomain.Label, error) {
	if len(bars) == 0 {
		return []trenddomain.Label{}, nil
	}
	if err := checkSeries(bars); err != nil {
		return nil, err
	}

	closes := indicators.PrepareCloses(bars)
	fast, err := indicators.EMA(closes, l.params.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.EMA(closes, l.params.SlowPeriod)
	if err != nil {
		return nil, err
	}

	fingerprint := l.params.Fingerprint()
	out := make([]trenddomain.Label, len(bars))
	for i, bar := range bars {
		label := trenddomain.Label{
			SecurityID:        bar.SecurityID,
			Timeframe:         bar.Timeframe,
			BarTime:           bar.Timestamp,
			Direction:         trenddomain.DirectionNeutral,
			ParamsFingerprint: fingerprint,
		}
		if i >= l.params.WarmUp() && slow[i] != 0 {
			label.Score = l.score(fast[i], slow[i])
			label.Strength = math.Abs(label.Score)
			label.Direction = l.direction(label.Score)
		}
		label.LevelZone = l.zone(bar, history.ActiveAt(bar.Timestamp))
		out[i] = label
	}
	return out, nil
}

func (l *Labeler) score(fast, slow float64) float64 {
	spreadPct := (fast - slow) / slow * 100
	s := spreadPct / l.params.SaturationPct
	s = math.Max(-1, math.Min(1, s))
	// stable storage and comparisons
	return math.Round(s*1e6) / 1e6
}

func (l *Labeler) direction(score float64) trenddomain.Direction {
	switch {
	case score >= l.params.DeadZone && score > 0:
		return trenddomain.DirectionUp
	case score <= -l.params.DeadZone && score < 0:
		return trenddomain.DirectionDown
	}
	return trenddomain.DirectionNeutral
}

// zone reports whether the bar traded into the band around R1 or S1.
// When both are reached the one nearer to the close wins.
func (l *Labeler) zone(bar market_data.Bar, set *levelsdomain.LevelSet) trenddomain.LevelZone {
	if set.Empty() {
		return trenddomain.ZoneNone
	}
	band := decimal.NewFromFloat(l.params.ZoneBandPct / 100)
	one := decimal.NewFromInt(1)

	var atRes, atSup bool
	var distRes, distSup decimal.Decimal
	if r1, ok := set.Resistance(1); ok {
		threshold := r1.Price.Mul(one.Sub(band))
		if bar.High.GreaterThanOrEqual(threshold) {
			atRes = true
			distRes = r1.Price.Sub(bar.Close).Abs()
		}
	}
	if s1, ok := set.Support(1); ok {
		threshold := s1.Price.Mul(one.Add(band))
		if bar.Low.LessThanOrEqual(threshold) {
			atSup = true
			distSup = bar.Close.Sub(s1.Price).Abs()
		}
	}

	switch {
	case atRes && atSup:
		if distSup.LessThan(distRes) {
			return trenddomain.ZoneAtSupport
		}
		return trenddomain.ZoneAtResistance
	case atRes:
		return trenddomain.ZoneAtResistance
	case atSup:
		return trenddomain.ZoneAtSupport
	}
	return trenddomain.ZoneNone
}

func checkSeries(bars []market_data.Bar) error {
	first := bars[0]
	for i := 1; i < len(bars); i++ {
		b := bars[i]
		if b.SecurityID != first.SecurityID || b.Timeframe != first.Timeframe {
			return errors.Wrapf(errors.ErrInvalidInput, "mixed series: %s and %s", first.Key(), b.Key())
		}
		if !b.Timestamp.After(bars[i-1].Timestamp) {
			return errors.Wrapf(errors.ErrInvalidInput, "series not strictly ascending at %s", b.Key())
		}
	}
	return nil
}
