package trend

import (
	"fmt"

	"trendboard/pkg/errors"
)

// Params configure the EMA crossover labeler
type Params struct {
	FastPeriod    int
	SlowPeriod    int
	SaturationPct float64 // spread (percent of slow EMA) that maps to |score| = 1
	DeadZone      float64 // |score| below this is neutral
	ZoneBandPct   float64 // band around S1/R1 for the level zone
}

// DefaultParams returns the production defaults
func DefaultParams() Params {
	return Params{
		FastPeriod:    8,
		SlowPeriod:    21,
		SaturationPct: 1.0,
		DeadZone:      0.2,
		ZoneBandPct:   0.5,
	}
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	switch {
	case p.FastPeriod < 2:
		return errors.NewValidationError("fast_period", "must be at least 2", p.FastPeriod)
	case p.SlowPeriod <= p.FastPeriod:
		return errors.NewValidationError("slow_period", "must exceed fast period", p.SlowPeriod)
	case p.SaturationPct <= 0:
		return errors.NewValidationError("saturation_pct", "must be positive", p.SaturationPct)
	case p.DeadZone < 0 || p.DeadZone >= 1:
		return errors.NewValidationError("dead_zone", "must be in [0,1)", p.DeadZone)
	case p.ZoneBandPct < 0:
		return errors.NewValidationError("zone_band_pct", "must not be negative", p.ZoneBandPct)
	}
	return nil
}

// WarmUp is the number of leading bars labelled neutral
func (p Params) WarmUp() int {
	return p.SlowPeriod - 1
}

// Fingerprint identifies every parameter that influences a label.
// Labels computed under a different fingerprint are stale.
func (p Params) Fingerprint() string {
	return fmt.Sprintf("ema_cross:fast=%d,slow=%d,sat=%.2f,dz=%.2f,zone=%.2f",
		p.FastPeriod, p.SlowPeriod, p.SaturationPct, p.DeadZone, p.ZoneBandPct)
}
