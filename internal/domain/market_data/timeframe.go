package market_data

import (
	"strings"
	"time"

	"trendboard/pkg/errors"
)

// Timeframe identifies the bucket width of a bar series
type Timeframe string

const (
	Timeframe1m      Timeframe = "1m" // base timeframe, ingested
	Timeframe5m      Timeframe = "5m"
	Timeframe15m     Timeframe = "15m"
	Timeframe60m     Timeframe = "60m"
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// AllTimeframes lists every supported timeframe, finest first
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe60m,
	TimeframeDaily, TimeframeWeekly, TimeframeMonthly,
}

// ParseTimeframe validates a timeframe identifier.
// Common aliases (1d, 1w, 1M, 1h) are accepted.
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.TrimSpace(s) {
	case "1m":
		return Timeframe1m, nil
	case "5m":
		return Timeframe5m, nil
	case "15m":
		return Timeframe15m, nil
	case "60m", "1h":
		return Timeframe60m, nil
	case "daily", "1d", "day":
		return TimeframeDaily, nil
	case "weekly", "1w", "week":
		return TimeframeWeekly, nil
	case "monthly", "1M", "month":
		return TimeframeMonthly, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidTimeframe, "%q", s)
}

// ParseTimeframes parses a list, rejecting the first invalid entry
func ParseTimeframes(values []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		tf, err := ParseTimeframe(v)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// Valid checks if timeframe is supported
func (tf Timeframe) Valid() bool {
	for _, known := range AllTimeframes {
		if tf == known {
			return true
		}
	}
	return false
}

// String returns string representation
func (tf Timeframe) String() string {
	return string(tf)
}

// IsIntraday reports whether buckets are sub-session widths
func (tf Timeframe) IsIntraday() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe60m:
		return true
	}
	return false
}

// Width returns the fixed bucket width of an intraday timeframe, zero otherwise
func (tf Timeframe) Width() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe60m:
		return time.Hour
	}
	return 0
}

// Source returns the timeframe a derived timeframe is folded from
func (tf Timeframe) Source() (Timeframe, bool) {
	switch tf {
	case Timeframe5m, Timeframe15m, Timeframe60m, TimeframeDaily:
		return Timeframe1m, true
	case TimeframeWeekly, TimeframeMonthly:
		return TimeframeDaily, true
	}
	return "", false
}

// End returns the exclusive end of the bucket starting at start
func (tf Timeframe) End(start time.Time) time.Time {
	switch tf {
	case TimeframeDaily:
		return start.AddDate(0, 0, 1)
	case TimeframeWeekly:
		return start.AddDate(0, 0, 7)
	case TimeframeMonthly:
		return start.AddDate(0, 1, 0)
	}
	return start.Add(tf.Width())
}
