package aggregation

import (
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// Calendar is the subset of the trading calendar the aggregator needs
type Calendar interface {
	Location() *time.Location
	SessionOpen(day time.Time) time.Time
	SessionMinutes() int
	IsTradingDay(date time.Time) bool
	TradingDays(from, to time.Time) int
}

// BucketStart returns the start of the tf bucket containing t, in the market zone.
// Daily buckets start at local midnight, weekly on ISO Monday, monthly on the 1st.
// Intraday buckets are anchored at the session open.
func BucketStart(tf market_data.Timeframe, t time.Time, cal Calendar) (time.Time, error) {
	loc := cal.Location()
	t = t.In(loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

	switch tf {
	case market_data.TimeframeDaily:
		return midnight, nil
	case market_data.TimeframeWeekly:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return midnight.AddDate(0, 0, -offset), nil
	case market_data.TimeframeMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc), nil
	case market_data.Timeframe1m, market_data.Timeframe5m, market_data.Timeframe15m, market_data.Timeframe60m:
		width := tf.Width()
		open := cal.SessionOpen(t)
		k := t.Sub(open) / width
		if t.Before(open) && t.Sub(open)%width != 0 {
			k-- // floor for pre-open timestamps
		}
		return open.Add(k * width), nil
	}
	return time.Time{}, errors.Wrapf(errors.ErrInvalidTimeframe, "no buckets for %q", tf)
}

// BucketEnd returns the exclusive end of the bucket starting at start
func BucketEnd(tf market_data.Timeframe, start time.Time) time.Time {
	return tf.End(start)
}

// WidenRange expands r to whole tf buckets. Open bounds stay open.
func WidenRange(tf market_data.Timeframe, r market_data.Range, cal Calendar) (market_data.Range, error) {
	out := r
	if !r.From.IsZero() {
		start, err := BucketStart(tf, r.From, cal)
		if err != nil {
			return r, err
		}
		out.From = start
	}
	if !r.To.IsZero() {
		// To is exclusive: the bucket holding the last included instant ends the range
		last, err := BucketStart(tf, r.To.Add(-time.Nanosecond), cal)
		if err != nil {
			return r, err
		}
		out.To = BucketEnd(tf, last)
	}
	return out, nil
}
