package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// BucketError reports a bucket that could not be folded
type BucketError struct {
	SecurityID string
	Timeframe  market_data.Timeframe
	Bucket     time.Time
	Err        error
}

func (e *BucketError) Error() string {
	return fmt.Sprintf("bucket %s/%s@%s: %v", e.SecurityID, e.Timeframe, e.Bucket.Format(time.RFC3339), e.Err)
}

func (e *BucketError) Unwrap() error {
	return e.Err
}

// sortBars orders bars by timestamp; equal timestamps are ordered by the
// OHLCV tuple so folding never depends on input order.
func sortBars(bars []market_data.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		a, b := bars[i], bars[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if c := a.Open.Cmp(b.Open); c != 0 {
			return c < 0
		}
		if c := a.High.Cmp(b.High); c != 0 {
			return c < 0
		}
		if c := a.Low.Cmp(b.Low); c != 0 {
			return c < 0
		}
		if c := a.Close.Cmp(b.Close); c != 0 {
			return c < 0
		}
		return a.Volume < b.Volume
	})
}

// Fold combines the source bars of one bucket into a single bar.
// The input slice is not modified.
func Fold(key market_data.Key, source []market_data.Bar) (market_data.Bar, error) {
	if len(source) == 0 {
		return market_data.Bar{}, &BucketError{SecurityID: key.SecurityID, Timeframe: key.Timeframe, Bucket: key.Start, Err: errors.ErrEmptyBucket}
	}

	bars := make([]market_data.Bar, len(source))
	copy(bars, source)
	sortBars(bars)

	out := market_data.Bar{
		SecurityID: key.SecurityID,
		Timeframe:  key.Timeframe,
		Timestamp:  key.Start,
		Open:       bars[0].Open,
		High:       bars[0].High,
		Low:        bars[0].Low,
		Close:      bars[len(bars)-1].Close,
	}

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return market_data.Bar{}, &BucketError{
				SecurityID: key.SecurityID,
				Timeframe:  key.Timeframe,
				Bucket:     key.Start,
				Err:        errors.Wrapf(err, "source bar %s", b.Key()),
			}
		}
		if b.High.GreaterThan(out.High) {
			out.High = b.High
		}
		if b.Low.LessThan(out.Low) {
			out.Low = b.Low
		}
		out.Volume += b.Volume
		out.SourceBars++
	}

	return out, nil
}

// group is the source bars of one target bucket
type group struct {
	start time.Time
	bars  []market_data.Bar
}

// groupByBucket partitions source bars into tf buckets ordered by start
func groupByBucket(tf market_data.Timeframe, source []market_data.Bar, cal Calendar) ([]group, error) {
	idx := make(map[int64]int)
	groups := make([]group, 0)

	for _, b := range source {
		start, err := BucketStart(tf, b.Timestamp, cal)
		if err != nil {
			return nil, err
		}
		k := start.UnixNano()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, group{start: start})
		}
		groups[i].bars = append(groups[i].bars, b)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].start.Before(groups[j].start) })
	return groups, nil
}

// Resample folds source bars into tf buckets.
// Buckets with an invalid source bar are returned as failures and omitted.
// Cancellation is checked between buckets.
func Resample(ctx context.Context, securityID string, tf market_data.Timeframe, source []market_data.Bar, cal Calendar) ([]market_data.Bar, []*BucketError, error) {
	groups, err := groupByBucket(tf, source, cal)
	if err != nil {
		return nil, nil, err
	}

	out := make([]market_data.Bar, 0, len(groups))
	var failed []*BucketError
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return out, failed, err
		}

		bar, err := Fold(market_data.Key{SecurityID: securityID, Timeframe: tf, Start: g.start}, g.bars)
		if err != nil {
			var bucketErr *BucketError
			if errors.As(err, &bucketErr) {
				failed = append(failed, bucketErr)
				continue
			}
			return out, failed, err
		}
		out = append(out, bar)
	}

	return out, failed, nil
}
