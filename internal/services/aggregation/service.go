package aggregation

import (
	"context"
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Options tune the aggregator
type Options struct {
	// DeriveIntraday additionally folds 5m/15m/60m bars from 1m bars
	DeriveIntraday bool
}

// Service rebuilds daily, weekly and monthly bars from stored 1-minute bars
type Service struct {
	bars market_data.Repository
	cal  Calendar
	opts Options
	log  *logger.Logger
}

// NewService creates the aggregator
func NewService(bars market_data.Repository, cal Calendar, opts Options) *Service {
	return &Service{
		bars: bars,
		cal:  cal,
		opts: opts,
		log:  logger.Get().Component("aggregation"),
	}
}

var intradayTimeframes = []market_data.Timeframe{
	market_data.Timeframe5m, market_data.Timeframe15m, market_data.Timeframe60m,
}

// Aggregate recomputes every derived bar obtainable from 1-minute bars in r.
// A zero range means all history. Buckets with invalid source bars are
// reported in Report.Failed and skipped; the returned error is reserved for
// storage failures and cancellation.
func (s *Service) Aggregate(ctx context.Context, securityID string, r market_data.Range) (*Report, error) {
	started := time.Now()
	log := s.log.Security(securityID, "")

	if securityID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "security id required")
	}

	dayRange, err := WidenRange(market_data.TimeframeDaily, r, s.cal)
	if err != nil {
		return nil, err
	}
	report := newReport(securityID, dayRange)

	minutes, err := s.bars.GetBars(ctx, securityID, market_data.Timeframe1m, dayRange)
	if err != nil {
		return nil, errors.Wrapf(err, "load 1m bars of %s", securityID)
	}
	report.SourceBars = len(minutes)
	if len(minutes) == 0 {
		report.Duration = time.Since(started)
		log.Debugw("no base bars in range", "from", dayRange.From, "to", dayRange.To)
		return report, nil
	}
	loc := s.cal.Location()
	for i := range minutes {
		minutes[i].Timestamp = minutes[i].Timestamp.In(loc)
	}

	daily, failed, err := Resample(ctx, securityID, market_data.TimeframeDaily, minutes, s.cal)
	report.Failed = append(report.Failed, failed...)
	if err != nil {
		return report, err
	}
	if err := s.write(ctx, report, market_data.TimeframeDaily, daily); err != nil {
		return report, err
	}
	s.checkDaily(report, daily)

	failedDays := make(map[int64]*BucketError, len(failed))
	for _, f := range failed {
		failedDays[f.Bucket.UnixNano()] = f
	}

	for _, tf := range []market_data.Timeframe{market_data.TimeframeWeekly, market_data.TimeframeMonthly} {
		if err := s.rollup(ctx, report, tf, daily, failedDays); err != nil {
			return report, err
		}
	}

	if s.opts.DeriveIntraday {
		for _, tf := range intradayTimeframes {
			bars, failed, err := Resample(ctx, securityID, tf, minutes, s.cal)
			report.Failed = append(report.Failed, failed...)
			if err != nil {
				return report, err
			}
			if err := s.write(ctx, report, tf, bars); err != nil {
				return report, err
			}
		}
	}

	report.Duration = time.Since(started)
	for _, f := range report.Failed {
		metrics.BucketsFailed.WithLabelValues(f.Timeframe.String()).Inc()
		log.Warnw("bucket skipped", "timeframe", f.Timeframe, "bucket", f.Bucket, "error", f.Err)
	}
	for _, tf := range []market_data.Timeframe{market_data.TimeframeDaily, market_data.TimeframeWeekly, market_data.TimeframeMonthly} {
		metrics.BucketsIncomplete.WithLabelValues(tf.String()).Set(float64(len(report.IncompleteFor(tf))))
	}

	log.Infow("aggregation finished",
		"source_bars", report.SourceBars,
		"daily", report.Produced[market_data.TimeframeDaily],
		"weekly", report.Produced[market_data.TimeframeWeekly],
		"monthly", report.Produced[market_data.TimeframeMonthly],
		"written", report.Written,
		"failed", len(report.Failed),
		"incomplete", len(report.Incomplete),
		"duration", report.Duration,
	)

	return report, nil
}

// rollup folds weekly or monthly buckets from daily bars. Fresh daily bars
// are merged over the stored daily series of the widened range so a partial
// range still yields whole periods.
func (s *Service) rollup(ctx context.Context, report *Report, tf market_data.Timeframe, fresh []market_data.Bar, failedDays map[int64]*BucketError) error {
	if len(fresh) == 0 && len(failedDays) == 0 {
		return nil
	}

	periodRange, err := s.freshSpan(tf, fresh, failedDays)
	if err != nil {
		return err
	}

	stored, err := s.bars.GetBars(ctx, report.SecurityID, market_data.TimeframeDaily, periodRange)
	if err != nil {
		return errors.Wrapf(err, "load daily bars for %s rollup", tf)
	}

	merged := make(map[int64]market_data.Bar, len(stored)+len(fresh))
	loc := s.cal.Location()
	for _, b := range stored {
		b.Timestamp = b.Timestamp.In(loc)
		merged[b.Timestamp.UnixNano()] = b
	}
	for _, b := range fresh {
		merged[b.Timestamp.UnixNano()] = b
	}
	days := make([]market_data.Bar, 0, len(merged))
	for _, b := range merged {
		days = append(days, b)
	}

	groups, err := groupByBucket(tf, days, s.cal)
	if err != nil {
		return err
	}

	out := make([]market_data.Bar, 0, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := market_data.Key{SecurityID: report.SecurityID, Timeframe: tf, Start: g.start}
		if cause := failedDayIn(tf, g.start, failedDays); cause != nil {
			report.Failed = append(report.Failed, &BucketError{
				SecurityID: key.SecurityID, Timeframe: tf, Bucket: g.start,
				Err: errors.Wrapf(cause, "daily bucket %s", cause.Bucket.Format("2006-01-02")),
			})
			continue
		}

		bar, err := Fold(key, g.bars)
		if err != nil {
			var bucketErr *BucketError
			if errors.As(err, &bucketErr) {
				report.Failed = append(report.Failed, bucketErr)
				continue
			}
			return err
		}
		out = append(out, bar)

		end := BucketEnd(tf, g.start)
		if want := s.cal.TradingDays(g.start, end); bar.SourceBars < want {
			report.Incomplete = append(report.Incomplete, IncompleteBucket{Timeframe: tf, Start: g.start, Have: bar.SourceBars, Want: want})
		}
	}

	return s.write(ctx, report, tf, out)
}

// freshSpan returns the whole tf periods touched by the fresh or failed daily buckets
func (s *Service) freshSpan(tf market_data.Timeframe, fresh []market_data.Bar, failedDays map[int64]*BucketError) (market_data.Range, error) {
	var first, last time.Time
	visit := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	for _, b := range fresh {
		visit(b.Timestamp)
	}
	for _, f := range failedDays {
		visit(f.Bucket)
	}
	return WidenRange(tf, market_data.Range{From: first, To: last.AddDate(0, 0, 1)}, s.cal)
}

func failedDayIn(tf market_data.Timeframe, start time.Time, failedDays map[int64]*BucketError) *BucketError {
	end := BucketEnd(tf, start)
	var first *BucketError
	for _, f := range failedDays {
		if !f.Bucket.Before(start) && f.Bucket.Before(end) {
			if first == nil || f.Bucket.Before(first.Bucket) {
				first = f
			}
		}
	}
	return first
}

// checkDaily flags daily buckets with fewer 1-minute bars than a full session
func (s *Service) checkDaily(report *Report, daily []market_data.Bar) {
	want := s.cal.SessionMinutes()
	for _, b := range daily {
		if b.SourceBars < want {
			report.Incomplete = append(report.Incomplete, IncompleteBucket{
				Timeframe: market_data.TimeframeDaily,
				Start:     b.Timestamp,
				Have:      b.SourceBars,
				Want:      want,
			})
		}
	}
}

func (s *Service) write(ctx context.Context, report *Report, tf market_data.Timeframe, bars []market_data.Bar) error {
	report.Produced[tf] += len(bars)
	if len(bars) == 0 {
		return nil
	}

	n, err := s.bars.UpsertBars(ctx, bars)
	if err != nil {
		return errors.Wrapf(err, "upsert %d %s bars of %s", len(bars), tf, report.SecurityID)
	}
	report.Written[tf] += n
	metrics.BucketsWritten.WithLabelValues(tf.String()).Add(float64(n))
	return nil
}
