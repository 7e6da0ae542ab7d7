package aggregation

import (
	"context"
	"sort"
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// Gap is a derived bucket whose source bars are stored but which was
// never written, e.g. after a failed or skipped aggregation
type Gap struct {
	Timeframe market_data.Timeframe `json:"timeframe"`
	Range     market_data.Range     `json:"range"`
}

// Gaps compares the stored derived series of securityID against their
// sources. Daily and intraday series are checked per session day against
// the 1-minute days; weekly and monthly per period against the days that
// hold daily or 1-minute bars. Gaps are returned oldest first.
func (s *Service) Gaps(ctx context.Context, securityID string) ([]Gap, error) {
	loc := s.cal.Location()

	base, err := s.bars.SessionDays(ctx, securityID, market_data.Timeframe1m, loc)
	if err != nil {
		return nil, errors.Wrapf(err, "1m days of %s", securityID)
	}

	dayTFs := []market_data.Timeframe{market_data.TimeframeDaily}
	if s.opts.DeriveIntraday {
		dayTFs = append(dayTFs, intradayTimeframes...)
	}

	var gaps []Gap
	var daily []time.Time
	for _, tf := range dayTFs {
		have, err := s.bars.SessionDays(ctx, securityID, tf, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "%s days of %s", tf, securityID)
		}
		if tf == market_data.TimeframeDaily {
			daily = have
		}
		for _, day := range missingDays(base, have) {
			gaps = append(gaps, Gap{Timeframe: tf, Range: market_data.Range{From: day, To: day.AddDate(0, 0, 1)}})
		}
	}

	sourceDays := append(append([]time.Time(nil), base...), daily...)
	for _, tf := range []market_data.Timeframe{market_data.TimeframeWeekly, market_data.TimeframeMonthly} {
		periodGaps, err := s.periodGaps(ctx, securityID, tf, sourceDays)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, periodGaps...)
	}

	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Range.From.Before(gaps[j].Range.From) })
	return gaps, nil
}

func (s *Service) periodGaps(ctx context.Context, securityID string, tf market_data.Timeframe, sourceDays []time.Time) ([]Gap, error) {
	stored, err := s.bars.GetBars(ctx, securityID, tf, market_data.Range{})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s bars of %s", tf, securityID)
	}
	have := make(map[int64]bool, len(stored))
	for _, b := range stored {
		have[b.Timestamp.UnixNano()] = true
	}

	seen := make(map[int64]bool)
	var gaps []Gap
	for _, day := range sourceDays {
		start, err := BucketStart(tf, day, s.cal)
		if err != nil {
			return nil, err
		}
		k := start.UnixNano()
		if have[k] || seen[k] {
			continue
		}
		seen[k] = true
		gaps = append(gaps, Gap{Timeframe: tf, Range: market_data.Range{From: start, To: BucketEnd(tf, start)}})
	}
	return gaps, nil
}

// missingDays returns the days of want absent from have
func missingDays(want, have []time.Time) []time.Time {
	present := make(map[int64]bool, len(have))
	for _, d := range have {
		present[d.UnixNano()] = true
	}
	var out []time.Time
	for _, d := range want {
		if !present[d.UnixNano()] {
			out = append(out, d)
		}
	}
	return out
}

// MergeGaps coalesces the ranges of gaps into disjoint ranges, oldest
// first. Touching or overlapping ranges are merged.
func MergeGaps(gaps []Gap) []market_data.Range {
	if len(gaps) == 0 {
		return nil
	}
	ranges := make([]market_data.Range, len(gaps))
	for i, g := range gaps {
		ranges[i] = g.Range
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].From.Before(ranges[j].From) })

	out := []market_data.Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if !r.From.After(last.To) {
			*last = last.Union(r)
			continue
		}
		out = append(out, r)
	}
	return out
}

// CountGaps counts the gaps of one timeframe
func CountGaps(gaps []Gap, tf market_data.Timeframe) int {
	n := 0
	for _, g := range gaps {
		if g.Timeframe == tf {
			n++
		}
	}
	return n
}
