package aggregation

import (
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// IncompleteBucket is a bucket built from fewer source bars than the calendar expects
type IncompleteBucket struct {
	Timeframe market_data.Timeframe `json:"timeframe"`
	Start     time.Time             `json:"start"`
	Have      int                   `json:"have"`
	Want      int                   `json:"want"`
}

// Report summarises one aggregation pass
type Report struct {
	SecurityID string                        `json:"security_id"`
	Range      market_data.Range             `json:"range"`
	SourceBars int                           `json:"source_bars"`
	Produced   map[market_data.Timeframe]int `json:"produced"`
	Written    map[market_data.Timeframe]int `json:"written"` // inserted or changed rows
	Failed     []*BucketError                `json:"-"`
	Incomplete []IncompleteBucket            `json:"incomplete"`
	Duration   time.Duration                 `json:"duration"`
}

func newReport(securityID string, r market_data.Range) *Report {
	return &Report{
		SecurityID: securityID,
		Range:      r,
		Produced:   make(map[market_data.Timeframe]int),
		Written:    make(map[market_data.Timeframe]int),
	}
}

// Err returns the bucket failures as a MultiError, or nil
func (r *Report) Err() error {
	var m errors.MultiError
	for _, f := range r.Failed {
		m.Add(f)
	}
	return m.ToError()
}

// IncompleteFor returns the incomplete buckets of one timeframe
func (r *Report) IncompleteFor(tf market_data.Timeframe) []IncompleteBucket {
	var out []IncompleteBucket
	for _, ib := range r.Incomplete {
		if ib.Timeframe == tf {
			out = append(out, ib)
		}
	}
	return out
}

// Changed reports whether any row was inserted or changed
func (r *Report) Changed() bool {
	for _, n := range r.Written {
		if n > 0 {
			return true
		}
	}
	return false
}
