package market_data

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trendboard/pkg/errors"
)

// Bar is one OHLCV bucket of a security on a timeframe.
// Timestamp is the bucket start in the market zone.
type Bar struct {
	SecurityID string          `db:"security_id" json:"security_id"`
	Timeframe  Timeframe       `db:"timeframe" json:"timeframe"`
	Timestamp  time.Time       `db:"bucket_start" json:"timestamp"`
	Open       decimal.Decimal `db:"open" json:"open"`
	High       decimal.Decimal `db:"high" json:"high"`
	Low        decimal.Decimal `db:"low" json:"low"`
	Close      decimal.Decimal `db:"close" json:"close"`
	Volume     int64           `db:"volume" json:"volume"`
	SourceBars int             `db:"source_bars" json:"source_bars"` // 1 for base bars
}

// Key identifies the bar's bucket
type Key struct {
	SecurityID string
	Timeframe  Timeframe
	Start      time.Time
}

// Key returns the identity of the bar
func (b Bar) Key() Key {
	return Key{SecurityID: b.SecurityID, Timeframe: b.Timeframe, Start: b.Timestamp}
}

// String formats the key for error context
func (k Key) String() string {
	return k.SecurityID + "/" + k.Timeframe.String() + "@" + k.Start.Format(time.RFC3339)
}

// Validate enforces the OHLC envelope and basic data-quality rules.
// Violations wrap errors.ErrInvalidBar.
func (b Bar) Validate() error {
	invalid := func(field, msg string, value interface{}) error {
		return &errors.ValidationError{Field: field, Message: msg, Value: value, Sentinel: errors.ErrInvalidBar}
	}

	switch {
	case b.SecurityID == "":
		return invalid("security_id", "required", b.SecurityID)
	case !b.Timeframe.Valid():
		return invalid("timeframe", "unknown timeframe", b.Timeframe)
	case b.Timestamp.IsZero():
		return invalid("timestamp", "required", b.Timestamp)
	case !b.Open.IsPositive():
		return invalid("open", "must be positive", b.Open)
	case !b.High.IsPositive():
		return invalid("high", "must be positive", b.High)
	case !b.Low.IsPositive():
		return invalid("low", "must be positive", b.Low)
	case !b.Close.IsPositive():
		return invalid("close", "must be positive", b.Close)
	case b.High.LessThan(b.Low):
		return invalid("high", "below low "+b.Low.String(), b.High)
	case b.High.LessThan(decimal.Max(b.Open, b.Close)):
		return invalid("high", "below max(open, close)", b.High)
	case b.Low.GreaterThan(decimal.Min(b.Open, b.Close)):
		return invalid("low", "above min(open, close)", b.Low)
	case b.Volume < 0:
		return invalid("volume", "must not be negative", b.Volume)
	case b.SourceBars < 0:
		return invalid("source_bars", "must not be negative", b.SourceBars)
	}
	return nil
}

// Range is a half-open time interval [From, To).
// A zero Range means all history; a zero bound is open.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether the range is unbounded on both sides
func (r Range) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls inside the range
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Union returns the smallest range covering r and o. An open bound on
// either side stays open.
func (r Range) Union(o Range) Range {
	out := r
	if r.From.IsZero() || o.From.IsZero() {
		out.From = time.Time{}
	} else if o.From.Before(r.From) {
		out.From = o.From
	}
	if r.To.IsZero() || o.To.IsZero() {
		out.To = time.Time{}
	} else if o.To.After(r.To) {
		out.To = o.To
	}
	return out
}

// Security is a registered instrument
type Security struct {
	SecurityID   string    `db:"security_id"`
	Symbol       string    `db:"symbol"`
	Exchange     string    `db:"exchange"`
	Timezone     string    `db:"timezone"`
	SessionOpen  string    `db:"session_open"`
	SessionClose string    `db:"session_close"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// IngestionStatus is the outcome of one ingestion batch
type IngestionStatus string

const (
	IngestionSuccess IngestionStatus = "success"
	IngestionPartial IngestionStatus = "partial" // some bars rejected
	IngestionFailed  IngestionStatus = "failed"
)

// IngestionRecord audits one ingestion batch
type IngestionRecord struct {
	ID         uuid.UUID       `db:"id"`
	SecurityID string          `db:"security_id"`
	Timeframe  Timeframe       `db:"timeframe"`
	RangeFrom  *time.Time      `db:"range_from"`
	RangeTo    *time.Time      `db:"range_to"`
	Rows       int             `db:"rows"`
	Rejected   int             `db:"rejected"`
	Status     IngestionStatus `db:"status"`
	Error      string          `db:"error"`
	CreatedAt  time.Time       `db:"created_at"`
}
