package testsupport

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendboard/internal/domain/market_data"
)

// SecurityID used by fixtures
const SecurityID = "15380"

// IST returns the Asia/Kolkata zone or fails the test
func IST(t testing.TB) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load Asia/Kolkata: %v", err)
	}
	return loc
}

// NewBar builds a bar from float prices
func NewBar(tf market_data.Timeframe, ts time.Time, open, high, low, closePrice float64, volume int64) market_data.Bar {
	return market_data.Bar{
		SecurityID: SecurityID,
		Timeframe:  tf,
		Timestamp:  ts,
		Open:       decimal.NewFromFloat(open),
		High:       decimal.NewFromFloat(high),
		Low:        decimal.NewFromFloat(low),
		Close:      decimal.NewFromFloat(closePrice),
		Volume:     volume,
		SourceBars: 1,
	}
}

// MinuteSession generates n consecutive valid 1-minute bars starting at open.
// Prices follow a deterministic zig-zag around base.
func MinuteSession(open time.Time, n int, base float64) []market_data.Bar {
	steps := []float64{0.5, -0.25, 0.75, -0.5, 0.25, -0.75, 0}
	out := make([]market_data.Bar, 0, n)
	price := base
	for i := 0; i < n; i++ {
		o := price
		c := price + steps[i%len(steps)]
		h := max(o, c) + 0.1
		l := min(o, c) - 0.1
		out = append(out, NewBar(market_data.Timeframe1m, open.Add(time.Duration(i)*time.Minute), o, h, l, c, int64(100+i%10)))
		price = c
	}
	return out
}

// DailySeries generates n daily bars on consecutive weekdays starting at first,
// closing on the given closes (len(closes) must be >= n).
func DailySeries(first time.Time, closes []float64) []market_data.Bar {
	out := make([]market_data.Bar, 0, len(closes))
	day := first
	prev := closes[0]
	for _, c := range closes {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		o := prev
		h := max(o, c) * 1.002
		l := min(o, c) * 0.998
		out = append(out, NewBar(market_data.TimeframeDaily, day, o, h, l, c, 10000))
		prev = c
		day = day.AddDate(0, 0, 1)
	}
	return out
}
