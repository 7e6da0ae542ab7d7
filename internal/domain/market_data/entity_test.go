package market_data

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/pkg/errors"
)

func validBar() Bar {
	return Bar{
		SecurityID: "15380",
		Timeframe:  Timeframe1m,
		Timestamp:  time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC),
		Open:       decimal.NewFromInt(100),
		High:       decimal.NewFromInt(105),
		Low:        decimal.NewFromInt(98),
		Close:      decimal.NewFromInt(103),
		Volume:     1200,
		SourceBars: 1,
	}
}

func TestBar_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *Bar)
		field  string
	}{
		{"valid", func(b *Bar) {}, ""},
		{"missing security", func(b *Bar) { b.SecurityID = "" }, "security_id"},
		{"unknown timeframe", func(b *Bar) { b.Timeframe = "4h" }, "timeframe"},
		{"zero timestamp", func(b *Bar) { b.Timestamp = time.Time{} }, "timestamp"},
		{"high below close", func(b *Bar) { b.High = decimal.NewFromInt(102) }, "high"},
		{"high below low", func(b *Bar) { b.High = decimal.NewFromInt(97) }, "high"},
		{"low above open", func(b *Bar) { b.Low = decimal.NewFromInt(101) }, "low"},
		{"non-positive low", func(b *Bar) { b.Low = decimal.Zero }, "low"},
		{"negative volume", func(b *Bar) { b.Volume = -1 }, "volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBar()
			tt.mutate(&b)

			err := b.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidBar))
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBar_ValidateFlatBar(t *testing.T) {
	b := validBar()
	p := decimal.NewFromInt(100)
	b.Open, b.High, b.Low, b.Close = p, p, p, p
	assert.NoError(t, b.Validate())
}

func TestRange_Contains(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	r := Range{From: from, To: to}

	assert.True(t, r.Contains(from))
	assert.True(t, r.Contains(to.Add(-time.Nanosecond)))
	assert.False(t, r.Contains(to))
	assert.False(t, r.Contains(from.Add(-time.Second)))
	assert.True(t, Range{}.Contains(from))
	assert.True(t, Range{}.IsZero())
}

func TestRange_Union(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	first := Range{From: day, To: day.AddDate(0, 0, 1)}
	second := Range{From: day.AddDate(0, 0, 1), To: day.AddDate(0, 0, 2)}

	assert.Equal(t, Range{From: day, To: day.AddDate(0, 0, 2)}, first.Union(second))
	assert.Equal(t, first.Union(second), second.Union(first))

	open := first.Union(Range{To: day.AddDate(0, 0, 1)})
	assert.True(t, open.From.IsZero())
	assert.Equal(t, day.AddDate(0, 0, 1), open.To)
	assert.True(t, first.Union(Range{}).IsZero())
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1d")
	require.NoError(t, err)
	assert.Equal(t, TimeframeDaily, tf)

	tf, err = ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, Timeframe60m, tf)

	_, err = ParseTimeframe("4h")
	assert.True(t, errors.Is(err, errors.ErrInvalidTimeframe))

	_, err = ParseTimeframes([]string{"daily", "bogus"})
	assert.True(t, errors.Is(err, errors.ErrInvalidTimeframe))
}

func TestTimeframe_Source(t *testing.T) {
	src, ok := TimeframeWeekly.Source()
	require.True(t, ok)
	assert.Equal(t, TimeframeDaily, src)

	src, ok = Timeframe15m.Source()
	require.True(t, ok)
	assert.Equal(t, Timeframe1m, src)

	_, ok = Timeframe1m.Source()
	assert.False(t, ok)
	assert.Equal(t, 15*time.Minute, Timeframe15m.Width())
	assert.Zero(t, TimeframeDaily.Width())
}
