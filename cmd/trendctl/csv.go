package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

var csvTimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}

// readBarsCSV parses timestamp,open,high,low,close,volume rows into 1-minute
// bars. Envelope checks are left to ingestion; only unparseable rows fail here.
func readBarsCSV(r io.Reader, securityID string, loc *time.Location) ([]market_data.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var bars []market_data.Bar
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "csv line %d: %v", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}

		bar, err := parseBarRecord(rec, securityID, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "csv line %d", line)
		}
		bars = append(bars, bar)
	}
}

func parseBarRecord(rec []string, securityID string, loc *time.Location) (market_data.Bar, error) {
	bar := market_data.Bar{
		SecurityID: securityID,
		Timeframe:  market_data.Timeframe1m,
		SourceBars: 1,
	}

	ts, err := parseTimestamp(strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return bar, err
	}
	bar.Timestamp = ts.Truncate(time.Minute)

	prices := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	for i, dst := range prices {
		v, err := decimal.NewFromString(strings.TrimSpace(rec[i+1]))
		if err != nil {
			return bar, errors.Wrapf(errors.ErrInvalidInput, "price %q", rec[i+1])
		}
		*dst = v
	}

	vol := strings.TrimSpace(rec[5])
	if vol != "" {
		bar.Volume, err = strconv.ParseInt(vol, 10, 64)
		if err != nil {
			return bar, errors.Wrapf(errors.ErrInvalidInput, "volume %q", rec[5])
		}
	}
	return bar, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(errors.ErrInvalidInput, "timestamp %q", s)
}
