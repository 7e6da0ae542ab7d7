package indicators

import (
	"github.com/markcheno/go-talib"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// TalibData holds OHLCV data in format expected by ta-lib (oldest first)
type TalibData struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// PrepareData converts bars (oldest first) to ta-lib input slices
func PrepareData(bars []market_data.Bar) (*TalibData, error) {
	if len(bars) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "no bars provided")
	}
	data := &TalibData{
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		data.Open[i] = b.Open.InexactFloat64()
		data.High[i] = b.High.InexactFloat64()
		data.Low[i] = b.Low.InexactFloat64()
		data.Close[i] = b.Close.InexactFloat64()
		data.Volume[i] = float64(b.Volume)
	}
	return data, nil
}

// PrepareCloses extracts close prices (oldest first)
func PrepareCloses(bars []market_data.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}
	return closes
}

// EMA returns the ta-lib exponential moving average of values.
// Entries before index period-1 are not yet defined and are zero.
func EMA(values []float64, period int) ([]float64, error) {
	if period < 2 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "EMA period %d", period)
	}
	if len(values) < period {
		return make([]float64, len(values)), nil
	}
	return talib.Ema(values, period), nil
}

// LastATR returns the most recent ta-lib average true range
func LastATR(data *TalibData, period int) (float64, error) {
	if data == nil {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "no data")
	}
	if err := ValidateMinLength(len(data.Close), period+1, "ATR"); err != nil {
		return 0, err
	}
	return GetLastValue(talib.Atr(data.High, data.Low, data.Close, period))
}

// GetLastValue returns the most recent value from ta-lib output
func GetLastValue(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.Wrapf(errors.ErrInternal, "no values returned from indicator")
	}
	return values[len(values)-1], nil
}

// ValidateMinLength checks if we have enough data for indicator calculation
func ValidateMinLength(n int, minLength int, indicatorName string) error {
	if n < minLength {
		return errors.Wrapf(errors.ErrInvalidInput,
			"%s requires at least %d bars, got %d",
			indicatorName, minLength, n)
	}
	return nil
}
