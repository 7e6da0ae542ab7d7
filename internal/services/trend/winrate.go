package trend

import (
	"time"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/pkg/errors"
)

// WinRate is the share of directional labels whose close horizon bars
// later moved in the labelled direction
type WinRate struct {
	Direction trenddomain.Direction `json:"direction"`
	Samples   int                   `json:"samples"`
	Wins      int                   `json:"wins"`
	Rate      float64               `json:"rate"`
}

// ComputeWinRate evaluates uptrend and downtrend labels against the bar series.
// Labels are matched to bars by bar time; labels without a bar horizon steps
// ahead are not sampled. Neutral labels are ignored.
func ComputeWinRate(bars []market_data.Bar, labels []trenddomain.Label, horizon int) (map[trenddomain.Direction]WinRate, error) {
	if horizon < 1 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "win rate horizon %d", horizon)
	}

	index := make(map[time.Time]int, len(bars))
	for i, b := range bars {
		index[b.Timestamp.UTC()] = i
	}

	out := map[trenddomain.Direction]WinRate{
		trenddomain.DirectionUp:   {Direction: trenddomain.DirectionUp},
		trenddomain.DirectionDown: {Direction: trenddomain.DirectionDown},
	}
	for _, l := range labels {
		sign := l.Direction.Sign()
		if sign == 0 {
			continue
		}
		i, ok := index[l.BarTime.UTC()]
		if !ok {
			return nil, errors.Wrapf(errors.ErrNotFound, "no bar for label at %s", l.BarTime)
		}
		if i+horizon >= len(bars) {
			continue
		}

		move := bars[i+horizon].Close.Sub(bars[i].Close).Sign()
		wr := out[l.Direction]
		wr.Samples++
		if move == sign {
			wr.Wins++
		}
		out[l.Direction] = wr
	}

	for d, wr := range out {
		if wr.Samples > 0 {
			wr.Rate = float64(wr.Wins) / float64(wr.Samples)
			out[d] = wr
		}
	}
	return out, nil
}
