package testsupport

import (
	"testing"
	"time"

	"trendboard/internal/domain/market_data"
)

// IncidentCloses are the 15-minute closes of the session in which the
// dashboard showed "up" while price fell from 2618 to 2581 and only
// recovered to 2615 (-1.19% on the day).
var IncidentCloses = []float64{
	2612, 2603, 2594, 2588, 2583, 2582, 2586, 2591, 2596, 2599, 2602, 2604,
	2603, 2601, 2597, 2595, 2598, 2603, 2607, 2610, 2612, 2613, 2614, 2616, 2615,
}

// IncidentRejectionBar is the index of the bar that rejected at 2608-2609
const IncidentRejectionBar = 12

// IncidentPrevClose is the close of the session before the incident
const IncidentPrevClose = 2646.5

// IncidentDay returns the session date of the incident (09:15 IST)
func IncidentDay(t testing.TB) time.Time {
	return time.Date(2025, 3, 6, 9, 15, 0, 0, IST(t))
}

// IncidentSeries returns 15-minute bars for three drifting sessions before
// the incident followed by the incident session itself.
func IncidentSeries(t testing.TB) (prior []market_data.Bar, day []market_data.Bar) {
	t.Helper()
	loc := IST(t)

	wiggle := []float64{0, 1.5, -1, 0.5, -1.5}
	closes := make([]float64, 75)
	for i := range closes {
		closes[i] = 2668 + (IncidentPrevClose-2668)*float64(i)/74 + wiggle[i%5]
	}
	closes[74] = IncidentPrevClose

	prev := 2668.0
	for s := 0; s < 3; s++ {
		open := time.Date(2025, 3, 3+s, 9, 15, 0, 0, loc)
		for k := 0; k < 25; k++ {
			c := closes[s*25+k]
			ts := open.Add(time.Duration(k) * 15 * time.Minute)
			prior = append(prior, NewBar(market_data.Timeframe15m, ts, prev, max(prev, c)+0.5, min(prev, c)-0.5, c, 15000))
			prev = c
		}
	}

	open := IncidentDay(t)
	for k, c := range IncidentCloses {
		ts := open.Add(time.Duration(k) * 15 * time.Minute)
		var b market_data.Bar
		switch k {
		case 0:
			b = NewBar(market_data.Timeframe15m, ts, 2618, 2619, 2611, c, 40000)
		case IncidentRejectionBar:
			b = NewBar(market_data.Timeframe15m, ts, 2604, 2609, 2602, c, 30000)
		default:
			b = NewBar(market_data.Timeframe15m, ts, prev, max(prev, c)+1, min(prev, c)-1, c, 20000)
		}
		day = append(day, b)
		prev = c
	}
	return prior, day
}
