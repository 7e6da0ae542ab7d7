package levels

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trendboard/internal/domain/market_data"
)

// Side of a price level relative to the reference price
type Side string

const (
	SideSupport    Side = "support"
	SideResistance Side = "resistance"
)

// Valid checks if side is valid
func (s Side) Valid() bool {
	return s == SideSupport || s == SideResistance
}

// MaxRank is the number of levels kept per side
const MaxRank = 3

// Level is one estimated support or resistance price
type Level struct {
	SecurityID string                `db:"security_id" json:"security_id"`
	Timeframe  market_data.Timeframe `db:"timeframe" json:"timeframe"`
	Side       Side                  `db:"side" json:"side"`
	Rank       int                   `db:"rank" json:"rank"` // 1 = nearest to reference price
	Price      decimal.Decimal       `db:"price" json:"price"`
	Touches    int                   `db:"touches" json:"touches"`
	Revisits   int                   `db:"revisits" json:"revisits"`
	AsOf       time.Time             `db:"as_of" json:"as_of"`
}

// LevelSet is the output of one estimation.
// Sets supersede each other; they are never merged.
type LevelSet struct {
	ID             int64                 `db:"id" json:"id"`
	SecurityID     string                `db:"security_id" json:"security_id"`
	Timeframe      market_data.Timeframe `db:"timeframe" json:"timeframe"`
	AsOf           time.Time             `db:"as_of" json:"as_of"`
	ReferencePrice decimal.Decimal       `db:"reference_price" json:"reference_price"`
	Lookback       int                   `db:"lookback" json:"lookback"`
	BarsUsed       int                   `db:"bars_used" json:"bars_used"`
	Levels         []Level               `db:"-" json:"levels"`
}

// Support returns the support level with the given rank.
// ok is false when no level of that rank was found.
func (s *LevelSet) Support(rank int) (Level, bool) {
	return s.find(SideSupport, rank)
}

// Resistance returns the resistance level with the given rank
func (s *LevelSet) Resistance(rank int) (Level, bool) {
	return s.find(SideResistance, rank)
}

func (s *LevelSet) find(side Side, rank int) (Level, bool) {
	if s == nil {
		return Level{}, false
	}
	for _, l := range s.Levels {
		if l.Side == side && l.Rank == rank {
			return l, true
		}
	}
	return Level{}, false
}

// Side returns the levels of one side ordered by rank
func (s *LevelSet) Side(side Side) []Level {
	if s == nil {
		return nil
	}
	out := make([]Level, 0, MaxRank)
	for _, l := range s.Levels {
		if l.Side == side {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Empty reports whether the set carries no levels
func (s *LevelSet) Empty() bool {
	return s == nil || len(s.Levels) == 0
}

// History is a chronologically ordered list of level sets used for
// point-in-time lookups.
type History []*LevelSet

// NewHistory sorts sets by AsOf (then ID) ascending
func NewHistory(sets []*LevelSet) History {
	h := make(History, 0, len(sets))
	for _, s := range sets {
		if s != nil {
			h = append(h, s)
		}
	}
	sort.SliceStable(h, func(i, j int) bool {
		if h[i].AsOf.Equal(h[j].AsOf) {
			return h[i].ID < h[j].ID
		}
		return h[i].AsOf.Before(h[j].AsOf)
	})
	return h
}

// ActiveAt returns the newest set with AsOf <= t, or nil
func (h History) ActiveAt(t time.Time) *LevelSet {
	idx := sort.Search(len(h), func(i int) bool { return h[i].AsOf.After(t) })
	if idx == 0 {
		return nil
	}
	return h[idx-1]
}
