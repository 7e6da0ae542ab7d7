package trend

import (
	"time"

	"github.com/google/uuid"

	"trendboard/internal/domain/market_data"
)

// Direction of a trend label
type Direction string

const (
	DirectionUp      Direction = "uptrend"
	DirectionDown    Direction = "downtrend"
	DirectionNeutral Direction = "neutral"
)

// Valid checks if direction is valid
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionNeutral:
		return true
	}
	return false
}

// Sign returns +1, -1 or 0
func (d Direction) Sign() int {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	}
	return 0
}

// LevelZone marks bars trading into the active S1/R1 band
type LevelZone string

const (
	ZoneNone         LevelZone = ""
	ZoneAtSupport    LevelZone = "at_support"
	ZoneAtResistance LevelZone = "at_resistance"
)

// Label is the trend classification of one bar
type Label struct {
	SecurityID        string                `db:"security_id" json:"security_id"`
	Timeframe         market_data.Timeframe `db:"timeframe" json:"timeframe"`
	BarTime           time.Time             `db:"bucket_start" json:"bar_time"`
	Direction         Direction             `db:"direction" json:"direction"`
	Strength          float64               `db:"strength" json:"strength"` // 0..1
	Score             float64               `db:"score" json:"score"`       // -1..1
	LevelZone         LevelZone             `db:"level_zone" json:"level_zone,omitempty"`
	ParamsFingerprint string                `db:"params_fingerprint" json:"params_fingerprint"`
	RunID             uuid.UUID             `db:"run_id" json:"run_id"`
	ComputedAt        time.Time             `db:"computed_at" json:"computed_at"`
}

// RunStatus is the lifecycle state of a labeling run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// Run is one full-history labeling pass of a (security, timeframe)
type Run struct {
	RunID       uuid.UUID             `db:"run_id" json:"run_id"`
	SecurityID  string                `db:"security_id" json:"security_id"`
	Timeframe   market_data.Timeframe `db:"timeframe" json:"timeframe"`
	Fingerprint string                `db:"fingerprint" json:"fingerprint"`
	Status      RunStatus             `db:"status" json:"status"`
	BarsTotal   int                   `db:"bars_total" json:"bars_total"`
	BarsLabeled int                   `db:"bars_labeled" json:"bars_labeled"`
	Error       string                `db:"error" json:"error,omitempty"`
	StartedAt   time.Time             `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time            `db:"finished_at" json:"finished_at,omitempty"`
}

// Coverage summarises label freshness of one (security, timeframe)
type Coverage struct {
	SecurityID   string                `json:"security_id"`
	Timeframe    market_data.Timeframe `json:"timeframe"`
	TotalBars    int                   `json:"total_bars"`
	LabeledBars  int                   `json:"labeled_bars"`
	StaleLabels  int                   `json:"stale_labels"` // fingerprint mismatch or not from the latest completed run
	Distribution map[Direction]int     `json:"distribution"`
	LatestRun    *Run                  `json:"latest_run,omitempty"`

	// MissingBuckets counts buckets whose source bars exist but which were never aggregated
	MissingBuckets int `json:"missing_buckets"`
}

// Percent returns labeled/total as a percentage
func (c Coverage) Percent() float64 {
	if c.TotalBars == 0 {
		return 0
	}
	return float64(c.LabeledBars) / float64(c.TotalBars) * 100
}

// NeedsRecompute reports whether the series must be fully relabelled
func (c Coverage) NeedsRecompute() bool {
	if c.MissingBuckets > 0 {
		return true
	}
	if c.TotalBars == 0 {
		return false
	}
	if c.LatestRun == nil || c.LatestRun.Status != RunCompleted {
		return true
	}
	return c.LabeledBars != c.TotalBars || c.StaleLabels > 0
}
