package events

import (
	"time"

	"github.com/google/uuid"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
)

// Event versions
const (
	Version = "1.0"
	Source  = "trendboard"
)

// BaseEvent is embedded in every event
type BaseEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Version    string    `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBaseEvent creates a new base event with defaults
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     Source,
		Version:    Version,
		OccurredAt: time.Now().UTC(),
	}
}

// BarsIngestedEvent announces stored base bars
type BarsIngestedEvent struct {
	BaseEvent
	SecurityID string                `json:"security_id"`
	Timeframe  market_data.Timeframe `json:"timeframe"`
	From       time.Time             `json:"from"`
	To         time.Time             `json:"to"`
	Written    int                   `json:"written"`
}

// Range returns the ingested span
func (e *BarsIngestedEvent) Range() market_data.Range {
	return market_data.Range{From: e.From, To: e.To}
}

// RunSummary describes one labeling run inside an event
type RunSummary struct {
	Timeframe   market_data.Timeframe `json:"timeframe"`
	RunID       string                `json:"run_id"`
	Status      trenddomain.RunStatus `json:"status"`
	BarsLabeled int                   `json:"bars_labeled"`
	Fingerprint string                `json:"fingerprint"`
}

// TrendsRecomputedEvent announces a completed pipeline run
type TrendsRecomputedEvent struct {
	BaseEvent
	SecurityID string       `json:"security_id"`
	Trigger    string       `json:"trigger"`
	Runs       []RunSummary `json:"runs"`
	DurationMs int64        `json:"duration_ms"`
}

// PipelineFailedEvent announces a failed pipeline run
type PipelineFailedEvent struct {
	BaseEvent
	SecurityID string       `json:"security_id"`
	Trigger    string       `json:"trigger"`
	Error      string       `json:"error"`
	Runs       []RunSummary `json:"runs,omitempty"`
}

func summarize(runs []*trenddomain.Run) []RunSummary {
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		if r == nil {
			continue
		}
		out = append(out, RunSummary{
			Timeframe:   r.Timeframe,
			RunID:       r.RunID.String(),
			Status:      r.Status,
			BarsLabeled: r.BarsLabeled,
			Fingerprint: r.Fingerprint,
		})
	}
	return out
}
