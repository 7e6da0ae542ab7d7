package trend

import (
	"context"

	"github.com/google/uuid"

	"trendboard/internal/domain/market_data"
)

// Repository persists labels and labeling runs
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetLatestRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*Run, error)
	GetLatestCompletedRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*Run, error)

	// UpsertLabels writes labels keyed by (security, timeframe, bar time)
	UpsertLabels(ctx context.Context, labels []Label) error

	// GetLabels returns labels in the range, oldest first
	GetLabels(ctx context.Context, securityID string, tf market_data.Timeframe, r market_data.Range) ([]Label, error)
	GetLatestLabel(ctx context.Context, securityID string, tf market_data.Timeframe) (*Label, error)

	// Coverage counts labels against stored bars. Labels with another
	// fingerprint or from another run than runID are counted as stale.
	Coverage(ctx context.Context, securityID string, tf market_data.Timeframe, fingerprint string, runID uuid.UUID) (*Coverage, error)
}

// HistorySink receives completed runs for analytics (ClickHouse)
type HistorySink interface {
	AppendRun(ctx context.Context, run *Run, labels []Label) error
}
