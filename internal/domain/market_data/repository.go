package market_data

import (
	"context"
	"time"
)

// Repository defines the interface for bar storage (PostgreSQL)
type Repository interface {
	// UpsertBars writes bars keyed by (security, timeframe, bucket start).
	// Returns the number of rows actually inserted or changed.
	UpsertBars(ctx context.Context, bars []Bar) (int, error)

	// GetBars returns bars inside the range, oldest first
	GetBars(ctx context.Context, securityID string, tf Timeframe, r Range) ([]Bar, error)

	// GetRecentBars returns the newest limit bars, oldest first
	GetRecentBars(ctx context.Context, securityID string, tf Timeframe, limit int) ([]Bar, error)

	// GetLatestBar returns the newest bar or errors.ErrNotFound
	GetLatestBar(ctx context.Context, securityID string, tf Timeframe) (*Bar, error)

	CountBars(ctx context.Context, securityID string, tf Timeframe) (int, error)

	// SessionDays returns the distinct calendar days in loc holding at least
	// one bar of the series, as local midnights, oldest first
	SessionDays(ctx context.Context, securityID string, tf Timeframe, loc *time.Location) ([]time.Time, error)
}

// SecurityRepository manages the instrument registry
type SecurityRepository interface {
	Upsert(ctx context.Context, s *Security) error
	GetByID(ctx context.Context, securityID string) (*Security, error)
	List(ctx context.Context) ([]*Security, error)
}

// IngestionLog stores the audit trail of ingestion batches
type IngestionLog interface {
	Record(ctx context.Context, rec *IngestionRecord) error
	Recent(ctx context.Context, securityID string, limit int) ([]*IngestionRecord, error)
}
