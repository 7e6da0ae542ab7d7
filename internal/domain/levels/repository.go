package levels

import (
	"context"

	"trendboard/internal/domain/market_data"
)

// Repository persists level sets
type Repository interface {
	// Insert stores a new set with its levels and assigns set.ID
	Insert(ctx context.Context, set *LevelSet) error

	// GetCurrent returns the newest set or errors.ErrNotFound
	GetCurrent(ctx context.Context, securityID string, tf market_data.Timeframe) (*LevelSet, error)

	// GetHistory returns every set, oldest first
	GetHistory(ctx context.Context, securityID string, tf market_data.Timeframe) ([]*LevelSet, error)
}
