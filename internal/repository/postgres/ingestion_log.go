package postgres

import (
	"context"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ market_data.IngestionLog = (*IngestionLogRepository)(nil)

// IngestionLogRepository stores the audit trail of ingestion batches
type IngestionLogRepository struct {
	db DBTX
}

// NewIngestionLogRepository creates a new ingestion log repository
func NewIngestionLogRepository(db DBTX) *IngestionLogRepository {
	return &IngestionLogRepository{db: db}
}

// Record appends one batch record
func (r *IngestionLogRepository) Record(ctx context.Context, rec *market_data.IngestionRecord) error {
	query := `
		INSERT INTO ingestion_log (
			id, security_id, timeframe, range_from, range_to, rows, rejected, status, error, created_at
		) VALUES (
			:id, :security_id, :timeframe, :range_from, :range_to, :rows, :rejected, :status, :error, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return errors.Wrapf(err, "record ingestion batch of %s", rec.SecurityID)
	}
	return nil
}

// Recent returns the newest records first; limit <= 0 returns all
func (r *IngestionLogRepository) Recent(ctx context.Context, securityID string, limit int) ([]*market_data.IngestionRecord, error) {
	query := `
		SELECT * FROM ingestion_log
		WHERE security_id = $1
		ORDER BY created_at DESC
		LIMIT NULLIF($2, 0)`

	if limit < 0 {
		limit = 0
	}
	var out []*market_data.IngestionRecord
	if err := r.db.SelectContext(ctx, &out, query, securityID, limit); err != nil {
		return nil, errors.Wrapf(err, "recent ingestion batches of %s", securityID)
	}
	return out, nil
}
