package postgres

import (
	"context"

	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ market_data.SecurityRepository = (*SecurityRepository)(nil)

// SecurityRepository implements market_data.SecurityRepository
type SecurityRepository struct {
	db DBTX
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db DBTX) *SecurityRepository {
	return &SecurityRepository{db: db}
}

// Upsert inserts or updates the registry entry
func (r *SecurityRepository) Upsert(ctx context.Context, s *market_data.Security) error {
	query := `
		INSERT INTO securities (
			security_id, symbol, exchange, timezone, session_open, session_close, created_at, updated_at
		) VALUES (
			:security_id, :symbol, :exchange,
			COALESCE(NULLIF(:timezone, ''), 'Asia/Kolkata'),
			COALESCE(NULLIF(:session_open, ''), '09:15'),
			COALESCE(NULLIF(:session_close, ''), '15:30'),
			:created_at, :updated_at
		)
		ON CONFLICT (security_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			exchange = EXCLUDED.exchange,
			timezone = EXCLUDED.timezone,
			session_open = EXCLUDED.session_open,
			session_close = EXCLUDED.session_close,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return errors.Wrapf(err, "upsert security %s", s.SecurityID)
	}
	return nil
}

// GetByID returns the security or errors.ErrNotFound
func (r *SecurityRepository) GetByID(ctx context.Context, securityID string) (*market_data.Security, error) {
	var s market_data.Security
	query := `SELECT * FROM securities WHERE security_id = $1`
	if err := r.db.GetContext(ctx, &s, query, securityID); err != nil {
		return nil, notFound(err, "security %s", securityID)
	}
	return &s, nil
}

// List returns every registered security ordered by id
func (r *SecurityRepository) List(ctx context.Context) ([]*market_data.Security, error) {
	var out []*market_data.Security
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM securities ORDER BY security_id`); err != nil {
		return nil, errors.Wrap(err, "list securities")
	}
	return out, nil
}
