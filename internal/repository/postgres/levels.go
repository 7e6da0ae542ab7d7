package postgres

import (
	"context"

	"github.com/lib/pq"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ levelsdomain.Repository = (*LevelRepository)(nil)

// LevelRepository stores level sets and their levels
type LevelRepository struct {
	db DBTX
}

// NewLevelRepository creates a new level repository
func NewLevelRepository(db DBTX) *LevelRepository {
	return &LevelRepository{db: db}
}

// Insert stores the set and its levels in one transaction and assigns set.ID
func (r *LevelRepository) Insert(ctx context.Context, set *levelsdomain.LevelSet) error {
	return inTx(ctx, r.db, func(tx DBTX) error {
		query := `
			INSERT INTO level_sets (security_id, timeframe, as_of, reference_price, lookback, bars_used)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`

		if err := tx.GetContext(ctx, &set.ID, query,
			set.SecurityID, set.Timeframe, set.AsOf, set.ReferencePrice, set.Lookback, set.BarsUsed,
		); err != nil {
			return errors.Wrapf(err, "insert level set of %s %s", set.SecurityID, set.Timeframe)
		}

		for _, l := range set.Levels {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO levels (set_id, side, rank, price, touches, revisits)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				set.ID, l.Side, l.Rank, l.Price, l.Touches, l.Revisits,
			); err != nil {
				return errors.Wrapf(err, "insert %s level %d of set %d", l.Side, l.Rank, set.ID)
			}
		}
		return nil
	})
}

// GetCurrent returns the newest set or errors.ErrNotFound
func (r *LevelRepository) GetCurrent(ctx context.Context, securityID string, tf market_data.Timeframe) (*levelsdomain.LevelSet, error) {
	var set levelsdomain.LevelSet
	query := `
		SELECT id, security_id, timeframe, as_of, reference_price, lookback, bars_used
		FROM level_sets
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY as_of DESC, id DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &set, query, securityID, tf); err != nil {
		return nil, notFound(err, "current levels of %s %s", securityID, tf)
	}
	if err := r.attach(ctx, []*levelsdomain.LevelSet{&set}); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetHistory returns every set, oldest first
func (r *LevelRepository) GetHistory(ctx context.Context, securityID string, tf market_data.Timeframe) ([]*levelsdomain.LevelSet, error) {
	var sets []*levelsdomain.LevelSet
	query := `
		SELECT id, security_id, timeframe, as_of, reference_price, lookback, bars_used
		FROM level_sets
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY as_of ASC, id ASC`

	if err := r.db.SelectContext(ctx, &sets, query, securityID, tf); err != nil {
		return nil, errors.Wrapf(err, "level history of %s %s", securityID, tf)
	}
	if err := r.attach(ctx, sets); err != nil {
		return nil, err
	}
	return sets, nil
}

type levelRow struct {
	SetID int64 `db:"set_id"`
	levelsdomain.Level
}

// attach loads the levels of every set with one query
func (r *LevelRepository) attach(ctx context.Context, sets []*levelsdomain.LevelSet) error {
	if len(sets) == 0 {
		return nil
	}
	ids := make([]int64, len(sets))
	byID := make(map[int64]*levelsdomain.LevelSet, len(sets))
	for i, s := range sets {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	query := `
		SELECT l.set_id, s.security_id, s.timeframe, l.side, l.rank, l.price, l.touches, l.revisits, s.as_of
		FROM levels l
		JOIN level_sets s ON s.id = l.set_id
		WHERE l.set_id = ANY($1)
		ORDER BY l.set_id, l.side, l.rank`

	var rows []levelRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "load levels")
	}
	for _, row := range rows {
		set := byID[row.SetID]
		set.Levels = append(set.Levels, row.Level)
	}
	return nil
}
