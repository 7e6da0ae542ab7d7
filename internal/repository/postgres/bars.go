package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ market_data.Repository = (*BarRepository)(nil)

// BarRepository implements market_data.Repository on the bars table
type BarRepository struct {
	db DBTX
}

// NewBarRepository creates a new bar repository
func NewBarRepository(db DBTX) *BarRepository {
	return &BarRepository{db: db}
}

const barColumns = `security_id, timeframe, bucket_start, open, high, low, close, volume, source_bars`

// UpsertBars writes all bars in one statement. Rows whose values did not
// change are left untouched and not counted.
func (r *BarRepository) UpsertBars(ctx context.Context, bars []market_data.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	start := time.Now()

	n := len(bars)
	var (
		securities = make(pq.StringArray, n)
		timeframes = make(pq.StringArray, n)
		starts     = make(pq.StringArray, n)
		opens      = make(pq.StringArray, n)
		highs      = make(pq.StringArray, n)
		lows       = make(pq.StringArray, n)
		closes     = make(pq.StringArray, n)
		volumes    = make(pq.Int64Array, n)
		sources    = make(pq.Int64Array, n)
	)
	for i, b := range bars {
		securities[i] = b.SecurityID
		timeframes[i] = b.Timeframe.String()
		starts[i] = b.Timestamp.Format(time.RFC3339Nano)
		opens[i] = b.Open.String()
		highs[i] = b.High.String()
		lows[i] = b.Low.String()
		closes[i] = b.Close.String()
		volumes[i] = b.Volume
		sources[i] = int64(max(b.SourceBars, 1))
	}

	query := `
		INSERT INTO bars (` + barColumns + `, updated_at)
		SELECT t.security_id, t.timeframe, t.bucket_start, t.open, t.high, t.low, t.close, t.volume, t.source_bars, NOW()
		FROM unnest(
			$1::text[], $2::text[], $3::timestamptz[],
			$4::numeric[], $5::numeric[], $6::numeric[], $7::numeric[],
			$8::bigint[], $9::integer[]
		) AS t(security_id, timeframe, bucket_start, open, high, low, close, volume, source_bars)
		ON CONFLICT (security_id, timeframe, bucket_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			source_bars = EXCLUDED.source_bars,
			updated_at = NOW()
		WHERE (bars.open, bars.high, bars.low, bars.close, bars.volume, bars.source_bars)
			IS DISTINCT FROM
			(EXCLUDED.open, EXCLUDED.high, EXCLUDED.low, EXCLUDED.close, EXCLUDED.volume, EXCLUDED.source_bars)`

	res, err := r.db.ExecContext(ctx, query,
		securities, timeframes, starts, opens, highs, lows, closes, volumes, sources,
	)
	metrics.RecordDBQuery("postgres", "bars_upsert", time.Since(start), err)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert %d bars from %s", n, bars[0].Key())
	}

	changed, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(changed), nil
}

// GetBars returns bars inside the range, oldest first
func (r *BarRepository) GetBars(ctx context.Context, securityID string, tf market_data.Timeframe, rng market_data.Range) ([]market_data.Bar, error) {
	start := time.Now()
	query := `
		SELECT ` + barColumns + `
		FROM bars
		WHERE security_id = $1 AND timeframe = $2
			AND ($3::timestamptz IS NULL OR bucket_start >= $3)
			AND ($4::timestamptz IS NULL OR bucket_start < $4)
		ORDER BY bucket_start ASC`

	bars := make([]market_data.Bar, 0)
	err := r.db.SelectContext(ctx, &bars, query, securityID, tf, nullTime(rng.From), nullTime(rng.To))
	metrics.RecordDBQuery("postgres", "bars_select", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s %s bars", securityID, tf)
	}
	return bars, nil
}

// GetRecentBars returns the newest limit bars, oldest first
func (r *BarRepository) GetRecentBars(ctx context.Context, securityID string, tf market_data.Timeframe, limit int) ([]market_data.Bar, error) {
	query := `
		SELECT * FROM (
			SELECT ` + barColumns + `
			FROM bars
			WHERE security_id = $1 AND timeframe = $2
			ORDER BY bucket_start DESC
			LIMIT $3
		) recent
		ORDER BY bucket_start ASC`

	bars := make([]market_data.Bar, 0, limit)
	if err := r.db.SelectContext(ctx, &bars, query, securityID, tf, limit); err != nil {
		return nil, errors.Wrapf(err, "select recent %s %s bars", securityID, tf)
	}
	return bars, nil
}

// GetLatestBar returns the newest bar or errors.ErrNotFound
func (r *BarRepository) GetLatestBar(ctx context.Context, securityID string, tf market_data.Timeframe) (*market_data.Bar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM bars
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY bucket_start DESC
		LIMIT 1`

	var bar market_data.Bar
	if err := r.db.GetContext(ctx, &bar, query, securityID, tf); err != nil {
		return nil, notFound(err, "latest %s %s bar", securityID, tf)
	}
	return &bar, nil
}

// CountBars counts stored bars of one series
func (r *BarRepository) CountBars(ctx context.Context, securityID string, tf market_data.Timeframe) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM bars WHERE security_id = $1 AND timeframe = $2`
	if err := r.db.GetContext(ctx, &count, query, securityID, tf); err != nil {
		return 0, errors.Wrapf(err, "count %s %s bars", securityID, tf)
	}
	return count, nil
}

// SessionDays returns the local calendar days holding bars of one series
func (r *BarRepository) SessionDays(ctx context.Context, securityID string, tf market_data.Timeframe, loc *time.Location) ([]time.Time, error) {
	start := time.Now()
	query := `
		SELECT DISTINCT date_trunc('day', bucket_start AT TIME ZONE $3) AS day
		FROM bars
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY day ASC`

	var walls []time.Time
	err := r.db.SelectContext(ctx, &walls, query, securityID, tf, loc.String())
	metrics.RecordDBQuery("postgres", "bars_session_days", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s %s session days", securityID, tf)
	}

	// timestamp without time zone holds the local wall clock
	days := make([]time.Time, len(walls))
	for i, w := range walls {
		days[i] = time.Date(w.Year(), w.Month(), w.Day(), 0, 0, 0, 0, loc)
	}
	return days, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
