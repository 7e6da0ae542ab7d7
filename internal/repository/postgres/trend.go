package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ trenddomain.Repository = (*TrendRepository)(nil)

// TrendRepository stores trend labels and labeling runs
type TrendRepository struct {
	db DBTX
}

// NewTrendRepository creates a new trend repository
func NewTrendRepository(db DBTX) *TrendRepository {
	return &TrendRepository{db: db}
}

// CreateRun inserts a run record
func (r *TrendRepository) CreateRun(ctx context.Context, run *trenddomain.Run) error {
	query := `
		INSERT INTO trend_runs (
			run_id, security_id, timeframe, fingerprint, status, bars_total, bars_labeled, error, started_at, finished_at
		) VALUES (
			:run_id, :security_id, :timeframe, :fingerprint, :status, :bars_total, :bars_labeled, :error, :started_at, :finished_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return errors.Wrapf(err, "create run %s", run.RunID)
	}
	return nil
}

// FinishRun stores the final status and counters of a run
func (r *TrendRepository) FinishRun(ctx context.Context, run *trenddomain.Run) error {
	query := `
		UPDATE trend_runs SET
			status = $2,
			bars_total = $3,
			bars_labeled = $4,
			error = $5,
			finished_at = $6
		WHERE run_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Status, run.BarsTotal, run.BarsLabeled, run.Error, run.FinishedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", run.RunID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "run %s", run.RunID)
	}
	return nil
}

// GetLatestRun returns the newest run of any status
func (r *TrendRepository) GetLatestRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Run, error) {
	var run trenddomain.Run
	query := `
		SELECT * FROM trend_runs
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY started_at DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &run, query, securityID, tf); err != nil {
		return nil, notFound(err, "latest run of %s %s", securityID, tf)
	}
	return &run, nil
}

// GetLatestCompletedRun returns the newest completed run
func (r *TrendRepository) GetLatestCompletedRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Run, error) {
	var run trenddomain.Run
	query := `
		SELECT * FROM trend_runs
		WHERE security_id = $1 AND timeframe = $2 AND status = $3
		ORDER BY started_at DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &run, query, securityID, tf, trenddomain.RunCompleted); err != nil {
		return nil, notFound(err, "latest completed run of %s %s", securityID, tf)
	}
	return &run, nil
}

const labelColumns = `security_id, timeframe, bucket_start, direction, strength, score, level_zone, params_fingerprint, run_id, computed_at`

// UpsertLabels writes one chunk of labels with a single statement
func (r *TrendRepository) UpsertLabels(ctx context.Context, labels []trenddomain.Label) error {
	if len(labels) == 0 {
		return nil
	}
	start := time.Now()

	n := len(labels)
	var (
		securities   = make(pq.StringArray, n)
		timeframes   = make(pq.StringArray, n)
		bars         = make(pq.StringArray, n)
		directions   = make(pq.StringArray, n)
		strengths    = make(pq.Float64Array, n)
		scores       = make(pq.Float64Array, n)
		zones        = make(pq.StringArray, n)
		fingerprints = make(pq.StringArray, n)
		runs         = make(pq.StringArray, n)
		computed     = make(pq.StringArray, n)
	)
	for i, l := range labels {
		securities[i] = l.SecurityID
		timeframes[i] = l.Timeframe.String()
		bars[i] = l.BarTime.Format(time.RFC3339Nano)
		directions[i] = string(l.Direction)
		strengths[i] = l.Strength
		scores[i] = l.Score
		zones[i] = string(l.LevelZone)
		fingerprints[i] = l.ParamsFingerprint
		runs[i] = l.RunID.String()
		computed[i] = l.ComputedAt.Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO trend_labels (` + labelColumns + `)
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::timestamptz[], $4::text[],
			$5::double precision[], $6::double precision[], $7::text[],
			$8::text[], $9::uuid[], $10::timestamptz[]
		)
		ON CONFLICT (security_id, timeframe, bucket_start) DO UPDATE SET
			direction = EXCLUDED.direction,
			strength = EXCLUDED.strength,
			score = EXCLUDED.score,
			level_zone = EXCLUDED.level_zone,
			params_fingerprint = EXCLUDED.params_fingerprint,
			run_id = EXCLUDED.run_id,
			computed_at = EXCLUDED.computed_at`

	_, err := r.db.ExecContext(ctx, query,
		securities, timeframes, bars, directions, strengths, scores, zones, fingerprints, runs, computed,
	)
	metrics.RecordDBQuery("postgres", "labels_upsert", time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "upsert %d labels of %s %s", n, labels[0].SecurityID, labels[0].Timeframe)
	}
	return nil
}

// GetLabels returns labels in the range, oldest first
func (r *TrendRepository) GetLabels(ctx context.Context, securityID string, tf market_data.Timeframe, rng market_data.Range) ([]trenddomain.Label, error) {
	query := `
		SELECT ` + labelColumns + `
		FROM trend_labels
		WHERE security_id = $1 AND timeframe = $2
			AND ($3::timestamptz IS NULL OR bucket_start >= $3)
			AND ($4::timestamptz IS NULL OR bucket_start < $4)
		ORDER BY bucket_start ASC`

	labels := make([]trenddomain.Label, 0)
	if err := r.db.SelectContext(ctx, &labels, query, securityID, tf, nullTime(rng.From), nullTime(rng.To)); err != nil {
		return nil, errors.Wrapf(err, "select %s %s labels", securityID, tf)
	}
	return labels, nil
}

// GetLatestLabel returns the label of the newest labelled bar
func (r *TrendRepository) GetLatestLabel(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Label, error) {
	var label trenddomain.Label
	query := `
		SELECT ` + labelColumns + `
		FROM trend_labels
		WHERE security_id = $1 AND timeframe = $2
		ORDER BY bucket_start DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &label, query, securityID, tf); err != nil {
		return nil, notFound(err, "latest %s %s label", securityID, tf)
	}
	return &label, nil
}

// Coverage counts labels against stored bars. The latest run is attached by the caller.
func (r *TrendRepository) Coverage(ctx context.Context, securityID string, tf market_data.Timeframe, fingerprint string, runID uuid.UUID) (*trenddomain.Coverage, error) {
	cov := &trenddomain.Coverage{
		SecurityID:   securityID,
		Timeframe:    tf,
		Distribution: make(map[trenddomain.Direction]int),
	}

	if err := r.db.GetContext(ctx, &cov.TotalBars,
		`SELECT COUNT(*) FROM bars WHERE security_id = $1 AND timeframe = $2`, securityID, tf,
	); err != nil {
		return nil, errors.Wrapf(err, "count %s %s bars", securityID, tf)
	}

	var rows []struct {
		Direction trenddomain.Direction `db:"direction"`
		Total     int                   `db:"total"`
		Stale     int                   `db:"stale"`
	}
	query := `
		SELECT direction,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE params_fingerprint <> $3 OR run_id <> $4) AS stale
		FROM trend_labels
		WHERE security_id = $1 AND timeframe = $2
		GROUP BY direction`

	if err := r.db.SelectContext(ctx, &rows, query, securityID, tf, fingerprint, runID); err != nil {
		return nil, errors.Wrapf(err, "label coverage of %s %s", securityID, tf)
	}
	for _, row := range rows {
		cov.Distribution[row.Direction] = row.Total
		cov.LabeledBars += row.Total
		cov.StaleLabels += row.Stale
	}
	return cov, nil
}
