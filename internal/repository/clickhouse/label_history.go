package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/metrics"
	chbatch "trendboard/pkg/clickhouse"
	"trendboard/pkg/errors"
)

// Compile-time check
var _ trenddomain.HistorySink = (*LabelHistoryRepository)(nil)

// LabelHistoryRow is one label of a completed run
type LabelHistoryRow struct {
	RunID       string    `ch:"run_id"`
	SecurityID  string    `ch:"security_id"`
	Timeframe   string    `ch:"timeframe"`
	BarTime     time.Time `ch:"bar_time"`
	Direction   string    `ch:"direction"`
	Strength    float64   `ch:"strength"`
	Score       float64   `ch:"score"`
	LevelZone   string    `ch:"level_zone"`
	Fingerprint string    `ch:"params_fingerprint"`
	RunFinished time.Time `ch:"run_finished_at"`
}

// DirectionShare is the share of one direction among a run's labels
type DirectionShare struct {
	RunID     string `ch:"run_id"`
	Direction string `ch:"direction"`
	Bars      uint64 `ch:"bars"`
}

// LabelHistoryRepository appends every completed run's labels to an
// append-only MergeTree table for analytics
type LabelHistoryRepository struct {
	conn   driver.Conn
	table  string
	writer *chbatch.BatchWriter[LabelHistoryRow]
}

// NewLabelHistoryRepository creates the repository; table defaults to trend_label_history
func NewLabelHistoryRepository(conn driver.Conn, table string, batchSize int) *LabelHistoryRepository {
	if table == "" {
		table = "trend_label_history"
	}
	r := &LabelHistoryRepository{conn: conn, table: table}
	r.writer = chbatch.NewBatchWriter(chbatch.BatchWriterConfig[LabelHistoryRow]{
		FlushFunc:    r.insert,
		TableName:    table,
		MaxBatchSize: batchSize,
	})
	return r
}

// EnsureSchema creates the history table when missing
func (r *LabelHistoryRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id             String,
			security_id        LowCardinality(String),
			timeframe          LowCardinality(String),
			bar_time           DateTime64(3, 'UTC'),
			direction          LowCardinality(String),
			strength           Float64,
			score              Float64,
			level_zone         LowCardinality(String),
			params_fingerprint String,
			run_finished_at    DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(run_finished_at)
		ORDER BY (security_id, timeframe, run_finished_at, bar_time)`, r.table)

	return errors.Wrap(r.conn.Exec(ctx, query), "create label history table")
}

// Start begins background flushing
func (r *LabelHistoryRepository) Start(ctx context.Context) {
	r.writer.Start(ctx)
}

// Stop flushes pending rows
func (r *LabelHistoryRepository) Stop(ctx context.Context) error {
	return r.writer.Stop(ctx)
}

// AppendRun buffers the run's labels and flushes them
func (r *LabelHistoryRepository) AppendRun(ctx context.Context, run *trenddomain.Run, labels []trenddomain.Label) error {
	if len(labels) == 0 {
		return nil
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	rows := make([]LabelHistoryRow, len(labels))
	for i, l := range labels {
		rows[i] = LabelHistoryRow{
			RunID:       run.RunID.String(),
			SecurityID:  l.SecurityID,
			Timeframe:   l.Timeframe.String(),
			BarTime:     l.BarTime.UTC(),
			Direction:   string(l.Direction),
			Strength:    l.Strength,
			Score:       l.Score,
			LevelZone:   string(l.LevelZone),
			Fingerprint: l.ParamsFingerprint,
			RunFinished: finished,
		}
	}

	if err := r.writer.Add(ctx, rows...); err != nil {
		return errors.Wrapf(err, "append run %s", run.RunID)
	}
	return errors.Wrapf(r.writer.Flush(ctx), "flush run %s", run.RunID)
}

func (r *LabelHistoryRepository) insert(ctx context.Context, rows []LabelHistoryRow) error {
	start := time.Now()
	err := r.send(ctx, rows)
	metrics.RecordDBQuery("clickhouse", "label_history_insert", time.Since(start), err)
	return err
}

func (r *LabelHistoryRepository) send(ctx context.Context, rows []LabelHistoryRow) error {
	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+r.table)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			return errors.Wrap(err, "failed to append label row")
		}
	}
	return batch.Send()
}

// DirectionShares returns per-direction bar counts of the newest runs of a series
func (r *LabelHistoryRepository) DirectionShares(ctx context.Context, securityID string, tf market_data.Timeframe, runs int) ([]DirectionShare, error) {
	query := fmt.Sprintf(`
		SELECT run_id, direction, count() AS bars
		FROM %s
		WHERE security_id = ? AND timeframe = ? AND run_id IN (
			SELECT run_id FROM %s
			WHERE security_id = ? AND timeframe = ?
			GROUP BY run_id
			ORDER BY max(run_finished_at) DESC
			LIMIT ?
		)
		GROUP BY run_id, direction
		ORDER BY run_id, direction`, r.table, r.table)

	var out []DirectionShare
	if err := r.conn.Select(ctx, &out, query, securityID, tf.String(), securityID, tf.String(), runs); err != nil {
		return nil, errors.Wrapf(err, "direction shares of %s %s", securityID, tf)
	}
	return out, nil
}
