package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"trendboard/pkg/logger"
)

// SeriesCollector exposes stored bar and label counts per timeframe at scrape time
type SeriesCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	storedBars    *prometheus.Desc
	labeledBars   *prometheus.Desc
	lastRunStatus *prometheus.Desc
}

// NewSeriesCollector creates a new collector over the bars and trend_labels tables
func NewSeriesCollector(log *logger.Logger, postgres *sqlx.DB) *SeriesCollector {
	return &SeriesCollector{
		log:      log,
		postgres: postgres,

		storedBars: prometheus.NewDesc(
			"trendboard_stored_bars",
			"Stored bars per security and timeframe",
			[]string{"security_id", "timeframe"}, nil,
		),
		labeledBars: prometheus.NewDesc(
			"trendboard_labeled_bars",
			"Bars carrying a trend label per security and timeframe",
			[]string{"security_id", "timeframe"}, nil,
		),
		lastRunStatus: prometheus.NewDesc(
			"trendboard_last_run_completed",
			"1 if the newest labeling run completed, 0 otherwise",
			[]string{"security_id", "timeframe"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SeriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedBars
	ch <- c.labeledBars
	ch <- c.lastRunStatus
}

// Collect implements prometheus.Collector
func (c *SeriesCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectCounts(ctx, ch, c.storedBars, `
		SELECT security_id, timeframe, COUNT(*) AS count
		FROM bars
		GROUP BY security_id, timeframe`)

	c.collectCounts(ctx, ch, c.labeledBars, `
		SELECT security_id, timeframe, COUNT(*) AS count
		FROM trend_labels
		GROUP BY security_id, timeframe`)

	c.collectRunStatus(ctx, ch)
}

type seriesCount struct {
	SecurityID string `db:"security_id"`
	Timeframe  string `db:"timeframe"`
	Count      int    `db:"count"`
}

func (c *SeriesCollector) collectCounts(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var rows []seriesCount
	if err := c.postgres.SelectContext(ctx, &rows, query); err != nil {
		c.log.Warnw("Failed to collect series metric", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(r.Count), r.SecurityID, r.Timeframe)
	}
}

func (c *SeriesCollector) collectRunStatus(ctx context.Context, ch chan<- prometheus.Metric) {
	type runStatus struct {
		SecurityID string `db:"security_id"`
		Timeframe  string `db:"timeframe"`
		Status     string `db:"status"`
	}

	var rows []runStatus
	err := c.postgres.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (security_id, timeframe) security_id, timeframe, status
		FROM trend_runs
		ORDER BY security_id, timeframe, started_at DESC`)
	if err != nil {
		c.log.Warnw("Failed to collect run status metric", "error", err)
		return
	}

	for _, r := range rows {
		v := 0.0
		if r.Status == "completed" {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.lastRunStatus, prometheus.GaugeValue, v, r.SecurityID, r.Timeframe)
	}
}
