package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trendboard/pkg/errors"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success or error kind
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendboard_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trendboard_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Pipeline metrics
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendboard_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"stage", "status"}, // stage: aggregate|levels|label|verify
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"trigger", "status"}, // trigger: api|kafka|worker|cli; status: success or error kind
	)

	BucketsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_buckets_written_total",
			Help: "Aggregated buckets inserted or changed",
		},
		[]string{"timeframe"},
	)

	BucketsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_buckets_failed_total",
			Help: "Buckets skipped because a source bar failed validation",
		},
		[]string{"timeframe"},
	)

	BucketsIncomplete = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trendboard_buckets_incomplete",
			Help: "Incomplete buckets reported by the last aggregation",
		},
		[]string{"timeframe"},
	)

	LabelsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_labels_written_total",
			Help: "Trend labels written",
		},
		[]string{"timeframe"},
	)

	LevelSetsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_level_sets_created_total",
			Help: "Support/resistance level sets estimated",
		},
		[]string{"timeframe", "empty"},
	)

	BarsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_bars_ingested_total",
			Help: "Base bars accepted or rejected by ingestion",
		},
		[]string{"status"}, // accepted|rejected
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|clickhouse|redis
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendboard_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"database", "operation"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_kafka_messages_total",
			Help: "Total Kafka messages produced/consumed",
		},
		[]string{"topic", "direction", "status"}, // direction: produced|consumed
	)

	SnapshotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendboard_snapshot_cache_total",
			Help: "Snapshot cache lookups",
		},
		[]string{"result"}, // hit|miss|error
	)

	// HTTP metrics
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendboard_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern and status code",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 2, 10, 60, 120},
		},
		[]string{"route", "code"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WorkerExecutions, WorkerDuration, WorkerLastRun,
			PipelineStageDuration, PipelineRuns,
			BucketsWritten, BucketsFailed, BucketsIncomplete,
			LabelsWritten, LevelSetsCreated, BarsIngested,
			DBQueries, DBQueryDuration,
			KafkaMessages, SnapshotCache,
			HTTPRequestDuration,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusOf labels an outcome with its error kind (busy, incomplete, ...)
func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	return errors.Kind(err)
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, statusOf(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordStage records the duration of one pipeline stage
func RecordStage(stage string, duration time.Duration, err error) {
	PipelineStageDuration.WithLabelValues(stage, statusOf(err)).Observe(duration.Seconds())
}

// RecordPipelineRun records the outcome of a pipeline run by trigger
func RecordPipelineRun(trigger string, err error) {
	PipelineRuns.WithLabelValues(trigger, statusOf(err)).Inc()
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, statusOf(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(route string, code int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}

// RecordKafkaMessage records a produced or consumed message
func RecordKafkaMessage(topic, direction string, err error) {
	KafkaMessages.WithLabelValues(topic, direction, statusOf(err)).Inc()
}
