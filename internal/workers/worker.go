package workers

import (
	"context"
	"sync"
	"time"

	"trendboard/pkg/logger"
)

// Worker is a periodic background task
type Worker interface {
	Name() string

	// Run executes one iteration; the scheduler calls it every Interval()
	Run(ctx context.Context) error

	Interval() time.Duration
	Enabled() bool
}

// HealthRecorder is implemented by workers embedding BaseWorker
type HealthRecorder interface {
	RecordRun(duration time.Duration)
	RecordError(err error, duration time.Duration)
	Health() WorkerHealth
}

// WorkerHealth contains health information for a worker
type WorkerHealth struct {
	LastRun     time.Time     `json:"last_run"`
	LastError   string        `json:"last_error,omitempty"`
	RunCount    int64         `json:"run_count"`
	ErrorCount  int64         `json:"error_count"`
	AvgDuration time.Duration `json:"avg_duration"`
	Enabled     bool          `json:"enabled"`
	// Securities passed over because another pipeline run held their lock
	Skipped     int64     `json:"skipped"`
	LastSkipped time.Time `json:"last_skipped,omitzero"`
}

// BaseWorker provides name, interval and health bookkeeping
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  bool
	log      *logger.Logger

	healthMu      sync.RWMutex
	lastRun       time.Time
	lastError     error
	runCount      int64
	errorCount    int64
	skipped       int64
	lastSkipped   time.Time
	totalDuration time.Duration
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled && interval > 0,
		log:      logger.Get().With("worker", name),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Interval() time.Duration {
	return w.interval
}

func (w *BaseWorker) Enabled() bool {
	w.healthMu.RLock()
	defer w.healthMu.RUnlock()
	return w.enabled
}

// Log returns the worker logger
func (w *BaseWorker) Log() *logger.Logger {
	return w.log
}

// Health returns a snapshot of the worker's run history
func (w *BaseWorker) Health() WorkerHealth {
	w.healthMu.RLock()
	defer w.healthMu.RUnlock()

	h := WorkerHealth{
		LastRun:     w.lastRun,
		RunCount:    w.runCount,
		ErrorCount:  w.errorCount,
		Enabled:     w.enabled,
		Skipped:     w.skipped,
		LastSkipped: w.lastSkipped,
	}
	if w.runCount > 0 {
		h.AvgDuration = time.Duration(int64(w.totalDuration) / w.runCount)
	}
	if w.lastError != nil {
		h.LastError = w.lastError.Error()
	}
	return h
}

// RecordRun records a successful run
func (w *BaseWorker) RecordRun(duration time.Duration) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()

	w.lastRun = time.Now()
	w.runCount++
	w.totalDuration += duration
	w.lastError = nil
}

// RecordError records a failed run
func (w *BaseWorker) RecordError(err error, duration time.Duration) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()

	w.lastRun = time.Now()
	w.runCount++
	w.errorCount++
	w.totalDuration += duration
	w.lastError = err
}

// RecordSkip counts a security passed over because it was busy
func (w *BaseWorker) RecordSkip() {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()
	w.skipped++
	w.lastSkipped = time.Now()
}
