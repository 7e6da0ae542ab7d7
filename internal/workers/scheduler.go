package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Scheduler runs registered workers, each on its own ticker
type Scheduler struct {
	workers         []Worker
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	log             *logger.Logger
	started         bool
	shutdownTimeout time.Duration
}

// NewScheduler creates a new worker scheduler
func NewScheduler(shutdownTimeout time.Duration) *Scheduler {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Minute
	}
	return &Scheduler{
		workers:         make([]Worker, 0),
		log:             logger.Get().Component("scheduler"),
		shutdownTimeout: shutdownTimeout,
	}
}

// RegisterWorker adds a worker to the scheduler
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval(), "enabled", w.Enabled())
}

// Start begins running all enabled workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler already started")
	}

	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	for _, worker := range workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}

		s.wg.Add(1)
		go s.runWorker(worker)
	}

	s.log.Infow("Worker scheduler started", "workers", len(workers))
	return nil
}

// Stop cancels all workers and waits for running iterations to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("All workers stopped gracefully")
	case <-time.After(s.shutdownTimeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", s.shutdownTimeout)
		shutdownErr = errors.Wrapf(errors.ErrInternal, "shutdown timeout after %v", s.shutdownTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

func (s *Scheduler) runWorker(worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.executeWorker(worker)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Infow("Worker stopping", "worker", worker.Name())
			return

		case <-ticker.C:
			s.executeWorker(worker)
		}
	}
}

// executeWorker runs one iteration, recovering from panics
func (s *Scheduler) executeWorker(worker Worker) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "panic: %v", fmt.Sprint(r))
			s.log.Errorw("Worker panicked", "worker", worker.Name(), "panic", r)
		}

		duration := time.Since(start)
		metrics.RecordWorkerExecution(worker.Name(), duration, err)
		if rec, ok := worker.(HealthRecorder); ok {
			if err != nil {
				rec.RecordError(err, duration)
			} else {
				rec.RecordRun(duration)
			}
		}
	}()

	err = worker.Run(s.ctx)
	if err != nil && s.ctx.Err() == nil {
		s.log.Errorw("Worker execution failed", "worker", worker.Name(), "error", err, "duration", time.Since(start))
		return
	}
	s.log.Debugw("Worker execution completed", "worker", worker.Name(), "duration", time.Since(start))
}

// Health returns the health of every worker that records it
func (s *Scheduler) Health() map[string]WorkerHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]WorkerHealth, len(s.workers))
	for _, w := range s.workers {
		if rec, ok := w.(HealthRecorder); ok {
			out[w.Name()] = rec.Health()
		}
	}
	return out
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
