package clickhouse

import (
	"context"
	"sync"
	"time"

	"trendboard/pkg/logger"
)

// FlushFunc performs the actual INSERT of one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates rows in memory and flushes them to ClickHouse in batches.
// A failed batch is put back in front of the buffer and retried on the next flush.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	buffer    []T
	mu        sync.Mutex
	flushMu   sync.Mutex
	log       *logger.Logger

	maxBatchSize int
	maxAge       time.Duration
	maxBuffer    int

	lastFlush time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	dropped   int
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	// Rows kept while ClickHouse is unreachable; oldest are dropped beyond it. Default: 100 * MaxBatchSize
	MaxBuffer int
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.MaxBuffer < cfg.MaxBatchSize {
		cfg.MaxBuffer = 100 * cfg.MaxBatchSize
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		maxBuffer:    cfg.MaxBuffer,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          logger.Get().Component("batch_writer").With("table", cfg.TableName),
	}
}

// Start begins the background flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infow("batch writer started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers rows and flushes every full batch
func (bw *BatchWriter[T]) Add(ctx context.Context, rows ...T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, rows...)
	if over := len(bw.buffer) - bw.maxBuffer; over > 0 {
		bw.buffer = bw.buffer[over:]
		bw.dropped += over
		bw.log.Warnw("buffer full, dropping oldest rows", "dropped", over)
	}
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows, maxBatchSize at a time
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	for {
		bw.mu.Lock()
		if len(bw.buffer) == 0 {
			bw.mu.Unlock()
			return nil
		}
		n := min(len(bw.buffer), bw.maxBatchSize)
		batch := append([]T(nil), bw.buffer[:n]...)
		bw.buffer = bw.buffer[n:]
		bw.mu.Unlock()

		start := time.Now()
		if err := bw.flushFunc(ctx, batch); err != nil {
			bw.mu.Lock()
			bw.buffer = append(batch, bw.buffer...)
			bw.mu.Unlock()
			bw.log.Errorw("flush failed", "rows", len(batch), "error", err)
			return err
		}

		bw.mu.Lock()
		bw.lastFlush = time.Now()
		bw.mu.Unlock()
		bw.log.Debugw("flushed", "rows", len(batch), "took", time.Since(start))
	}
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return

		case <-bw.stopCh:
			bw.finalFlush()
			return

		case <-ticker.C:
			if bw.BufferSize() > 0 {
				if err := bw.Flush(ctx); err != nil {
					bw.log.Warnw("periodic flush failed", "error", err)
				}
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorw("final flush failed", "rows", bw.BufferSize(), "error", err)
	}
}

// Stop flushes remaining rows and waits for the flush loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bw.log.Warn("batch writer stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of rows waiting to be flushed
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Dropped returns how many rows were discarded because the buffer was full
func (bw *BatchWriter[T]) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}
