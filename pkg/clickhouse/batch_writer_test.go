package clickhouse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/pkg/errors"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	fail    int
}

func (r *recorder) flush(ctx context.Context, batch []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.ErrUnavailable
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "test_table",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
	})

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, 1, 2))
	assert.Empty(t, rec.batches)
	require.NoError(t, bw.Add(ctx, 3, 4, 5, 6, 7))

	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, rec.batches)
	assert.Zero(t, bw.BufferSize())
}

func TestBatchWriter_FailedBatchIsRetried(t *testing.T) {
	rec := &recorder{fail: 1}
	bw := NewBatchWriter(BatchWriterConfig[int]{FlushFunc: rec.flush, MaxBatchSize: 10})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, 1, 2, 3))
	assert.Error(t, bw.Flush(ctx))
	assert.Equal(t, 3, bw.BufferSize())

	require.NoError(t, bw.Add(ctx, 4))
	require.NoError(t, bw.Flush(ctx))
	assert.Equal(t, [][]int{{1, 2, 3, 4}}, rec.batches)
}

func TestBatchWriter_DropsOldestBeyondMaxBuffer(t *testing.T) {
	rec := &recorder{fail: 100}
	bw := NewBatchWriter(BatchWriterConfig[int]{FlushFunc: rec.flush, MaxBatchSize: 2, MaxBuffer: 4})
	ctx := context.Background()

	_ = bw.Add(ctx, 1, 2)
	_ = bw.Add(ctx, 3, 4)
	_ = bw.Add(ctx, 5, 6)
	assert.Equal(t, 4, bw.BufferSize())
	assert.Equal(t, 2, bw.Dropped())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 100,
		MaxAge:       50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, 1, 2))
	assert.Eventually(t, func() bool { return rec.total() == 2 }, 2*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))
}

func TestBatchWriter_StopFlushesConcurrentAdds(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 10,
		MaxAge:       time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = bw.Add(ctx, idx)
		}(i)
	}
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))

	assert.Equal(t, 50, rec.total())
}
