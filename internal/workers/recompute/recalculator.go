package recompute

import (
	"context"
	"sync"
	"time"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/workers"
	"trendboard/pkg/errors"
)

// PipelineRunner runs the recompute pipeline for one security
type PipelineRunner interface {
	Run(ctx context.Context, securityID string, r market_data.Range, trigger string) (*pipeline.Result, error)
}

// Recalculator periodically re-aggregates the recent window of every
// registered security and relabels its full history
type Recalculator struct {
	*workers.BaseWorker
	securities     market_data.SecurityRepository
	runner         PipelineRunner
	lookback       time.Duration
	maxConcurrency int
	now            func() time.Time
}

// NewRecalculator creates the pipeline worker. A zero lookback aggregates all history.
func NewRecalculator(
	securities market_data.SecurityRepository,
	runner PipelineRunner,
	interval time.Duration,
	lookback time.Duration,
	maxConcurrency int,
	enabled bool,
) *Recalculator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Recalculator{
		BaseWorker:     workers.NewBaseWorker("pipeline_recalculator", interval, enabled),
		securities:     securities,
		runner:         runner,
		lookback:       lookback,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Run executes one pass over all securities. A security whose pipeline is
// already running elsewhere is skipped.
func (r *Recalculator) Run(ctx context.Context) error {
	secs, err := r.securities.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list securities")
	}
	if len(secs) == 0 {
		r.Log().Debug("no securities registered")
		return nil
	}

	window := market_data.Range{}
	if r.lookback > 0 {
		window.From = r.now().UTC().Add(-r.lookback)
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.maxConcurrency)
	errorsCh := make(chan error, len(secs))

	for _, sec := range secs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				errorsCh <- ctx.Err()
				return
			}
			result, err := r.runner.Run(ctx, id, window, pipeline.TriggerWorker)
			switch {
			case errors.Is(err, errors.ErrLockNotAcquired):
				r.Log().Infow("pipeline busy, skipped", "security_id", id)
				r.RecordSkip()
			case err != nil:
				errorsCh <- errors.Wrapf(err, "pipeline %s", id)
			default:
				r.Log().Debugw("pipeline completed", "security_id", id, "runs", len(result.Runs), "duration", result.Duration)
			}
		}(sec.SecurityID)
	}

	wg.Wait()
	close(errorsCh)

	var errs errors.MultiError
	for err := range errorsCh {
		errs.Add(err)
	}
	if err := errs.ToError(); err != nil {
		r.Log().Errorw("pipeline pass finished with errors", "securities", len(secs), "error", err)
		return err
	}
	r.Log().Infow("pipeline pass completed", "securities", len(secs))
	return nil
}
