package trend

import (
	"context"
	"time"

	"github.com/google/uuid"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// LevelSource provides the point-in-time level history used for level zones
type LevelSource interface {
	History(ctx context.Context, securityID string) (levelsdomain.History, error)
}

// Options tune the service
type Options struct {
	ChunkSize int
	// Sink, when set, receives a copy of every completed run
	Sink trenddomain.HistorySink
	Now  func() time.Time
}

// Service recomputes labels over the full stored history of a series
type Service struct {
	bars    market_data.Repository
	repo    trenddomain.Repository
	levels  LevelSource
	labeler *Labeler
	sink    trenddomain.HistorySink
	chunk   int
	now     func() time.Time
	log     *logger.Logger
}

// NewService creates the trend service. levels may be nil, in which case
// labels carry no level zone.
func NewService(bars market_data.Repository, repo trenddomain.Repository, levels LevelSource, labeler *Labeler, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		bars:    bars,
		repo:    repo,
		levels:  levels,
		labeler: labeler,
		sink:    opts.Sink,
		chunk:   opts.ChunkSize,
		now:     opts.Now,
		log:     logger.Get().Component("trend"),
	}
}

// Fingerprint returns the fingerprint stamped on labels written by this service
func (s *Service) Fingerprint() string {
	return s.labeler.Params().Fingerprint()
}

// Recompute labels every stored bar of (securityID, tf).
//
// The whole series is loaded and checked against the stored bar count
// before anything is labelled; a short or failed load fails the run with
// ErrIncompleteSeries and writes no labels. Labels are upserted in chunks
// and cancellation is observed between chunks, leaving the run aborted.
// The returned run reflects the final status even when err is non-nil.
func (s *Service) Recompute(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Run, error) {
	log := s.log.Security(securityID, tf.String())

	expected, err := s.bars.CountBars(ctx, securityID, tf)
	if err != nil {
		return nil, errors.Wrapf(err, "count %s bars of %s", tf, securityID)
	}

	run := &trenddomain.Run{
		RunID:       uuid.New(),
		SecurityID:  securityID,
		Timeframe:   tf,
		Fingerprint: s.Fingerprint(),
		Status:      trenddomain.RunRunning,
		BarsTotal:   expected,
		StartedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, errors.Wrapf(err, "create run for %s %s", securityID, tf)
	}

	labels, err := s.compute(ctx, securityID, tf, expected)
	if err != nil {
		return s.finish(ctx, run, trenddomain.RunFailed, err)
	}

	computedAt := s.now().UTC()
	for i := range labels {
		labels[i].RunID = run.RunID
		labels[i].ComputedAt = computedAt
	}

	for start := 0; start < len(labels); start += s.chunk {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err := errors.Wrapf(errors.ErrRunAborted, "%s %s after %d of %d labels: %v", securityID, tf, run.BarsLabeled, len(labels), ctxErr)
			return s.finish(ctx, run, trenddomain.RunAborted, err)
		}
		end := min(start+s.chunk, len(labels))
		if err := s.repo.UpsertLabels(ctx, labels[start:end]); err != nil {
			err = errors.Wrapf(err, "write labels %d..%d of %s %s", start, end, securityID, tf)
			return s.finish(ctx, run, trenddomain.RunFailed, err)
		}
		run.BarsLabeled += end - start
		metrics.LabelsWritten.WithLabelValues(tf.String()).Add(float64(end - start))
	}

	run, err = s.finish(ctx, run, trenddomain.RunCompleted, nil)
	if err != nil {
		return run, err
	}

	if s.sink != nil {
		if err := s.sink.AppendRun(ctx, run, labels); err != nil {
			// analytics copy only; the run itself is complete
			log.Warnw("label history append failed", "run_id", run.RunID, "error", err)
		}
	}

	log.Infow("labels recomputed", "run_id", run.RunID, "bars", run.BarsLabeled, "fingerprint", run.Fingerprint)
	return run, nil
}

func (s *Service) compute(ctx context.Context, securityID string, tf market_data.Timeframe, expected int) ([]trenddomain.Label, error) {
	bars, err := s.bars.GetBars(ctx, securityID, tf, market_data.Range{})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrIncompleteSeries, "load %s bars of %s: %v", tf, securityID, err)
	}
	if len(bars) != expected {
		return nil, errors.Wrapf(errors.ErrIncompleteSeries, "%s %s: loaded %d bars, %d stored", securityID, tf, len(bars), expected)
	}

	var history levelsdomain.History
	if s.levels != nil {
		history, err = s.levels.History(ctx, securityID)
		if err != nil {
			return nil, errors.Wrapf(err, "level history of %s", securityID)
		}
	}

	labels, err := s.labeler.Label(bars, history)
	if err != nil {
		return nil, errors.Wrapf(err, "label %s %s", securityID, tf)
	}
	return labels, nil
}

// finish records the terminal status. It runs detached from ctx so a
// cancelled run is still marked.
func (s *Service) finish(ctx context.Context, run *trenddomain.Run, status trenddomain.RunStatus, cause error) (*trenddomain.Run, error) {
	finished := s.now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	if cause != nil {
		run.Error = cause.Error()
	}

	if err := s.repo.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		if cause != nil {
			return run, errors.Wrapf(cause, "also failed to record run status: %v", err)
		}
		return run, errors.Wrapf(err, "finish run %s", run.RunID)
	}
	if cause != nil {
		s.log.Security(run.SecurityID, run.Timeframe.String()).ErrorWithContext(ctx, cause, map[string]string{
			"stage":  "label",
			"run_id": run.RunID.String(),
			"status": string(status),
		})
	}
	return run, cause
}

// Coverage reports label freshness against the latest completed run
func (s *Service) Coverage(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Coverage, error) {
	latest, err := s.repo.GetLatestRun(ctx, securityID, tf)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(err, "latest run of %s %s", securityID, tf)
	}

	completedID := uuid.Nil
	completed, err := s.repo.GetLatestCompletedRun(ctx, securityID, tf)
	switch {
	case err == nil:
		completedID = completed.RunID
	case !errors.Is(err, errors.ErrNotFound):
		return nil, errors.Wrapf(err, "latest completed run of %s %s", securityID, tf)
	}

	cov, err := s.repo.Coverage(ctx, securityID, tf, s.Fingerprint(), completedID)
	if err != nil {
		return nil, errors.Wrapf(err, "coverage of %s %s", securityID, tf)
	}
	cov.LatestRun = latest
	return cov, nil
}

// WinRates loads stored bars and labels and computes per-direction win rates
func (s *Service) WinRates(ctx context.Context, securityID string, tf market_data.Timeframe, horizon int) (map[trenddomain.Direction]WinRate, error) {
	bars, err := s.bars.GetBars(ctx, securityID, tf, market_data.Range{})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s bars of %s", tf, securityID)
	}
	labels, err := s.repo.GetLabels(ctx, securityID, tf, market_data.Range{})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s labels of %s", tf, securityID)
	}
	return ComputeWinRate(bars, labels, horizon)
}
