package pipeline

import (
	"context"
	"time"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/metrics"
	"trendboard/internal/services/aggregation"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Trigger identifies who started a run
const (
	TriggerAPI    = "api"
	TriggerKafka  = "kafka"
	TriggerWorker = "worker"
	TriggerCLI    = "cli"
)

// Aggregator rebuilds derived bars and finds buckets it never wrote
type Aggregator interface {
	Aggregate(ctx context.Context, securityID string, r market_data.Range) (*aggregation.Report, error)
	Gaps(ctx context.Context, securityID string) ([]aggregation.Gap, error)
}

// LevelRefresher estimates a new level set
type LevelRefresher interface {
	Refresh(ctx context.Context, securityID string) (*levelsdomain.LevelSet, error)
}

// Recomputer relabels full series and reports their coverage
type Recomputer interface {
	Recompute(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Run, error)
	Coverage(ctx context.Context, securityID string, tf market_data.Timeframe) (*trenddomain.Coverage, error)
}

// Notifier announces pipeline outcomes (Kafka)
type Notifier interface {
	Recomputed(ctx context.Context, result *Result) error
	Failed(ctx context.Context, result *Result, cause error) error
}

// Result summarises one pipeline run
type Result struct {
	SecurityID  string                 `json:"security_id"`
	Trigger     string                 `json:"trigger"`
	Range       market_data.Range      `json:"range"`
	Aggregation *aggregation.Report    `json:"aggregation,omitempty"`
	Levels      *levelsdomain.LevelSet `json:"levels,omitempty"`
	Runs        []*trenddomain.Run     `json:"runs"`
	StartedAt   time.Time              `json:"started_at"`
	Duration    time.Duration          `json:"duration"`
}

// Run returns the labeling run of tf, or nil
func (r *Result) Run(tf market_data.Timeframe) *trenddomain.Run {
	for _, run := range r.Runs {
		if run != nil && run.Timeframe == tf {
			return run
		}
	}
	return nil
}

// Options configure the pipeline
type Options struct {
	// Timeframes relabelled on every run, in order. Defaults to every
	// timeframe; series without bars complete as empty runs.
	Timeframes []market_data.Timeframe
	Notifier   Notifier
}

// Service runs aggregate -> levels -> labels for one security at a time
type Service struct {
	locker     *Locker
	aggregator Aggregator
	levels     LevelRefresher
	trends     Recomputer
	timeframes []market_data.Timeframe
	notifier   Notifier
	log        *logger.Logger
}

// NewService wires the pipeline. levels and opts.Notifier may be nil.
func NewService(locker *Locker, aggregator Aggregator, levels LevelRefresher, trends Recomputer, opts Options) *Service {
	if len(opts.Timeframes) == 0 {
		opts.Timeframes = append([]market_data.Timeframe(nil), market_data.AllTimeframes...)
	}
	return &Service{
		locker:     locker,
		aggregator: aggregator,
		levels:     levels,
		trends:     trends,
		timeframes: opts.Timeframes,
		notifier:   opts.Notifier,
		log:        logger.Get().Component("pipeline"),
	}
}

// Timeframes returns the labelled timeframes
func (s *Service) Timeframes() []market_data.Timeframe {
	return s.timeframes
}

// Run aggregates r, refreshes levels and relabels every configured
// timeframe over its full history. Only one run per security proceeds at a
// time; a concurrent call gets ErrLockNotAcquired. Timeframes are labelled
// independently: one failing does not stop the others, and all failures
// are returned together.
func (s *Service) Run(ctx context.Context, securityID string, r market_data.Range, trigger string) (*Result, error) {
	unlock, err := s.locker.TryLock(ctx, securityID)
	if err != nil {
		metrics.RecordPipelineRun(trigger, err)
		return nil, err
	}
	defer unlock()

	result := &Result{SecurityID: securityID, Trigger: trigger, Range: r, StartedAt: time.Now().UTC()}
	log := s.log.Security(securityID, "").With("trigger", trigger)

	err = s.run(ctx, result)
	result.Duration = time.Since(result.StartedAt)

	metrics.RecordPipelineRun(trigger, err)
	if err != nil {
		tags := errors.PipelineTags(securityID, "", errors.StageOf(err))
		tags["trigger"] = trigger
		log.ErrorWithContext(ctx, err, tags)
		if s.notifier != nil {
			if nerr := s.notifier.Failed(context.WithoutCancel(ctx), result, err); nerr != nil {
				log.Warnw("publish pipeline failure", "error", nerr)
			}
		}
		return result, err
	}

	if s.notifier != nil {
		if nerr := s.notifier.Recomputed(ctx, result); nerr != nil {
			log.Warnw("publish recompute result", "error", nerr)
		}
	}
	log.Infow("pipeline finished", "runs", len(result.Runs), "duration", result.Duration)
	return result, nil
}

func (s *Service) run(ctx context.Context, result *Result) error {
	securityID := result.SecurityID

	start := time.Now()
	report, err := s.aggregator.Aggregate(ctx, securityID, result.Range)
	metrics.RecordStage("aggregate", time.Since(start), err)
	result.Aggregation = report
	if err != nil {
		return errors.InStage("aggregate", errors.Wrapf(err, "aggregate %s", securityID))
	}
	s.log.Breadcrumb(ctx, "pipeline", "aggregated", map[string]interface{}{
		"security_id": securityID,
		"source_bars": report.SourceBars,
		"failed":      len(report.Failed),
	})

	if s.levels != nil {
		start = time.Now()
		set, err := s.levels.Refresh(ctx, securityID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			// no source bars yet; labels carry no level zone
			metrics.RecordStage("levels", time.Since(start), nil)
		case err != nil:
			metrics.RecordStage("levels", time.Since(start), err)
			return errors.InStage("levels", errors.Wrapf(err, "levels of %s", securityID))
		default:
			metrics.RecordStage("levels", time.Since(start), nil)
			result.Levels = set
		}
	}

	var errs errors.MultiError
	for _, tf := range s.timeframes {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}
		start = time.Now()
		run, err := s.trends.Recompute(ctx, securityID, tf)
		metrics.RecordStage("label", time.Since(start), err)
		if err != nil {
			errs.Add(errors.InStage("label", errors.Wrapf(err, "label %s", tf)))
		}
		if run == nil {
			continue
		}
		result.Runs = append(result.Runs, run)
		s.log.Breadcrumb(ctx, "pipeline", "labelled", map[string]interface{}{
			"security_id": securityID,
			"timeframe":   tf.String(),
			"status":      string(run.Status),
			"labels":      run.BarsLabeled,
		})
	}
	return errs.ToError()
}

// VerifyCoverage reports label coverage of every timeframe, configured or
// not, so a stored series nobody labels still shows up. Derived buckets
// whose source bars exist but which were never aggregated are counted in
// Coverage.MissingBuckets.
func (s *Service) VerifyCoverage(ctx context.Context, securityID string) ([]*trenddomain.Coverage, error) {
	coverage, _, err := s.verify(ctx, securityID)
	return coverage, err
}

func (s *Service) verify(ctx context.Context, securityID string) ([]*trenddomain.Coverage, []aggregation.Gap, error) {
	start := time.Now()
	gaps, err := s.aggregator.Gaps(ctx, securityID)
	if err != nil {
		metrics.RecordStage("verify", time.Since(start), err)
		return nil, nil, errors.Wrapf(err, "derived bar gaps of %s", securityID)
	}

	out := make([]*trenddomain.Coverage, 0, len(market_data.AllTimeframes))
	for _, tf := range market_data.AllTimeframes {
		cov, err := s.trends.Coverage(ctx, securityID, tf)
		if err != nil {
			metrics.RecordStage("verify", time.Since(start), err)
			return nil, nil, err
		}
		cov.MissingBuckets = aggregation.CountGaps(gaps, tf)
		out = append(out, cov)
	}
	metrics.RecordStage("verify", time.Since(start), nil)
	return out, gaps, nil
}

// Repair re-aggregates derived buckets that were never written, then
// relabels the timeframes whose coverage demands it. It returns the runs
// performed; none when every timeframe is fresh.
func (s *Service) Repair(ctx context.Context, securityID string) ([]*trenddomain.Run, error) {
	unlock, err := s.locker.TryLock(ctx, securityID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.log.Security(securityID, "")
	coverage, gaps, err := s.verify(ctx, securityID)
	if err != nil {
		return nil, err
	}

	var errs errors.MultiError
	// rewritten series carry labels of the old bar values
	changed := make(map[market_data.Timeframe]bool)
	if len(gaps) > 0 {
		for _, r := range aggregation.MergeGaps(gaps) {
			log.Infow("derived bars missing, re-aggregating", "from", r.From, "to", r.To)
			report, err := s.aggregator.Aggregate(ctx, securityID, r)
			if err != nil {
				return nil, errors.InStage("aggregate", errors.Wrapf(err, "repair %s", securityID))
			}
			for tf, n := range report.Written {
				if n > 0 {
					changed[tf] = true
				}
			}
			errs.Add(report.Err())
		}
		if s.levels != nil {
			if _, err := s.levels.Refresh(ctx, securityID); err != nil && !errors.Is(err, errors.ErrNotFound) {
				errs.Add(errors.InStage("levels", err))
			}
		}
		// the new derived bars are unlabelled
		if coverage, _, err = s.verify(ctx, securityID); err != nil {
			return nil, err
		}
	}

	var runs []*trenddomain.Run
	for _, cov := range coverage {
		if !cov.NeedsRecompute() && !changed[cov.Timeframe] {
			continue
		}
		s.log.Security(securityID, cov.Timeframe.String()).Infow("coverage stale, relabelling",
			"total", cov.TotalBars, "labeled", cov.LabeledBars, "stale", cov.StaleLabels, "missing", cov.MissingBuckets)
		run, err := s.trends.Recompute(ctx, securityID, cov.Timeframe)
		if run != nil {
			runs = append(runs, run)
		}
		errs.Add(err)
	}
	return runs, errs.ToError()
}
