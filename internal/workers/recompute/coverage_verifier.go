package recompute

import (
	"context"
	"time"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/workers"
	"trendboard/pkg/errors"
)

// CoverageChecker reports and repairs label coverage
type CoverageChecker interface {
	VerifyCoverage(ctx context.Context, securityID string) ([]*trenddomain.Coverage, error)
	Repair(ctx context.Context, securityID string) ([]*trenddomain.Run, error)
}

// CoverageVerifier checks that every derived bucket was aggregated and every
// bar carries a current label, and optionally repairs what is missing
type CoverageVerifier struct {
	*workers.BaseWorker
	securities market_data.SecurityRepository
	checker    CoverageChecker
	autoRepair bool
}

// NewCoverageVerifier creates the coverage worker
func NewCoverageVerifier(
	securities market_data.SecurityRepository,
	checker CoverageChecker,
	interval time.Duration,
	autoRepair bool,
	enabled bool,
) *CoverageVerifier {
	return &CoverageVerifier{
		BaseWorker: workers.NewBaseWorker("coverage_verifier", interval, enabled),
		securities: securities,
		checker:    checker,
		autoRepair: autoRepair,
	}
}

func (v *CoverageVerifier) Run(ctx context.Context) error {
	secs, err := v.securities.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list securities")
	}

	var errs errors.MultiError
	for _, sec := range secs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs.Add(v.verify(ctx, sec.SecurityID))
	}
	return errs.ToError()
}

func (v *CoverageVerifier) verify(ctx context.Context, securityID string) error {
	coverage, err := v.checker.VerifyCoverage(ctx, securityID)
	if err != nil {
		return errors.Wrapf(err, "coverage of %s", securityID)
	}

	stale := 0
	for _, cov := range coverage {
		if !cov.NeedsRecompute() {
			continue
		}
		stale++
		v.Log().Warnw("label coverage incomplete",
			"security_id", securityID,
			"timeframe", cov.Timeframe,
			"total", cov.TotalBars,
			"labeled", cov.LabeledBars,
			"stale", cov.StaleLabels,
			"missing_buckets", cov.MissingBuckets,
			"percent", cov.Percent(),
		)
	}
	if stale == 0 || !v.autoRepair {
		return nil
	}

	runs, err := v.checker.Repair(ctx, securityID)
	if errors.Is(err, errors.ErrLockNotAcquired) {
		v.Log().Infow("repair deferred, pipeline busy", "security_id", securityID)
		v.RecordSkip()
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "repair %s", securityID)
	}
	v.Log().Infow("coverage repaired", "security_id", securityID, "runs", len(runs))
	return nil
}
