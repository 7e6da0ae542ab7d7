package levels

import (
	"context"
	"strconv"
	"time"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Service estimates and stores level sets for one source timeframe
type Service struct {
	bars      market_data.Repository
	repo      levelsdomain.Repository
	estimator *Estimator
	timeframe market_data.Timeframe
	log       *logger.Logger
}

// NewService creates the level service
func NewService(bars market_data.Repository, repo levelsdomain.Repository, estimator *Estimator, tf market_data.Timeframe) *Service {
	return &Service{
		bars:      bars,
		repo:      repo,
		estimator: estimator,
		timeframe: tf,
		log:       logger.Get().Component("levels"),
	}
}

// Timeframe returns the source timeframe of the estimated levels
func (s *Service) Timeframe() market_data.Timeframe {
	return s.timeframe
}

// Refresh estimates a new level set from the lookback window and stores it.
// The set becomes effective at the end of the newest bar used.
func (s *Service) Refresh(ctx context.Context, securityID string) (*levelsdomain.LevelSet, error) {
	bars, err := s.bars.GetRecentBars(ctx, securityID, s.timeframe, s.estimator.Params().Lookback)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s bars of %s", s.timeframe, securityID)
	}
	if len(bars) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no %s bars for %s", s.timeframe, securityID)
	}

	asOf := s.timeframe.End(bars[len(bars)-1].Timestamp)
	set := s.estimator.Estimate(bars, asOf)
	set.SecurityID = securityID
	set.Timeframe = s.timeframe

	if err := s.repo.Insert(ctx, &set); err != nil {
		return nil, errors.Wrapf(err, "store level set of %s", securityID)
	}
	metrics.LevelSetsCreated.WithLabelValues(s.timeframe.String(), strconv.FormatBool(set.Empty())).Inc()

	s.log.Security(securityID, s.timeframe.String()).Infow("levels estimated",
		"as_of", set.AsOf,
		"reference", set.ReferencePrice,
		"bars_used", set.BarsUsed,
		"support", len(set.Side(levelsdomain.SideSupport)),
		"resistance", len(set.Side(levelsdomain.SideResistance)),
	)
	return &set, nil
}

// Current returns the newest stored set
func (s *Service) Current(ctx context.Context, securityID string) (*levelsdomain.LevelSet, error) {
	set, err := s.repo.GetCurrent(ctx, securityID, s.timeframe)
	if err != nil {
		return nil, errors.Wrapf(err, "current levels of %s", securityID)
	}
	return set, nil
}

// History returns every stored set ordered for point-in-time lookups
func (s *Service) History(ctx context.Context, securityID string) (levelsdomain.History, error) {
	sets, err := s.repo.GetHistory(ctx, securityID, s.timeframe)
	if err != nil {
		return nil, errors.Wrapf(err, "level history of %s", securityID)
	}
	return levelsdomain.NewHistory(sets), nil
}

// Backfill walks the stored series and inserts a causal level set every
// step bars, using only bars up to that point. Points already covered by
// a stored set with the same AsOf are skipped. Returns the number of sets inserted.
func (s *Service) Backfill(ctx context.Context, securityID string, step int) (int, error) {
	if step <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "backfill step %d", step)
	}

	bars, err := s.bars.GetBars(ctx, securityID, s.timeframe, market_data.Range{})
	if err != nil {
		return 0, errors.Wrapf(err, "load %s bars of %s", s.timeframe, securityID)
	}
	existing, err := s.History(ctx, securityID)
	if err != nil {
		return 0, err
	}
	seen := make(map[time.Time]bool, len(existing))
	for _, set := range existing {
		seen[set.AsOf.UTC()] = true
	}

	lookback := s.estimator.Params().Lookback
	inserted := 0
	for end := s.estimator.Params().MinBars; end <= len(bars); end += step {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		asOf := s.timeframe.End(bars[end-1].Timestamp)
		if seen[asOf.UTC()] {
			continue
		}
		start := 0
		if end > lookback {
			start = end - lookback
		}
		set := s.estimator.Estimate(bars[start:end], asOf)
		set.SecurityID = securityID
		set.Timeframe = s.timeframe
		if err := s.repo.Insert(ctx, &set); err != nil {
			return inserted, errors.Wrapf(err, "store backfilled level set as of %s", asOf)
		}
		inserted++
	}

	s.log.Security(securityID, s.timeframe.String()).Infow("levels backfilled", "sets", inserted, "bars", len(bars), "step", step)
	return inserted, nil
}
