package snapshot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/metrics"
	"trendboard/internal/services/pipeline"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Cache stores rendered snapshots (Redis)
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// TimeframeView is the newest bar of one timeframe with its label
type TimeframeView struct {
	Timeframe market_data.Timeframe `json:"timeframe"`
	Bar       *market_data.Bar      `json:"bar,omitempty"`
	Label     *trenddomain.Label    `json:"label,omitempty"`
	// Stale is set when the newest bar has no label from the current parameters
	Stale bool `json:"stale"`
}

// Snapshot is what the dashboard renders for one security
type Snapshot struct {
	SecurityID  string                 `json:"security_id"`
	Symbol      string                 `json:"symbol,omitempty"`
	PrevClose   *decimal.Decimal       `json:"prev_close,omitempty"`
	LastClose   *decimal.Decimal       `json:"last_close,omitempty"`
	DayChange   *decimal.Decimal       `json:"day_change_pct,omitempty"`
	Levels      *levelsdomain.LevelSet `json:"levels,omitempty"`
	Timeframes  []TimeframeView        `json:"timeframes"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// View returns the view of tf, if present
func (s *Snapshot) View(tf market_data.Timeframe) (TimeframeView, bool) {
	for _, v := range s.Timeframes {
		if v.Timeframe == tf {
			return v, true
		}
	}
	return TimeframeView{}, false
}

// LevelReader returns the current level set
type LevelReader interface {
	Current(ctx context.Context, securityID string) (*levelsdomain.LevelSet, error)
}

// Options configure the snapshot service
type Options struct {
	Timeframes  []market_data.Timeframe
	Fingerprint string
	Cache       Cache
	TTL         time.Duration
	Now         func() time.Time
}

// Service assembles snapshots from stored bars, levels and labels
type Service struct {
	bars       market_data.Repository
	securities market_data.SecurityRepository
	levels     LevelReader
	labels     trenddomain.Repository
	opts       Options
	log        *logger.Logger
}

// NewService creates the snapshot service. securities, levels and opts.Cache may be nil.
func NewService(bars market_data.Repository, securities market_data.SecurityRepository, levels LevelReader, labels trenddomain.Repository, opts Options) *Service {
	if len(opts.Timeframes) == 0 {
		opts.Timeframes = market_data.AllTimeframes
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		bars:       bars,
		securities: securities,
		levels:     levels,
		labels:     labels,
		opts:       opts,
		log:        logger.Get().Component("snapshot"),
	}
}

func cacheKey(securityID string) string {
	return "trendboard:snapshot:" + securityID
}

// Get returns the cached snapshot or builds and caches a new one.
// Cache failures degrade to a direct build.
func (s *Service) Get(ctx context.Context, securityID string) (*Snapshot, error) {
	if s.opts.Cache != nil {
		var cached Snapshot
		err := s.opts.Cache.Get(ctx, cacheKey(securityID), &cached)
		switch {
		case err == nil:
			metrics.SnapshotCache.WithLabelValues("hit").Inc()
			return &cached, nil
		case errors.Is(err, errors.ErrNotFound):
			metrics.SnapshotCache.WithLabelValues("miss").Inc()
		default:
			metrics.SnapshotCache.WithLabelValues("error").Inc()
			s.log.Warnw("snapshot cache read failed", "security_id", securityID, "error", err)
		}
	}

	snap, err := s.Build(ctx, securityID)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, cacheKey(securityID), snap, s.opts.TTL); err != nil {
			s.log.Warnw("snapshot cache write failed", "security_id", securityID, "error", err)
		}
	}
	return snap, nil
}

// Build assembles a snapshot from storage, bypassing the cache
func (s *Service) Build(ctx context.Context, securityID string) (*Snapshot, error) {
	snap := &Snapshot{SecurityID: securityID, GeneratedAt: s.opts.Now().UTC()}

	if s.securities != nil {
		sec, err := s.securities.GetByID(ctx, securityID)
		switch {
		case err == nil:
			snap.Symbol = sec.Symbol
		case !errors.Is(err, errors.ErrNotFound):
			return nil, errors.Wrapf(err, "security %s", securityID)
		}
	}

	daily, err := s.bars.GetRecentBars(ctx, securityID, market_data.TimeframeDaily, 2)
	if err != nil {
		return nil, errors.Wrapf(err, "recent daily bars of %s", securityID)
	}
	if n := len(daily); n > 0 {
		last := daily[n-1].Close
		snap.LastClose = &last
		if n > 1 && daily[n-2].Close.IsPositive() {
			prev := daily[n-2].Close
			change := last.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
			snap.PrevClose = &prev
			snap.DayChange = &change
		}
	}

	if s.levels != nil {
		set, err := s.levels.Current(ctx, securityID)
		switch {
		case err == nil:
			snap.Levels = set
		case !errors.Is(err, errors.ErrNotFound):
			return nil, errors.Wrapf(err, "levels of %s", securityID)
		}
	}

	for _, tf := range s.opts.Timeframes {
		view, err := s.view(ctx, securityID, tf)
		if err != nil {
			return nil, err
		}
		snap.Timeframes = append(snap.Timeframes, view)
	}
	return snap, nil
}

func (s *Service) view(ctx context.Context, securityID string, tf market_data.Timeframe) (TimeframeView, error) {
	view := TimeframeView{Timeframe: tf}

	bar, err := s.bars.GetLatestBar(ctx, securityID, tf)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return view, nil
	case err != nil:
		return view, errors.Wrapf(err, "latest %s bar of %s", tf, securityID)
	}
	view.Bar = bar

	label, err := s.labels.GetLatestLabel(ctx, securityID, tf)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		view.Stale = true
		return view, nil
	case err != nil:
		return view, errors.Wrapf(err, "latest %s label of %s", tf, securityID)
	}
	view.Label = label
	view.Stale = !label.BarTime.Equal(bar.Timestamp) ||
		(s.opts.Fingerprint != "" && label.ParamsFingerprint != s.opts.Fingerprint)
	return view, nil
}

// Invalidate drops the cached snapshot
func (s *Service) Invalidate(ctx context.Context, securityID string) error {
	if s.opts.Cache == nil {
		return nil
	}
	return s.opts.Cache.Delete(ctx, cacheKey(securityID))
}

// Recomputed invalidates the snapshot after a pipeline run
func (s *Service) Recomputed(ctx context.Context, result *pipeline.Result) error {
	return s.Invalidate(ctx, result.SecurityID)
}

// Failed invalidates as well; partial runs may have changed stored labels
func (s *Service) Failed(ctx context.Context, result *pipeline.Result, cause error) error {
	return s.Invalidate(ctx, result.SecurityID)
}
