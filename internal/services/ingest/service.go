package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Publisher announces newly ingested bars (Kafka)
type Publisher interface {
	BarsIngested(ctx context.Context, result *Result) error
}

// Result summarises one Ingest call
type Result struct {
	SecurityID string                `json:"security_id"`
	Timeframe  market_data.Timeframe `json:"timeframe"`
	Range      market_data.Range     `json:"range"` // span of accepted bars, To exclusive
	Accepted   int                   `json:"accepted"`
	Rejected   int                   `json:"rejected"`
	Written    int                   `json:"written"` // inserted or changed rows
	Batches    int                   `json:"batches"`
	Rejections []error               `json:"-"`
}

// Options configure ingestion
type Options struct {
	BatchSize int
	Publisher Publisher
}

// Service validates base bars and stores them in batches
type Service struct {
	bars  market_data.Repository
	audit market_data.IngestionLog
	opts  Options
	log   *logger.Logger
}

// NewService creates the ingestion service. audit and opts.Publisher may be nil.
func NewService(bars market_data.Repository, audit market_data.IngestionLog, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	return &Service{
		bars:  bars,
		audit: audit,
		opts:  opts,
		log:   logger.Get().Component("ingest"),
	}
}

// Ingest validates bars of one security and upserts the valid ones in
// batches. Invalid bars are rejected with ErrInvalidBar and never written.
// Every batch is recorded in the ingestion log. A storage failure stops
// the remaining batches.
func (s *Service) Ingest(ctx context.Context, securityID string, tf market_data.Timeframe, bars []market_data.Bar) (*Result, error) {
	if securityID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "security id required")
	}
	if !tf.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidTimeframe, "%q", tf)
	}

	result := &Result{SecurityID: securityID, Timeframe: tf}
	log := s.log.Security(securityID, tf.String())

	valid := make([]market_data.Bar, 0, len(bars))
	for _, b := range bars {
		if b.SecurityID == "" {
			b.SecurityID = securityID
		}
		if b.Timeframe == "" {
			b.Timeframe = tf
		}
		if b.SourceBars == 0 && b.Timeframe == market_data.Timeframe1m {
			b.SourceBars = 1
		}
		err := b.Validate()
		if err == nil && (b.SecurityID != securityID || b.Timeframe != tf) {
			err = errors.Wrapf(errors.ErrInvalidBar, "bar %s does not belong to %s %s", b.Key(), securityID, tf)
		}
		if err != nil {
			result.Rejected++
			result.Rejections = append(result.Rejections, errors.Wrapf(err, "bar %s", b.Key()))
			continue
		}
		valid = append(valid, b)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })
	result.Accepted = len(valid)
	metrics.BarsIngested.WithLabelValues("accepted").Add(float64(result.Accepted))
	metrics.BarsIngested.WithLabelValues("rejected").Add(float64(result.Rejected))

	if len(valid) > 0 {
		result.Range = market_data.Range{
			From: valid[0].Timestamp,
			To:   tf.End(valid[len(valid)-1].Timestamp),
		}
	}

	for start := 0; start < len(valid); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(valid))
		batch := valid[start:end]

		written, err := s.bars.UpsertBars(ctx, batch)
		rejected := 0
		if start == 0 {
			rejected = result.Rejected
		}
		s.record(ctx, securityID, tf, batch, rejected, err)
		if err != nil {
			return result, errors.Wrapf(err, "upsert batch %d..%d of %s %s", start, end, securityID, tf)
		}
		result.Written += written
		result.Batches++
	}

	if len(valid) == 0 && result.Rejected > 0 {
		s.record(ctx, securityID, tf, nil, result.Rejected, nil)
	}

	if result.Rejected > 0 {
		log.Warnw("bars rejected", "rejected", result.Rejected, "first", result.Rejections[0])
	}
	log.Infow("bars ingested", "accepted", result.Accepted, "written", result.Written, "batches", result.Batches)

	if s.opts.Publisher != nil && result.Written > 0 {
		if err := s.opts.Publisher.BarsIngested(ctx, result); err != nil {
			log.Warnw("publish ingestion event", "error", err)
		}
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, securityID string, tf market_data.Timeframe, batch []market_data.Bar, rejected int, cause error) {
	if s.audit == nil {
		return
	}
	rec := &market_data.IngestionRecord{
		ID:         uuid.New(),
		SecurityID: securityID,
		Timeframe:  tf,
		Rows:       len(batch),
		Rejected:   rejected,
		Status:     market_data.IngestionSuccess,
		CreatedAt:  time.Now().UTC(),
	}
	if len(batch) > 0 {
		from := batch[0].Timestamp
		to := tf.End(batch[len(batch)-1].Timestamp)
		rec.RangeFrom, rec.RangeTo = &from, &to
	}
	switch {
	case cause != nil:
		rec.Status = market_data.IngestionFailed
		rec.Error = cause.Error()
	case rejected > 0:
		rec.Status = market_data.IngestionPartial
	}
	if len(batch) == 0 && rejected > 0 {
		rec.Status = market_data.IngestionFailed
		rec.Error = "every bar rejected"
	}

	if err := s.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warnw("record ingestion batch", "security_id", securityID, "error", err)
	}
}

// RegisterSecurity upserts the instrument registry entry
func RegisterSecurity(ctx context.Context, repo market_data.SecurityRepository, sec market_data.Security) error {
	if sec.SecurityID == "" || sec.Symbol == "" {
		return errors.NewValidationError("security", "id and symbol required", sec.SecurityID)
	}
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now
	return repo.Upsert(ctx, &sec)
}
