package testsupport

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/domain/trend"
	"trendboard/pkg/errors"
)

// BarStore is an in-memory market_data.Repository with upsert semantics
// matching the postgres repository (unchanged rows are not counted).
type BarStore struct {
	mu   sync.Mutex
	bars map[market_data.Key]market_data.Bar

	// GetBarsErr, when set, is returned by GetBars
	GetBarsErr error
	// DropOnRead removes this many of the oldest bars from GetBars results
	DropOnRead int
	// UpsertCalls counts UpsertBars invocations
	UpsertCalls int
	// FailUpsertAfter, when positive, fails every UpsertBars call after that many
	FailUpsertAfter int
}

var _ market_data.Repository = (*BarStore)(nil)

// NewBarStore creates an empty store seeded with bars
func NewBarStore(seed ...market_data.Bar) *BarStore {
	s := &BarStore{bars: make(map[market_data.Key]market_data.Bar)}
	for _, b := range seed {
		s.bars[normKey(b.Key())] = b
	}
	return s
}

func normKey(k market_data.Key) market_data.Key {
	k.Start = k.Start.UTC()
	return k
}

func sameBar(a, b market_data.Bar) bool {
	return a.Open.Equal(b.Open) && a.High.Equal(b.High) && a.Low.Equal(b.Low) &&
		a.Close.Equal(b.Close) && a.Volume == b.Volume && a.SourceBars == b.SourceBars
}

func (s *BarStore) UpsertBars(ctx context.Context, bars []market_data.Bar) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if s.FailUpsertAfter > 0 && s.UpsertCalls > s.FailUpsertAfter {
		return 0, errors.ErrUnavailable
	}

	changed := 0
	for _, b := range bars {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		k := normKey(b.Key())
		if old, ok := s.bars[k]; ok && sameBar(old, b) {
			continue
		}
		s.bars[k] = b
		changed++
	}
	return changed, nil
}

func (s *BarStore) series(securityID string, tf market_data.Timeframe, r market_data.Range) []market_data.Bar {
	out := make([]market_data.Bar, 0)
	for k, b := range s.bars {
		if k.SecurityID == securityID && k.Timeframe == tf && r.Contains(b.Timestamp) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *BarStore) GetBars(ctx context.Context, securityID string, tf market_data.Timeframe, r market_data.Range) ([]market_data.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetBarsErr != nil {
		return nil, s.GetBarsErr
	}
	out := s.series(securityID, tf, r)
	if s.DropOnRead > 0 && len(out) > 0 {
		n := s.DropOnRead
		if n > len(out) {
			n = len(out)
		}
		out = out[n:]
	}
	return out, nil
}

func (s *BarStore) GetRecentBars(ctx context.Context, securityID string, tf market_data.Timeframe, limit int) ([]market_data.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.series(securityID, tf, market_data.Range{})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BarStore) GetLatestBar(ctx context.Context, securityID string, tf market_data.Timeframe) (*market_data.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.series(securityID, tf, market_data.Range{})
	if len(out) == 0 {
		return nil, errors.ErrNotFound
	}
	b := out[len(out)-1]
	return &b, nil
}

func (s *BarStore) CountBars(ctx context.Context, securityID string, tf market_data.Timeframe) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series(securityID, tf, market_data.Range{})), nil
}

func (s *BarStore) SessionDays(ctx context.Context, securityID string, tf market_data.Timeframe, loc *time.Location) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, b := range s.series(securityID, tf, market_data.Range{}) {
		t := b.Timestamp.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, nil
}

// Delete removes stored bars of a timeframe inside r
func (s *BarStore) Delete(securityID string, tf market_data.Timeframe, r market_data.Range) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.bars {
		if k.SecurityID == securityID && k.Timeframe == tf && r.Contains(b.Timestamp) {
			delete(s.bars, k)
			n++
		}
	}
	return n
}

// Series returns every stored bar of a timeframe, oldest first
func (s *BarStore) Series(securityID string, tf market_data.Timeframe) []market_data.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series(securityID, tf, market_data.Range{})
}

// LevelStore is an in-memory levels.Repository
type LevelStore struct {
	mu     sync.Mutex
	sets   []*levels.LevelSet
	nextID int64
}

var _ levels.Repository = (*LevelStore)(nil)

func NewLevelStore() *LevelStore {
	return &LevelStore{}
}

func (s *LevelStore) Insert(ctx context.Context, set *levels.LevelSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	set.ID = s.nextID
	cp := *set
	cp.Levels = append([]levels.Level(nil), set.Levels...)
	s.sets = append(s.sets, &cp)
	return nil
}

func (s *LevelStore) GetCurrent(ctx context.Context, securityID string, tf market_data.Timeframe) (*levels.LevelSet, error) {
	hist, _ := s.GetHistory(ctx, securityID, tf)
	if len(hist) == 0 {
		return nil, errors.ErrNotFound
	}
	return hist[len(hist)-1], nil
}

func (s *LevelStore) GetHistory(ctx context.Context, securityID string, tf market_data.Timeframe) ([]*levels.LevelSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*levels.LevelSet
	for _, set := range s.sets {
		if set.SecurityID == securityID && set.Timeframe == tf {
			out = append(out, set)
		}
	}
	return levels.NewHistory(out), nil
}

// TrendStore is an in-memory trend.Repository
type TrendStore struct {
	mu     sync.Mutex
	bars   *BarStore
	runs   []*trend.Run
	labels map[market_data.Key]trend.Label

	// UpsertErr, when set, is returned by UpsertLabels
	UpsertErr error
	// OnUpsert runs after every successful chunk (used to cancel mid-run)
	OnUpsert func(written int)
}

var _ trend.Repository = (*TrendStore)(nil)

// NewTrendStore creates a label store; bars backs Coverage counts
func NewTrendStore(bars *BarStore) *TrendStore {
	return &TrendStore{bars: bars, labels: make(map[market_data.Key]trend.Label)}
}

func (s *TrendStore) CreateRun(ctx context.Context, run *trend.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *TrendStore) FinishRun(ctx context.Context, run *trend.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.RunID == run.RunID {
			cp := *run
			s.runs[i] = &cp
			return nil
		}
	}
	return errors.ErrNotFound
}

func (s *TrendStore) GetLatestRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*trend.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.SecurityID == securityID && r.Timeframe == tf {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (s *TrendStore) GetLatestCompletedRun(ctx context.Context, securityID string, tf market_data.Timeframe) (*trend.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.SecurityID == securityID && r.Timeframe == tf && r.Status == trend.RunCompleted {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errors.ErrNotFound
}

// Runs returns every recorded run in creation order
func (s *TrendStore) Runs() []trend.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trend.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	return out
}

func (s *TrendStore) UpsertLabels(ctx context.Context, labels []trend.Label) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.mu.Lock()
	for _, l := range labels {
		k := normKey(market_data.Key{SecurityID: l.SecurityID, Timeframe: l.Timeframe, Start: l.BarTime})
		s.labels[k] = l
	}
	hook := s.OnUpsert
	s.mu.Unlock()

	if hook != nil {
		hook(len(labels))
	}
	return nil
}

func (s *TrendStore) GetLabels(ctx context.Context, securityID string, tf market_data.Timeframe, r market_data.Range) ([]trend.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []trend.Label
	for k, l := range s.labels {
		if k.SecurityID == securityID && k.Timeframe == tf && r.Contains(l.BarTime) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BarTime.Before(out[j].BarTime) })
	return out, nil
}

func (s *TrendStore) GetLatestLabel(ctx context.Context, securityID string, tf market_data.Timeframe) (*trend.Label, error) {
	out, _ := s.GetLabels(ctx, securityID, tf, market_data.Range{})
	if len(out) == 0 {
		return nil, errors.ErrNotFound
	}
	l := out[len(out)-1]
	return &l, nil
}

func (s *TrendStore) Coverage(ctx context.Context, securityID string, tf market_data.Timeframe, fingerprint string, runID uuid.UUID) (*trend.Coverage, error) {
	total := 0
	if s.bars != nil {
		total, _ = s.bars.CountBars(ctx, securityID, tf)
	}
	labels, _ := s.GetLabels(ctx, securityID, tf, market_data.Range{})

	cov := &trend.Coverage{
		SecurityID:   securityID,
		Timeframe:    tf,
		TotalBars:    total,
		LabeledBars:  len(labels),
		Distribution: make(map[trend.Direction]int),
	}
	for _, l := range labels {
		cov.Distribution[l.Direction]++
		if l.ParamsFingerprint != fingerprint || l.RunID != runID {
			cov.StaleLabels++
		}
	}
	return cov, nil
}

// Clock returns a fixed time source for deterministic tests
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// SecurityStore is an in-memory market_data.SecurityRepository
type SecurityStore struct {
	mu   sync.Mutex
	secs map[string]market_data.Security
}

var _ market_data.SecurityRepository = (*SecurityStore)(nil)

func NewSecurityStore(seed ...market_data.Security) *SecurityStore {
	s := &SecurityStore{secs: make(map[string]market_data.Security)}
	for _, sec := range seed {
		s.secs[sec.SecurityID] = sec
	}
	return s
}

func (s *SecurityStore) Upsert(ctx context.Context, sec *market_data.Security) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secs[sec.SecurityID] = *sec
	return nil
}

func (s *SecurityStore) GetByID(ctx context.Context, securityID string) (*market_data.Security, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secs[securityID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &sec, nil
}

func (s *SecurityStore) List(ctx context.Context) ([]*market_data.Security, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*market_data.Security, 0, len(s.secs))
	for _, sec := range s.secs {
		sec := sec
		out = append(out, &sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityID < out[j].SecurityID })
	return out, nil
}

// IngestionLogStore is an in-memory market_data.IngestionLog
type IngestionLogStore struct {
	mu   sync.Mutex
	recs []*market_data.IngestionRecord
}

var _ market_data.IngestionLog = (*IngestionLogStore)(nil)

func NewIngestionLogStore() *IngestionLogStore {
	return &IngestionLogStore{}
}

func (s *IngestionLogStore) Record(ctx context.Context, rec *market_data.IngestionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *IngestionLogStore) Recent(ctx context.Context, securityID string, limit int) ([]*market_data.IngestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*market_data.IngestionRecord
	for i := len(s.recs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.recs[i].SecurityID == securityID {
			out = append(out, s.recs[i])
		}
	}
	return out, nil
}

// MemCache is a JSON cache with the Redis client's miss semantics
type MemCache struct {
	mu    sync.Mutex
	items map[string][]byte

	// GetErr, when set, is returned by Get
	GetErr error
	Sets   int
}

func NewMemCache() *MemCache {
	return &MemCache{items: make(map[string][]byte)}
}

func (c *MemCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return c.GetErr
	}
	data, ok := c.items[key]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	return json.Unmarshal(data, dest)
}

func (c *MemCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
	c.Sets++
	return nil
}

func (c *MemCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

// Len returns the number of cached keys
func (c *MemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
