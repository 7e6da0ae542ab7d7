package trend

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

type staticLevels levelsdomain.History

func (s staticLevels) History(ctx context.Context, securityID string) (levelsdomain.History, error) {
	return levelsdomain.History(s), nil
}

type recordingSink struct {
	runs   []trenddomain.Run
	labels int
}

func (r *recordingSink) AppendRun(ctx context.Context, run *trenddomain.Run, labels []trenddomain.Label) error {
	r.runs = append(r.runs, *run)
	r.labels += len(labels)
	return nil
}

type fixture struct {
	bars   *testsupport.BarStore
	labels *testsupport.TrendStore
}

func newFixture(n int) *fixture {
	bars := testsupport.NewBarStore(testsupport.DailySeries(day0, geometric(n, 100, 0.005))...)
	return &fixture{bars: bars, labels: testsupport.NewTrendStore(bars)}
}

func (f *fixture) service(t *testing.T, p Params, opts Options) *Service {
	t.Helper()
	l, err := NewLabeler(p)
	require.NoError(t, err)
	opts.Now = testsupport.Clock(day0.AddDate(1, 0, 0))
	return NewService(f.bars, f.labels, nil, l, opts)
}

func (f *fixture) storedLabels(t *testing.T) []trenddomain.Label {
	t.Helper()
	out, err := f.labels.GetLabels(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily, market_data.Range{})
	require.NoError(t, err)
	return out
}

func TestRecompute_LabelsEveryStoredBar(t *testing.T) {
	f := newFixture(60)
	sink := &recordingSink{}
	svc := f.service(t, DefaultParams(), Options{Sink: sink})
	ctx := context.Background()

	run, err := svc.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, trenddomain.RunCompleted, run.Status)
	assert.Equal(t, 60, run.BarsTotal)
	assert.Equal(t, 60, run.BarsLabeled)
	require.NotNil(t, run.FinishedAt)

	stored := f.storedLabels(t)
	require.Len(t, stored, 60)
	for _, l := range stored {
		assert.Equal(t, run.RunID, l.RunID)
		assert.Equal(t, svc.Fingerprint(), l.ParamsFingerprint)
		assert.False(t, l.ComputedAt.IsZero())
	}

	require.Len(t, sink.runs, 1)
	assert.Equal(t, run.RunID, sink.runs[0].RunID)
	assert.Equal(t, 60, sink.labels)

	cov, err := svc.Coverage(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 60, cov.TotalBars)
	assert.Equal(t, 60, cov.LabeledBars)
	assert.Zero(t, cov.StaleLabels)
	assert.InDelta(t, 100.0, cov.Percent(), 1e-9)
	assert.False(t, cov.NeedsRecompute())
	assert.Equal(t, 60, cov.Distribution[trenddomain.DirectionUp]+cov.Distribution[trenddomain.DirectionNeutral]+cov.Distribution[trenddomain.DirectionDown])
}

func TestRecompute_WritesInChunks(t *testing.T) {
	f := newFixture(60)
	var chunks []int
	f.labels.OnUpsert = func(written int) { chunks = append(chunks, written) }

	_, err := f.service(t, DefaultParams(), Options{ChunkSize: 7}).
		Recompute(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	require.Len(t, chunks, 9)
	assert.Equal(t, 7, chunks[0])
	assert.Equal(t, 4, chunks[8])
}

func TestRecompute_IncompleteSeriesWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testsupport.BarStore)
	}{
		{name: "short read", setup: func(s *testsupport.BarStore) { s.DropOnRead = 1 }},
		{name: "load error", setup: func(s *testsupport.BarStore) { s.GetBarsErr = errors.ErrUnavailable }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(40)
			tt.setup(f.bars)

			run, err := f.service(t, DefaultParams(), Options{}).
				Recompute(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrIncompleteSeries))
			assert.Equal(t, trenddomain.RunFailed, run.Status)
			assert.NotEmpty(t, run.Error)
			assert.Empty(t, f.storedLabels(t))

			runs := f.labels.Runs()
			require.Len(t, runs, 1)
			assert.Equal(t, trenddomain.RunFailed, runs[0].Status)
		})
	}
}

func TestRecompute_CancelledBetweenChunksIsAbortedAndStale(t *testing.T) {
	f := newFixture(50)
	ctx, cancel := context.WithCancel(context.Background())
	f.labels.OnUpsert = func(int) { cancel() }
	svc := f.service(t, DefaultParams(), Options{ChunkSize: 10})

	run, err := svc.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRunAborted))
	assert.Equal(t, trenddomain.RunAborted, run.Status)
	assert.Equal(t, 10, run.BarsLabeled)
	assert.Equal(t, trenddomain.RunAborted, f.labels.Runs()[0].Status)

	cov, err := svc.Coverage(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 10, cov.LabeledBars)
	assert.Equal(t, 10, cov.StaleLabels)
	assert.True(t, cov.NeedsRecompute())

	f.labels.OnUpsert = nil
	_, err = svc.Recompute(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	cov, err = svc.Coverage(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 50, cov.LabeledBars)
	assert.Zero(t, cov.StaleLabels)
	assert.False(t, cov.NeedsRecompute())
}

func TestRecompute_UpsertFailureFailsRun(t *testing.T) {
	f := newFixture(30)
	f.labels.UpsertErr = errors.ErrUnavailable

	run, err := f.service(t, DefaultParams(), Options{}).
		Recompute(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Equal(t, trenddomain.RunFailed, run.Status)
}

func TestCoverage_FingerprintChangeDemandsRecompute(t *testing.T) {
	f := newFixture(40)
	ctx := context.Background()

	_, err := f.service(t, DefaultParams(), Options{}).Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	p := DefaultParams()
	p.DeadZone = 0.3
	cov, err := f.service(t, p, Options{}).Coverage(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 40, cov.StaleLabels)
	assert.True(t, cov.NeedsRecompute())
}

func TestCoverage_NewBarsAreUnlabelled(t *testing.T) {
	f := newFixture(40)
	ctx := context.Background()
	svc := f.service(t, DefaultParams(), Options{})

	_, err := svc.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	extra := testsupport.DailySeries(day0.AddDate(0, 3, 0), []float64{150})
	_, err = f.bars.UpsertBars(ctx, extra)
	require.NoError(t, err)

	cov, err := svc.Coverage(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 41, cov.TotalBars)
	assert.Equal(t, 40, cov.LabeledBars)
	assert.True(t, cov.NeedsRecompute())
}

func TestRecompute_UsesLevelHistory(t *testing.T) {
	f := newFixture(30)
	last := f.bars.Series(testsupport.SecurityID, market_data.TimeframeDaily)[29]
	set := &levelsdomain.LevelSet{
		AsOf: day0,
		Levels: []levelsdomain.Level{
			{Side: levelsdomain.SideResistance, Rank: 1, Price: last.High.Add(decimal.NewFromFloat(0.1))},
		},
	}
	l, err := NewLabeler(DefaultParams())
	require.NoError(t, err)
	svc := NewService(f.bars, f.labels, staticLevels{set}, l, Options{})

	_, err = svc.Recompute(context.Background(), testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	stored := f.storedLabels(t)
	assert.Equal(t, trenddomain.ZoneAtResistance, stored[29].LevelZone)
}

func TestService_WinRates(t *testing.T) {
	f := newFixture(60)
	ctx := context.Background()
	svc := f.service(t, DefaultParams(), Options{})

	_, err := svc.Recompute(ctx, testsupport.SecurityID, market_data.TimeframeDaily)
	require.NoError(t, err)

	rates, err := svc.WinRates(ctx, testsupport.SecurityID, market_data.TimeframeDaily, 5)
	require.NoError(t, err)
	up := rates[trenddomain.DirectionUp]
	assert.Positive(t, up.Samples)
	assert.Equal(t, up.Samples, up.Wins)
}
