package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/testsupport"
	"trendboard/pkg/errors"
)

func newRun(sec, fingerprint string, started time.Time) *trenddomain.Run {
	return &trenddomain.Run{
		RunID:       uuid.New(),
		SecurityID:  sec,
		Timeframe:   market_data.TimeframeDaily,
		Fingerprint: fingerprint,
		Status:      trenddomain.RunRunning,
		StartedAt:   started,
	}
}

func labelsFor(bars []market_data.Bar, run *trenddomain.Run, dir trenddomain.Direction) []trenddomain.Label {
	out := make([]trenddomain.Label, len(bars))
	for i, b := range bars {
		out[i] = trenddomain.Label{
			SecurityID:        b.SecurityID,
			Timeframe:         b.Timeframe,
			BarTime:           b.Timestamp,
			Direction:         dir,
			Strength:          0.5,
			Score:             -0.5,
			ParamsFingerprint: run.Fingerprint,
			RunID:             run.RunID,
			ComputedAt:        run.StartedAt,
		}
	}
	return out
}

func TestTrendRepository_RunLifecycle(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	sec := NewTestFixtures(t, testDB.Tx()).CreateSecurity()
	repo := NewTrendRepository(testDB.Tx())
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	first := newRun(sec, "fp", started.Add(-time.Hour))
	second := newRun(sec, "fp", started)
	require.NoError(t, repo.CreateRun(ctx, first))
	require.NoError(t, repo.CreateRun(ctx, second))

	finished := started.Add(time.Minute)
	first.Status, first.BarsTotal, first.BarsLabeled, first.FinishedAt = trenddomain.RunCompleted, 10, 10, &finished
	require.NoError(t, repo.FinishRun(ctx, first))
	second.Status, second.Error, second.FinishedAt = trenddomain.RunAborted, "context canceled", &finished
	require.NoError(t, repo.FinishRun(ctx, second))

	latest, err := repo.GetLatestRun(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
	assert.Equal(t, trenddomain.RunAborted, latest.Status)

	completed, err := repo.GetLatestCompletedRun(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, completed.RunID)
	assert.Equal(t, 10, completed.BarsLabeled)
	require.NotNil(t, completed.FinishedAt)

	missing := newRun(sec, "fp", started)
	assert.True(t, errors.Is(repo.FinishRun(ctx, missing), errors.ErrNotFound))
}

func TestTrendRepository_LabelsAndCoverage(t *testing.T) {
	testDB := testsupport.NewTestPostgres(t)
	fixtures := NewTestFixtures(t, testDB.Tx())
	sec := fixtures.CreateSecurity()
	bars := fixtures.CreateDailyBars(day0, []float64{2700, 2690, 2680, 2670, 2660, 2650})
	repo := NewTrendRepository(testDB.Tx())
	ctx := context.Background()

	old := newRun(sec, "fp-old", time.Now().UTC().Add(-time.Hour))
	cur := newRun(sec, "fp-new", time.Now().UTC())
	require.NoError(t, repo.CreateRun(ctx, old))
	require.NoError(t, repo.CreateRun(ctx, cur))

	require.NoError(t, repo.UpsertLabels(ctx, labelsFor(bars, old, trenddomain.DirectionNeutral)))
	require.NoError(t, repo.UpsertLabels(ctx, labelsFor(bars[:4], cur, trenddomain.DirectionDown)))

	labels, err := repo.GetLabels(ctx, sec, market_data.TimeframeDaily, market_data.Range{})
	require.NoError(t, err)
	require.Len(t, labels, 6)
	assert.Equal(t, trenddomain.DirectionDown, labels[0].Direction)
	assert.Equal(t, cur.RunID, labels[3].RunID)
	assert.Equal(t, old.RunID, labels[5].RunID)

	latest, err := repo.GetLatestLabel(ctx, sec, market_data.TimeframeDaily)
	require.NoError(t, err)
	assert.True(t, latest.BarTime.Equal(bars[5].Timestamp))

	cov, err := repo.Coverage(ctx, sec, market_data.TimeframeDaily, "fp-new", cur.RunID)
	require.NoError(t, err)
	assert.Equal(t, 6, cov.TotalBars)
	assert.Equal(t, 6, cov.LabeledBars)
	assert.Equal(t, 2, cov.StaleLabels)
	assert.Equal(t, 4, cov.Distribution[trenddomain.DirectionDown])
	assert.Equal(t, 2, cov.Distribution[trenddomain.DirectionNeutral])

	cov, err = repo.Coverage(ctx, sec, market_data.TimeframeDaily, "fp-new", uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cov.StaleLabels)
}
