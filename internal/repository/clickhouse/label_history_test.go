package clickhouse

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
)

func TestLabelHistoryRepository_AppendRun(t *testing.T) {
	client, table := testsupport.NewClickHouseTable(t, testsupport.LoadIntegrationConfig(t).ClickHouse, "trend_label_history_test")

	repo := NewLabelHistoryRepository(client.Conn(), table, 4)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	finished := time.Now().UTC()
	run := &trenddomain.Run{RunID: uuid.New(), SecurityID: testsupport.SecurityID, Timeframe: market_data.TimeframeDaily, FinishedAt: &finished}
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	labels := make([]trenddomain.Label, 10)
	for i := range labels {
		dir := trenddomain.DirectionDown
		if i < 3 {
			dir = trenddomain.DirectionNeutral
		}
		labels[i] = trenddomain.Label{
			SecurityID: testsupport.SecurityID,
			Timeframe:  market_data.TimeframeDaily,
			BarTime:    day.AddDate(0, 0, i),
			Direction:  dir,
			RunID:      run.RunID,
		}
	}

	require.NoError(t, repo.AppendRun(ctx, run, labels))

	shares, err := repo.DirectionShares(ctx, testsupport.SecurityID, market_data.TimeframeDaily, 1)
	require.NoError(t, err)
	counts := map[string]uint64{}
	for _, s := range shares {
		assert.Equal(t, run.RunID.String(), s.RunID)
		counts[s.Direction] = s.Bars
	}
	assert.Equal(t, uint64(7), counts[string(trenddomain.DirectionDown)])
	assert.Equal(t, uint64(3), counts[string(trenddomain.DirectionNeutral)])
}
