package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendboard/internal/adapters/kafka"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/services/ingest"
	"trendboard/internal/services/pipeline"
	"trendboard/pkg/errors"
)

type sent struct {
	topic string
	key   string
	data  []byte
}

type fakeProducer struct {
	sent []sent
}

func (f *fakeProducer) Publish(ctx context.Context, topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sent{topic: topic, key: key, data: data})
	return nil
}

func TestPublisher_BarsIngestedRoundTrip(t *testing.T) {
	prod := &fakeProducer{}
	from := time.Date(2025, 3, 6, 3, 45, 0, 0, time.UTC)
	result := &ingest.Result{
		SecurityID: "15380",
		Timeframe:  market_data.Timeframe1m,
		Range:      market_data.Range{From: from, To: from.Add(375 * time.Minute)},
		Written:    375,
	}

	require.NoError(t, NewPublisher(prod).BarsIngested(context.Background(), result))
	require.Len(t, prod.sent, 1)
	assert.Equal(t, kafka.TopicBarsIngested, prod.sent[0].topic)
	assert.Equal(t, "15380", prod.sent[0].key)

	event, err := DecodeBarsIngested(prod.sent[0].data)
	require.NoError(t, err)
	assert.Equal(t, "15380", event.SecurityID)
	assert.Equal(t, 375, event.Written)
	assert.True(t, event.Range().From.Equal(from))
	assert.NotEmpty(t, event.ID)
}

func TestPublisher_PipelineOutcomes(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewPublisher(prod)
	result := &pipeline.Result{
		SecurityID: "15380",
		Trigger:    pipeline.TriggerAPI,
		Runs: []*trenddomain.Run{
			{RunID: uuid.New(), Timeframe: market_data.TimeframeDaily, Status: trenddomain.RunCompleted, BarsLabeled: 900},
			nil,
		},
		Duration: 1500 * time.Millisecond,
	}

	require.NoError(t, pub.Recomputed(context.Background(), result))
	require.NoError(t, pub.Failed(context.Background(), result, errors.ErrIncompleteSeries))
	require.Len(t, prod.sent, 2)

	var done TrendsRecomputedEvent
	require.NoError(t, json.Unmarshal(prod.sent[0].data, &done))
	assert.Equal(t, kafka.TopicTrendsRecomputed, done.Type)
	assert.Equal(t, int64(1500), done.DurationMs)
	require.Len(t, done.Runs, 1)
	assert.Equal(t, 900, done.Runs[0].BarsLabeled)

	var failed PipelineFailedEvent
	require.NoError(t, json.Unmarshal(prod.sent[1].data, &failed))
	assert.Equal(t, kafka.TopicPipelineFailures, prod.sent[1].topic)
	assert.Contains(t, failed.Error, "incomplete bar series")
}

func TestDecodeBarsIngested_Invalid(t *testing.T) {
	_, err := DecodeBarsIngested([]byte("{"))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = DecodeBarsIngested([]byte(`{"timeframe":"1m"}`))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
