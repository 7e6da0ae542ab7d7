package events

import (
	"context"
	"encoding/json"

	"trendboard/internal/adapters/kafka"
	"trendboard/internal/services/ingest"
	"trendboard/internal/services/pipeline"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Producer sends JSON events (kafka.Producer)
type Producer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher publishes pipeline events to Kafka, keyed by security id
type Publisher struct {
	producer Producer
	log      *logger.Logger
}

var (
	_ pipeline.Notifier = (*Publisher)(nil)
	_ ingest.Publisher  = (*Publisher)(nil)
)

// NewPublisher creates a new event publisher
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().Component("events"),
	}
}

// BarsIngested publishes to market.bars.ingested
func (p *Publisher) BarsIngested(ctx context.Context, result *ingest.Result) error {
	event := &BarsIngestedEvent{
		BaseEvent:  NewBaseEvent(kafka.TopicBarsIngested),
		SecurityID: result.SecurityID,
		Timeframe:  result.Timeframe,
		From:       result.Range.From,
		To:         result.Range.To,
		Written:    result.Written,
	}
	return p.publish(ctx, kafka.TopicBarsIngested, result.SecurityID, event)
}

// Recomputed publishes to market.trends.recomputed
func (p *Publisher) Recomputed(ctx context.Context, result *pipeline.Result) error {
	event := &TrendsRecomputedEvent{
		BaseEvent:  NewBaseEvent(kafka.TopicTrendsRecomputed),
		SecurityID: result.SecurityID,
		Trigger:    result.Trigger,
		Runs:       summarize(result.Runs),
		DurationMs: result.Duration.Milliseconds(),
	}
	return p.publish(ctx, kafka.TopicTrendsRecomputed, result.SecurityID, event)
}

// Failed publishes to market.pipeline.failures
func (p *Publisher) Failed(ctx context.Context, result *pipeline.Result, cause error) error {
	event := &PipelineFailedEvent{
		BaseEvent:  NewBaseEvent(kafka.TopicPipelineFailures),
		SecurityID: result.SecurityID,
		Trigger:    result.Trigger,
		Runs:       summarize(result.Runs),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	return p.publish(ctx, kafka.TopicPipelineFailures, result.SecurityID, event)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		return errors.Wrap(err, "send to kafka")
	}
	p.log.Debugw("Event published", "topic", topic, "key", key)
	return nil
}

// DecodeBarsIngested parses a market.bars.ingested payload
func DecodeBarsIngested(data []byte) (*BarsIngestedEvent, error) {
	var event BarsIngestedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "decode bars ingested event: %v", err)
	}
	if event.SecurityID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "bars ingested event without security id")
	}
	return &event, nil
}
