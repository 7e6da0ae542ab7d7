package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Consumer reads one topic in a consumer group. Offsets are committed only
// after the handler returned, so a trigger interrupted by a crash is
// delivered again; pipeline runs are idempotent.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// NewConsumer creates a group reader for cfg.Topic
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1 << 20 // ingestion events are small
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0, // synchronous commits
	})

	log := logger.Get().Component("kafka_consumer").With("topic", cfg.Topic, "group_id", cfg.GroupID)
	log.Infow("Kafka consumer created", "brokers", cfg.Brokers)

	return &Consumer{reader: reader, topic: cfg.Topic, log: log}
}

// Topic returns the consumed topic
func (c *Consumer) Topic() string {
	return c.topic
}

// MessageHandler processes the payload of one message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume fetches messages until ctx is cancelled. Handler errors are
// logged and the message is committed anyway; a poison message must not
// block the partition. Returns nil on shutdown.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Errorw("Failed to fetch message", "error", err)
			continue
		}

		err = handler(ctx, msg)
		metrics.RecordKafkaMessage(msg.Topic, "consumed", err)
		if err != nil {
			c.log.Errorw("Failed to handle message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
			)
		}

		// Commit with a detached context: the handler already ran
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.log.Warnw("Failed to commit offset", "offset", msg.Offset, "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close closes the reader and leaves the group
func (c *Consumer) Close() error {
	return c.reader.Close()
}
