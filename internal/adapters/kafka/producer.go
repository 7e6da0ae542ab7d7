package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Producer handles Kafka message publishing
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	async   bool
	log     *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
	Async   bool
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		async:   cfg.Async,
		log:     logger.Get().Component("kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(p.brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // keyed by security id: per-security ordering
		Async:    p.async,
	}

	p.writers[topic] = w
	return w
}

// Publish sends a message to a topic
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "encode event for %s", topic)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	err = p.getWriter(topic).WriteMessages(ctx, msg)
	metrics.RecordKafkaMessage(topic, "produced", err)
	if err != nil {
		p.log.Errorf("Failed to publish to %s: %v", topic, err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugf("Published to %s: %s", topic, key)
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			return err
		}
	}
	return nil
}
