package consumers

import (
	"context"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"trendboard/internal/adapters/kafka"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/events"
	"trendboard/internal/services/pipeline"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

const defaultRetryInterval = 10 * time.Second

// PipelineRunner recomputes one security (pipeline.Service)
type PipelineRunner interface {
	Run(ctx context.Context, securityID string, r market_data.Range, trigger string) (*pipeline.Result, error)
}

// BarsIngestedConsumer starts a pipeline run for every market.bars.ingested
// event. The ingested range of an event that cannot run yet (throttled, or
// the security is busy) stays pending and is widened by later events until
// a run covers it.
type BarsIngestedConsumer struct {
	consumer *kafka.Consumer
	runner   PipelineRunner
	throttle *pipeline.Throttle
	retry    time.Duration

	mu      sync.Mutex
	pending map[string]market_data.Range

	log *logger.Logger
}

// NewBarsIngestedConsumer creates the consumer. throttle may be nil; retry
// is how often pending ranges are retried.
func NewBarsIngestedConsumer(consumer *kafka.Consumer, runner PipelineRunner, throttle *pipeline.Throttle, retry time.Duration) *BarsIngestedConsumer {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &BarsIngestedConsumer{
		consumer: consumer,
		runner:   runner,
		throttle: throttle,
		retry:    retry,
		pending:  make(map[string]market_data.Range),
		log:      logger.Get().Component("bars_ingested_consumer"),
	}
}

// Start consumes until ctx is cancelled. Pending ranges are retried in the
// background every retry interval.
func (c *BarsIngestedConsumer) Start(ctx context.Context) error {
	c.log.Infow("Subscribed to ingestion events", "topic", c.consumer.Topic(), "retry", c.retry)

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close consumer", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Drain(ctx)
			}
		}
	}()
	defer wg.Wait()

	return c.consumer.Consume(ctx, func(ctx context.Context, msg kafkago.Message) error {
		return c.Handle(ctx, msg.Value)
	})
}

// Handle processes one event payload
func (c *BarsIngestedConsumer) Handle(ctx context.Context, data []byte) error {
	event, err := events.DecodeBarsIngested(data)
	if err != nil {
		return err
	}
	log := c.log.With("security_id", event.SecurityID, "event_id", event.ID)

	if event.Written == 0 {
		log.Debug("No bars written, skipping")
		return nil
	}

	c.enqueue(event.SecurityID, event.Range())
	if !c.throttle.Allow(event.SecurityID) {
		log.Debugw("Recompute throttled, range kept pending", "from", event.From, "to", event.To)
		return nil
	}
	return c.runPending(ctx, event.SecurityID)
}

// Drain runs every pending range once. Ranges that still cannot run stay
// pending. The throttle is not consulted; the retry interval paces drains.
func (c *BarsIngestedConsumer) Drain(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := c.runPending(ctx, id); err != nil {
			c.log.Errorw("Pending recompute failed", "security_id", id, "error", err)
		}
	}
}

// Pending returns the range still waiting for a run of securityID
func (c *BarsIngestedConsumer) Pending(securityID string) (market_data.Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.pending[securityID]
	return r, ok
}

func (c *BarsIngestedConsumer) runPending(ctx context.Context, securityID string) error {
	r, ok := c.take(securityID)
	if !ok {
		return nil
	}
	log := c.log.With("security_id", securityID)

	result, err := c.runner.Run(ctx, securityID, r, pipeline.TriggerKafka)
	switch {
	case errors.Is(err, errors.ErrLockNotAcquired):
		c.enqueue(securityID, r)
		log.Infow("Recompute already in progress, range kept pending", "from", r.From, "to", r.To)
		return nil
	case err != nil:
		// derived bars of r exist once aggregation succeeded; later stages
		// are recovered by coverage repair
		if ctx.Err() != nil || errors.StageOf(err) == "aggregate" || result == nil {
			c.enqueue(securityID, r)
		}
		return errors.Wrapf(err, "pipeline run for %s", securityID)
	}

	log.Infow("Pipeline run finished", "runs", len(result.Runs), "duration", result.Duration)
	return nil
}

func (c *BarsIngestedConsumer) enqueue(securityID string, r market_data.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[securityID]; ok {
		r = cur.Union(r)
	}
	c.pending[securityID] = r
}

func (c *BarsIngestedConsumer) take(securityID string) (market_data.Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.pending[securityID]
	if ok {
		delete(c.pending, securityID)
	}
	return r, ok
}
