package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "trendboard/internal/adapters/clickhouse"
	"trendboard/internal/adapters/kafka"
	pgclient "trendboard/internal/adapters/postgres"
	redisclient "trendboard/internal/adapters/redis"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 150 * time.Second, // a running relabel may need to finish its chunk
	}
}

// Shutdown performs coordinated cleanup in order:
// HTTP, workers, consumers, producer, analytics sink, tracker, logs, databases.
// Databases close last since the other steps may still write.
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/8] Stopping HTTP server...")
	if c.Application.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, shutdownTimeout(c.Config))
		if err := c.Application.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/8] Stopping background workers...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// Closing consumers unblocks ReadMessage before we wait for goroutines
	log.Info("[3/8] Closing Kafka consumers...")
	l.closeKafkaConsumers(map[string]*kafka.Consumer{
		"bars_ingested": c.Adapters.BarsIngestedConsumer,
	}, log)
	l.waitForGoroutines(c.WG, 5*time.Second, log)

	log.Info("[4/8] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[5/8] Flushing label history...")
	if c.Repos.LabelHistory != nil {
		if err := c.Repos.LabelHistory.Stop(shutdownCtx); err != nil {
			log.Errorw("Label history flush failed", "error", err)
		}
	}

	log.Info("[6/8] Flushing error tracker...")
	l.flushErrorTracker(c.ErrorTracker, shutdownCtx, log)

	log.Info("[7/8] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	log.Info("[8/8] Closing database connections...")
	l.closeDatabases(c.PG, c.CH, c.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

// closeKafkaConsumers closes all Kafka consumers
func (l *Lifecycle) closeKafkaConsumers(consumers map[string]*kafka.Consumer, log *logger.Logger) {
	for name, consumer := range consumers {
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				log.Errorw("Kafka consumer close failed", "consumer", name, "error", err)
			}
		}
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(tracker errors.Tracker, ctx context.Context, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var errs errors.MultiError

	if pgClient != nil {
		errs.Add(errors.Wrap(pgClient.Close(), "postgres"))
	}
	if chClient != nil {
		errs.Add(errors.Wrap(chClient.Close(), "clickhouse"))
	}
	if redisClient != nil {
		errs.Add(errors.Wrap(redisClient.Close(), "redis"))
	}

	if err := errs.ToError(); err != nil {
		log.Errorw("Database close errors", "error", err)
	} else {
		log.Info("✓ Database connections closed")
	}
}
