package bootstrap

import (
	"trendboard/internal/adapters/config"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/workers"
	"trendboard/internal/workers/recompute"
	"trendboard/pkg/logger"
)

// provideWorkers registers the periodic recompute and coverage workers
func provideWorkers(
	securities market_data.SecurityRepository,
	pipe *pipeline.Service,
	cfg *config.Config,
	log *logger.Logger,
) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(0)

	scheduler.RegisterWorker(recompute.NewRecalculator(
		securities,
		pipe,
		cfg.Workers.PipelineInterval,
		cfg.Workers.PipelineLookback,
		cfg.Workers.MaxConcurrency,
		true,
	))

	scheduler.RegisterWorker(recompute.NewCoverageVerifier(
		securities,
		pipe,
		cfg.Workers.CoverageInterval,
		cfg.Workers.CoverageAutoRepair,
		true,
	))

	log.Infow("✓ Workers initialized",
		"pipeline_interval", cfg.Workers.PipelineInterval,
		"coverage_interval", cfg.Workers.CoverageInterval,
		"max_concurrency", cfg.Workers.MaxConcurrency,
	)
	return scheduler
}
