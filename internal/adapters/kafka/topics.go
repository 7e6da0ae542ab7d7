package kafka

// Topic definitions for Kafka event streaming
const (
	// Produced by ingestion, consumed by the pipeline trigger
	TopicBarsIngested = "market.bars.ingested"

	// Produced after every completed pipeline run
	TopicTrendsRecomputed = "market.trends.recomputed"

	// Produced when a pipeline run fails
	TopicPipelineFailures = "market.pipeline.failures"
)

// Topics lists every topic the service touches
var Topics = []string{TopicBarsIngested, TopicTrendsRecomputed, TopicPipelineFailures}
