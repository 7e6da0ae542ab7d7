package testsupport

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"trendboard/internal/adapters/config"
)

// NewRedisClient connects to the test database of cfg, empties it and
// empties it again after the test. Skipped when Redis is not configured.
func NewRedisClient(t *testing.T, cfg config.RedisConfig) *redis.Client {
	t.Helper()

	if !cfg.Enabled {
		t.Skip("REDIS_HOST not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("redis %s unreachable: %v", cfg.Addr(), err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush redis db %d: %v", cfg.DB, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}
