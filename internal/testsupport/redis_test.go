package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClientUsesEmptyTestDatabase(t *testing.T) {
	client := NewRedisClient(t, LoadIntegrationConfig(t).Redis)
	ctx := context.Background()

	size, err := client.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, client.Set(ctx, "trendboard:snapshot:15380", "{}", time.Minute).Err())
	val, err := client.Get(ctx, "trendboard:snapshot:15380").Result()
	require.NoError(t, err)
	assert.Equal(t, "{}", val)
}
