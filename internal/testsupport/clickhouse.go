package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"trendboard/internal/adapters/clickhouse"
	"trendboard/internal/adapters/config"
)

// NewClickHouseTable connects to ClickHouse and returns a table name unique
// to the test. The table is dropped on cleanup. Skipped when ClickHouse is
// not configured.
func NewClickHouseTable(t *testing.T, cfg config.ClickHouseConfig, prefix string) (*clickhouse.Client, string) {
	t.Helper()

	if !cfg.Enabled {
		t.Skip("CLICKHOUSE_HOST not set")
	}

	client, err := clickhouse.NewClient(cfg)
	if err != nil {
		t.Fatalf("clickhouse %s:%d unreachable: %v", cfg.Host, cfg.Port, err)
	}

	table := fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		_ = client.Close()
	})
	return client, table
}
