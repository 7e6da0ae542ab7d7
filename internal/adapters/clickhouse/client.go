package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"trendboard/internal/adapters/config"
	"trendboard/pkg/errors"
)

// Client holds the connection to the label history store. Only completed
// runs are appended, in large batches, so a small pool suffices.
type Client struct {
	conn driver.Conn
}

// NewClient connects and pings ClickHouse
func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open clickhouse %s", addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(errors.ErrUnavailable, "ping clickhouse %s: %v", addr, err)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the driver connection used by the repositories
func (c *Client) Conn() driver.Conn {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Health pings ClickHouse
func (c *Client) Health(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "clickhouse: %v", err)
	}
	return nil
}

// Exec runs a statement that returns no rows (DDL)
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}
