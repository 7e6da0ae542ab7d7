package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"trendboard/internal/adapters/config"
	"trendboard/pkg/errors"
)

// Client wraps sqlx.DB for PostgreSQL operations
type Client struct {
	db *sqlx.DB
}

// NewClient creates a new PostgreSQL client with connection pooling
func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns/2 + 1)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already opened handle (used by tests)
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
