package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"trendboard/pkg/errors"
)

// DBTX is a common interface for *sqlx.DB and *sqlx.Tx
// This allows repositories to work with both regular connections and transactions
// enabling full transactional isolation in tests
type DBTX interface {
	// Core query methods
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	// sqlx extended methods
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Named query support
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// inTx runs fn inside a transaction. When db already is a transaction
// (integration tests) fn joins it instead of opening a nested one.
func inTx(ctx context.Context, db DBTX, fn func(tx DBTX) error) error {
	conn, ok := db.(*sqlx.DB)
	if !ok {
		return fn(db)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// notFound maps sql.ErrNoRows to errors.ErrNotFound
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(errors.ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
