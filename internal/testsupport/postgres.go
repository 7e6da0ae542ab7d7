package testsupport

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"trendboard/internal/adapters/postgres"
	"trendboard/migrations"
)

var (
	schemaOnce sync.Once
	schemaErr  error
)

// migrateSchema applies the embedded migrations once per test binary
func migrateSchema(ctx context.Context, client *postgres.Client) error {
	schemaOnce.Do(func() {
		set, err := postgres.LoadMigrations(migrations.Postgres, "postgres")
		if err != nil {
			schemaErr = err
			return
		}
		_, schemaErr = client.Migrate(ctx, set)
	})
	return schemaErr
}

// PostgresTx is one integration test's view of the database. Everything
// written through Tx is rolled back on cleanup, so tests may reuse the
// fixture security id freely.
type PostgresTx struct {
	db       *sqlx.DB
	tx       *sqlx.Tx
	rollback sync.Once
}

// NewTestPostgres connects with the environment's Postgres settings,
// migrates the schema and opens the test transaction.
func NewTestPostgres(t *testing.T) *PostgresTx {
	t.Helper()

	client, err := postgres.NewClient(LoadIntegrationConfig(t).Postgres)
	if err != nil {
		t.Fatalf("postgres unreachable: %v", err)
	}
	ctx := context.Background()

	if err := migrateSchema(ctx, client); err != nil {
		_ = client.Close()
		t.Fatalf("migrate schema: %v", err)
	}

	tx, err := client.DB().BeginTxx(ctx, nil)
	if err != nil {
		_ = client.Close()
		t.Fatalf("begin test transaction: %v", err)
	}

	pt := &PostgresTx{db: client.DB(), tx: tx}
	t.Cleanup(func() {
		pt.Rollback()
		_ = client.Close()
	})
	return pt
}

// Tx returns the test transaction
func (p *PostgresTx) Tx() *sqlx.Tx {
	return p.tx
}

// DB returns the pool, outside the test transaction
func (p *PostgresTx) DB() *sqlx.DB {
	return p.db
}

// Rollback discards the test transaction. Safe to call more than once.
func (p *PostgresTx) Rollback() {
	p.rollback.Do(func() {
		_ = p.tx.Rollback()
	})
}
