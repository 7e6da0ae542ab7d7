package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresTransactionIsRolledBack(t *testing.T) {
	helper := NewTestPostgres(t)
	tx := helper.Tx()

	_, err := tx.Exec("CREATE TABLE IF NOT EXISTS integration_tx_check(id SERIAL PRIMARY KEY, value TEXT)")
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO integration_tx_check(value) VALUES('hello world')")
	require.NoError(t, err)

	var count int
	require.NoError(t, tx.QueryRow("SELECT COUNT(*) FROM integration_tx_check").Scan(&count))
	require.Equal(t, 1, count)

	helper.Rollback()

	var exists sql.NullString
	err = helper.DB().QueryRowContext(context.Background(), "SELECT to_regclass('public.integration_tx_check')").Scan(&exists)
	require.NoError(t, err)
	require.False(t, exists.Valid, "expected table to be rolled back, found: %s", exists.String)
}

func TestSchemaIsMigrated(t *testing.T) {
	helper := NewTestPostgres(t)

	for _, table := range []string{"securities", "bars", "level_sets", "levels", "trend_runs", "trend_labels", "ingestion_log"} {
		var name sql.NullString
		err := helper.Tx().QueryRowContext(context.Background(), "SELECT to_regclass('public.'||$1)", table).Scan(&name)
		require.NoError(t, err)
		require.True(t, name.Valid, "table %s missing", table)
	}
}
