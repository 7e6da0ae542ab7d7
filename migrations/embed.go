// Package migrations embeds the SQL schema applied by the postgres adapter.
package migrations

import "embed"

// Postgres holds the ordered PostgreSQL migrations (NNN_name.up.sql)
//
//go:embed postgres/*.sql
var Postgres embed.FS
