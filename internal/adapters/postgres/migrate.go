package postgres

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// Advisory lock id shared by every process applying migrations
const migrationLockID = 15380_0001

// Migration is one schema step read from the embedded migration set
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads NNN_name.up.sql files from dir, ordered by version
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations dir %s", dir)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		prefix, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".up.sql"), "_")
		if !ok {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "migration %s has no version prefix", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "migration %s: bad version", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "migrations %s and %s share version %d", prev, e.Name(), version)
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", e.Name())
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate applies every pending migration, each in its own transaction.
// Returns the number of migrations applied.
func (c *Client) Migrate(ctx context.Context, migrations []Migration) (int, error) {
	log := logger.Get().Component("migrate")

	conn, err := c.db.Connx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "acquire migration connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return 0, errors.Wrap(err, "acquire migration lock")
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return 0, errors.Wrap(err, "create schema_migrations")
	}

	var applied []int
	if err := conn.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return 0, errors.Wrap(err, "list applied migrations")
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	count := 0
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}

		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return count, errors.Wrapf(err, "begin migration %d", m.Version)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return count, errors.Wrapf(err, "apply migration %03d_%s", m.Version, m.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return count, errors.Wrapf(err, "record migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return count, errors.Wrapf(err, "commit migration %d", m.Version)
		}

		log.Infow("migration applied", "version", m.Version, "name", m.Name)
		count++
	}

	return count, nil
}
