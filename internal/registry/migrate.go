package registry

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/db"
)

//go:embed migrations/*.sql
var storeMigrationFS embed.FS

// Migrate runs all pending SQL migrations in lexicographic order. It creates
// the stores schema and schema_migrations tracking table if needed, then
// applies any .sql files not yet recorded.
func (r *PostgresRegistry) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "registry.migrate"))

	// Advisory lock prevents concurrent migration runs (e.g. overlapping deploys).
	if _, err := r.pool.Exec(ctx, "SELECT pg_advisory_lock(7412580)"); err != nil {
		return eris.Wrap(err, "registry: acquire migration advisory lock")
	}
	defer func() {
		if _, err := r.pool.Exec(ctx, "SELECT pg_advisory_unlock(7412580)"); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureStoreMigrationTable(ctx, r.pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(storeMigrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "registry: read migration dir")
	}

	// Sort by filename (lexicographic = numeric order with zero-padded names).
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedStoreMigrations(ctx, r.pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := storeMigrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "registry: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := r.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "registry: apply migration %s", name)
		}

		if _, err := r.pool.Exec(ctx,
			"INSERT INTO stores.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "registry: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

func ensureStoreMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS stores;
		CREATE TABLE IF NOT EXISTS stores.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "registry: ensure migration table")
	}
	return nil
}

func appliedStoreMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM stores.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "registry: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "registry: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
