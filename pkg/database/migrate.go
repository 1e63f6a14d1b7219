package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
)

const (
	migrationSuffix = ".up.sql"

	createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	migrationApplied = `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	recordMigration  = `INSERT INTO schema_migrations (version) VALUES ($1)`
)

// RunMigrations applies the *.up.sql files at the root of migrations in
// name order, each in its own transaction together with its
// schema_migrations row. Lost connections are retried; SQL errors are not.
func RunMigrations(ctx context.Context, db DBTX, migrations fs.FS, log *slog.Logger) error {
	return withRetry(ctx, log, "run migrations", IsConnectionError, func() error {
		return migrate(ctx, db, migrations, log)
	})
}

func pendingNames(migrations fs.FS) ([]string, error) {
	// fs.ReadDir returns entries sorted by name.
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), migrationSuffix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func migrate(ctx context.Context, db DBTX, migrations fs.FS, log *slog.Logger) error {
	if _, err := db.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	names, err := pendingNames(migrations)
	if err != nil {
		return err
	}
	for _, name := range names {
		var done bool
		if err := db.QueryRow(ctx, migrationApplied, name).Scan(&done); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			log.Debug("migration already applied", slog.String("version", name))
			continue
		}
		if err := apply(ctx, db, migrations, name); err != nil {
			return err
		}
		log.Info("migration applied", slog.String("version", name))
	}
	return nil
}

func apply(ctx context.Context, db DBTX, migrations fs.FS, name string) error {
	body, err := fs.ReadFile(migrations, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, string(body)); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, recordMigration, name); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}
