package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/migrations"
)

// PgxPool represents the subset of pgxpool.Pool used by migration helpers.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type migrator struct {
	pool   PgxPool
	files  fs.FS
	logger *zap.Logger
}

// ApplyMigrations applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction. A database that already has
// tables but no tracking table is assumed to contain the first migration.
func ApplyMigrations(ctx context.Context, pool PgxPool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &migrator{pool: pool, files: migrations.Files, logger: logger}
	return m.run(ctx)
}

func (m *migrator) run(ctx context.Context) error {
	names, err := m.pending()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	tracked, err := m.trackingTableExists(ctx)
	if err != nil {
		return err
	}
	if !tracked {
		if err := m.bootstrap(ctx, names[0]); err != nil {
			return err
		}
	}

	for _, name := range names {
		applied, err := m.applied(ctx, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := m.apply(ctx, name); err != nil {
			return err
		}
		m.logger.Info("applied migration", zap.String("version", name))
	}
	return nil
}

func (m *migrator) pending() ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *migrator) trackingTableExists(ctx context.Context) (bool, error) {
	const q = `SELECT EXISTS (
        SELECT 1 FROM information_schema.tables
        WHERE table_schema='public' AND table_name='schema_migrations'
)`
	var exists bool
	if err := m.pool.QueryRow(ctx, q).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration table: %w", err)
	}
	return exists, nil
}

// bootstrap creates the tracking table and, for pre-populated databases, marks first as applied.
func (m *migrator) bootstrap(ctx context.Context, first string) error {
	const countTables = `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`
	var count int
	if err := m.pool.QueryRow(ctx, countTables).Scan(&count); err != nil {
		return fmt.Errorf("count tables: %w", err)
	}

	const createTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := m.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	if count > 0 {
		m.logger.Warn("database has tables but no migration history; assuming first migration is present",
			zap.String("version", first), zap.Int("tables", count))
		if _, err := m.pool.Exec(ctx, recordMigrationSQL, first); err != nil {
			return fmt.Errorf("record migration %s: %w", first, err)
		}
	}
	return nil
}

func (m *migrator) applied(ctx context.Context, name string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`
	var exists bool
	if err := m.pool.QueryRow(ctx, q, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	return exists, nil
}

const recordMigrationSQL = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`

func (m *migrator) apply(ctx context.Context, name string) error {
	contents, err := fs.ReadFile(m.files, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, recordMigrationSQL, name); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}
