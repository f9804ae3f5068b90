package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator applies the SQL files in a migrations directory. Files follow
// the {version}_{name}.up.sql / {version}_{name}.down.sql convention;
// pending versions run in lexical order, each inside its own transaction,
// and are recorded in public.schema_migrations so reruns are no-ops.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, log: logger}
}

type migration struct {
	version string
	name    string
	file    string
}

// parseMigration splits a migration filename into version, name and
// direction ("up" or "down"). Files outside the naming convention report
// ok=false and are skipped.
func parseMigration(filename string) (mig migration, direction string, ok bool) {
	var stem string
	switch {
	case strings.HasSuffix(filename, ".up.sql"):
		direction = "up"
		stem = strings.TrimSuffix(filename, ".up.sql")
	case strings.HasSuffix(filename, ".down.sql"):
		direction = "down"
		stem = strings.TrimSuffix(filename, ".down.sql")
	default:
		return migration{}, "", false
	}

	version, name, found := strings.Cut(stem, "_")
	if !found || version == "" || name == "" {
		return migration{}, "", false
	}
	return migration{version: version, name: name, file: filename}, direction, true
}

// load returns the directory's migrations for one direction in version
// order.
func (m *Migrator) load(direction string) ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", m.dir, err)
	}

	var migs []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mig, dir, ok := parseMigration(entry.Name())
		if !ok || dir != direction {
			continue
		}
		migs = append(migs, mig)
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

// Up applies every pending up-migration.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	migs, err := m.load("up")
	if err != nil {
		return err
	}

	for _, mig := range migs {
		if applied[mig.version] {
			continue
		}
		err := m.runInTx(ctx, mig, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, name) VALUES ($1, $2)`,
				mig.version, mig.name)
			return err
		})
		if err != nil {
			return err
		}
		m.log.Info().Str("version", mig.version).Str("name", mig.name).Msg("migration applied")
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var last string
	err := m.db.QueryRowContext(ctx,
		`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		m.log.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest applied version: %w", err)
	}

	downs, err := m.load("down")
	if err != nil {
		return err
	}
	var target *migration
	for i := range downs {
		if downs[i].version == last {
			target = &downs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no down migration for applied version %s", last)
	}

	err = m.runInTx(ctx, *target, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, target.version)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("version", target.version).Str("name", target.name).Msg("migration rolled back")
	return nil
}

// runInTx executes one migration file and its bookkeeping statement in a
// single transaction, so a failed migration leaves no record behind.
func (m *Migrator) runInTx(ctx context.Context, mig migration, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, mig.file))
	if err != nil {
		return fmt.Errorf("read %s: %w", mig.file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", mig.file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", mig.file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record %s: %w", mig.file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", mig.file, err)
	}
	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
