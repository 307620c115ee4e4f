// Package db provides database access and the migration runner.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// Migration represents a single schema migration file.
type Migration struct {
	Version     int
	Description string
	SQL         string
	Filename    string
}

// Migrator applies SQL migrations from a directory in version order.
type Migrator struct {
	db  *sql.DB
	dir string
}

// NewMigrator creates a migration runner over a database/sql connection.
func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

func (m *Migrator) ensureSchemaVersionTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			description TEXT
		);
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *Migrator) loadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_down.sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		var version int
		var description string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &description); err != nil {
			return nil, fmt.Errorf("invalid migration filename: %s (expected NNN_description.sql)", entry.Name())
		}
		description = strings.ReplaceAll(strings.TrimSuffix(description, ".sql"), "_", " ")

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			Filename:    entry.Name(),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrate runs all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	var pending []Migration
	for _, mg := range migrations {
		if mg.Version > current {
			pending = append(pending, mg)
		}
	}

	if len(pending) == 0 {
		fmt.Printf("Database is up to date (version %d)\n", current)
		return nil
	}

	fmt.Printf("Current schema version: %d, %d pending migration(s)\n", current, len(pending))

	for _, mg := range pending {
		if err := m.apply(ctx, mg); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mg.Version, err)
		}
	}

	final, _ := m.currentVersion(ctx)
	fmt.Printf("Migration complete. Current version: %d\n", final)

	return nil
}

func (m *Migrator) apply(ctx context.Context, mg Migration) error {
	fmt.Printf("Applying migration %d: %s\n", mg.Version, mg.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mg.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		mg.Version, mg.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Status prints the migration status table.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	fmt.Printf("Current schema version: %d\n", current)
	fmt.Println("VERSION | STATUS  | DESCRIPTION")
	for _, mg := range migrations {
		status := "pending"
		if mg.Version <= current {
			status = "applied"
		}
		fmt.Printf("%-7d | %-7s | %s\n", mg.Version, status, mg.Description)
	}

	return nil
}
