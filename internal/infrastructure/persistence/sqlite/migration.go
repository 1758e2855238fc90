package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// migration is one schema step. Versions are applied in ascending order.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{version: 1, description: "cycle_states and job_executions", sql: schemaSQL},
}

// schemaVersion is the version of the newest migration
var schemaVersion = migrations[len(migrations)-1].version

// Migrator manages database schema migrations
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new database migrator
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrate applies every migration newer than the recorded version
func (m *Migrator) Migrate() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table failed: %w", err)
	}

	current, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version failed: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}

	for _, mg := range migrations {
		if mg.version <= current {
			continue
		}
		if err := m.apply(mg); err != nil {
			return fmt.Errorf("apply migration %d failed: %w", mg.version, err)
		}
	}
	return nil
}

func (m *Migrator) ensureMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		);
	`)
	return err
}

// apply runs every statement of mg and records its version in one transaction
func (m *Migrator) apply(mg migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQLStatements(mg.sql) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("execute statement %d failed: %w\nStatement: %s", i, err, stmt)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		mg.version, mg.description,
	); err != nil {
		return fmt.Errorf("record schema version failed: %w", err)
	}
	return tx.Commit()
}

// splitSQLStatements drops comment lines and splits on semicolons
func splitSQLStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Version returns the current schema version, 0 when nothing was applied
func (m *Migrator) Version() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}
