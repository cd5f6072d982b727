package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_recon_runs_table",
		Up:      migration002AddReconRunsTable,
	},
	{
		Version: 3,
		Name:    "add_review_matches_table",
		Up:      migration003AddReviewMatchesTable,
	},
}

// runMigrations executes all pending migrations
func runMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func ensureMigrationsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func getAppliedMigrations(db *sql.DB) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ledger_records (
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			descriptor TEXT NOT NULL DEFAULT '',
			method_hint TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			external_link TEXT,
			link_confidence INTEGER,
			link_run_id TEXT,
			linked_at TIMESTAMP,
			provenance TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_occurred_at ON ledger_records(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_external_link ON ledger_records(external_link)`,
		`CREATE TABLE IF NOT EXISTS external_records (
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			posted_at TIMESTAMP NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			consumed_by TEXT,
			content_hash TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_external_content_hash ON external_records(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_external_posted_at ON external_records(posted_at)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func migration002AddReconRunsTable(tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS recon_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		date_tolerance_days INTEGER NOT NULL,
		auto_apply_min INTEGER NOT NULL,
		review_min INTEGER NOT NULL,
		status TEXT NOT NULL,
		auto_applied INTEGER NOT NULL DEFAULT 0,
		needs_review INTEGER NOT NULL DEFAULT 0,
		unmatched_ledger INTEGER NOT NULL DEFAULT 0,
		skipped_duplicate INTEGER NOT NULL DEFAULT 0,
		total_reconciled TEXT NOT NULL DEFAULT '0'
	)`

	_, err := tx.Exec(query)
	return err
}

func migration003AddReviewMatchesTable(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS review_matches (
			ledger_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			signals_json TEXT NOT NULL DEFAULT '[]',
			date_delta_days INTEGER NOT NULL,
			amount_delta TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (ledger_id, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_status ON review_matches(status)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
