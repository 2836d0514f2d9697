package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// migrate creates the schema on a new database and upgrades older ones.
func (db *DB) migrate(ctx context.Context) error {
	return db.Update(ctx, func(tx *Txn) error {
		version, err := getSchemaVersion(tx)
		if err != nil {
			return err
		}
		if version > currentSchemaVersion {
			return fmt.Errorf("ledger schema version %d not supported (max: %d)", version, currentSchemaVersion)
		}
		if version == currentSchemaVersion {
			db.logger.Debug("Ledger schema is up to date", "version", version)
			return nil
		}

		for _, create := range []func(*Txn) error{
			createSchemaVersionTable,
			createRefinementsTable,
			createPatternsTables,
			createCanonicalEditsTable,
			createPromotionsTable,
		} {
			if err := create(tx); err != nil {
				return err
			}
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Ledger schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// getSchemaVersion gets the current schema version
func getSchemaVersion(tx *Txn) (int, error) {
	var tableName string
	err := tx.q.QueryRowContext(tx.ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = tx.q.QueryRowContext(tx.ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func setSchemaVersion(tx *Txn, version int) error {
	if _, err := tx.q.ExecContext(tx.ctx, "DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.q.ExecContext(tx.ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *Txn) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createRefinementsTable creates the append-only refinement log.
// seq orders replay; id is the human-facing REF-YYYY-MMDD-NNN.
func createRefinementsTable(tx *Txn) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		CREATE TABLE IF NOT EXISTS refinements (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			recorded_at TEXT NOT NULL,
			project_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			category TEXT NOT NULL,
			override_kind TEXT NOT NULL,
			pattern_id TEXT NOT NULL,
			pattern_name TEXT NOT NULL,
			diff_summary TEXT NOT NULL,
			normalized_diff TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create refinements table: %w", err)
	}
	_, err = tx.q.ExecContext(tx.ctx, "CREATE INDEX IF NOT EXISTS idx_refinements_pattern ON refinements(pattern_id)")
	return err
}

// createPatternsTables creates pattern aggregates and their affected sets.
func createPatternsTables(tx *Txn) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			normalized_diff TEXT NOT NULL,
			count INTEGER NOT NULL CHECK(count >= 1),
			status TEXT NOT NULL CHECK(status IN ('tracking', 'ready', 'generalized', 'dismissed')),
			dismiss_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_projects (
			pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
			project_id TEXT NOT NULL,
			PRIMARY KEY (pattern_id, project_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_documents (
			pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
			document_id TEXT NOT NULL,
			PRIMARY KEY (pattern_id, document_id)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(status)",
	}
	for _, stmt := range stmts {
		if _, err := tx.q.ExecContext(tx.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create pattern tables: %w", err)
		}
	}
	return nil
}

// createCanonicalEditsTable stores the reviewed edit each pattern promotes.
// It is not derived from the log, so rebuilds keep it.
func createCanonicalEditsTable(tx *Txn) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		CREATE TABLE IF NOT EXISTS canonical_edits (
			pattern_id TEXT PRIMARY KEY,
			patch_text TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create canonical_edits table: %w", err)
	}
	return nil
}

func createPromotionsTable(tx *Txn) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		CREATE TABLE IF NOT EXISTS promotions (
			id TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			before_version INTEGER NOT NULL,
			after_version INTEGER NOT NULL,
			promoted_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create promotions table: %w", err)
	}
	_, err = tx.q.ExecContext(tx.ctx, "CREATE INDEX IF NOT EXISTS idx_promotions_pattern ON promotions(pattern_id)")
	return err
}
