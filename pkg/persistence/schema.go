package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 3

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Empty database: create the current schema directly.
	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	case 3:
		return migrateToVersion3(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds request ids to artifacts and plans so retried requests stay idempotent.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE artifacts ADD COLUMN request_id TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE patch_plans ADD COLUMN request_id TEXT NOT NULL DEFAULT ''",
		"CREATE INDEX IF NOT EXISTS idx_artifacts_request ON artifacts(project_id, filename, request_id)",
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration %q: %w", migration, err)
		}
	}
	return nil
}

// migrateToVersion3 records which patch plan removed a deprecated statement.
func migrateToVersion3(db *sql.DB) error {
	migration := "ALTER TABLE requirements ADD COLUMN removed_by_plan TEXT NOT NULL DEFAULT ''"
	if _, err := db.Exec(migration); err != nil {
		return fmt.Errorf("failed to execute migration %q: %w", migration, err)
	}
	// Earlier versions stored the removing plan as a "patch:" superseded_by value.
	backfill := `UPDATE requirements SET removed_by_plan = substr(superseded_by, 7), superseded_by = ''
		WHERE superseded_by LIKE 'patch:%'`
	if _, err := db.Exec(backfill); err != nil {
		return fmt.Errorf("failed to backfill removed_by_plan: %w", err)
	}
	return nil
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			current_phase TEXT NOT NULL,
			change_policy TEXT NOT NULL DEFAULT 'review' CHECK (change_policy IN ('auto','review','none')),
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,

		// One JSON document per project; revision increments on every write.
		`CREATE TABLE IF NOT EXISTS project_contexts (
			project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
			revision INTEGER NOT NULL DEFAULT 0,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			from_phase TEXT NOT NULL,
			to_phase TEXT NOT NULL,
			actor TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS artifacts (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			digest TEXT NOT NULL,
			created_by TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (project_id, filename, version)
		)`,

		`CREATE TABLE IF NOT EXISTS requirements (
			project_id TEXT NOT NULL,
			id TEXT NOT NULL,
			source_document TEXT NOT NULL DEFAULT '',
			statement TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('draft','approved','implemented','deprecated')),
			superseded_by TEXT NOT NULL DEFAULT '',
			removed_by_plan TEXT NOT NULL DEFAULT '',
			implements TEXT NOT NULL DEFAULT '[]',
			tested_by TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (project_id, id)
		)`,

		`CREATE TABLE IF NOT EXISTS patch_plans (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			change_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','applied','logged','rejected')),
			plan TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_transitions_project ON transitions(project_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_artifacts_request ON artifacts(project_id, filename, request_id)",
		"CREATE INDEX IF NOT EXISTS idx_plans_project_status ON patch_plans(project_id, status)",
	}
	for _, index := range indices {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
