package db

import (
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "activity_log",
		Up: `
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    event_type TEXT NOT NULL,
    account_id TEXT NOT NULL DEFAULT '',
    alias TEXT NOT NULL DEFAULT '',
    details TEXT
);

CREATE TABLE IF NOT EXISTS account_stats (
    account_id TEXT PRIMARY KEY,
    total_switches INTEGER NOT NULL DEFAULT 0,
    total_syncs INTEGER NOT NULL DEFAULT 0,
    last_active DATETIME
);

CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_activity_account ON activity_log(account_id);
`,
	},
	{
		Version: 2,
		Name:    "session_bindings",
		Up: `
CREATE TABLE IF NOT EXISTS session_bindings (
    session_id TEXT PRIMARY KEY,
    account_ref TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT '',
    file_path TEXT NOT NULL,
    bound_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bindings_account ON session_bindings(account_ref);
CREATE INDEX IF NOT EXISTS idx_bindings_file ON session_bindings(file_path);
`,
	},
}

// RunMigrations applies every migration newer than the recorded schema
// version in a single transaction.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := currentSchemaVersion(tx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if m.Up == "" {
			return fmt.Errorf("migration %d (%s) has empty Up", m.Version, m.Name)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.Version); err != nil {
			return fmt.Errorf("record migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SchemaVersion returns the newest applied migration.
func (d *DB) SchemaVersion() (int, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	return currentSchemaVersion(d.conn)
}

type sqlQueryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func currentSchemaVersion(query sqlQueryer) (int, error) {
	var v int
	if err := query.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
