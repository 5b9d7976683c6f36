// Package db stores codexm's activity history and session bindings in SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the default database file name.
const FileName = "codexm.db"

type DB struct {
	path      string
	conn      *sql.DB
	recovered string
}

// OpenAt opens (creating if needed) the database at path and applies
// pending migrations. A corrupt file is moved aside and recreated; Recovered
// reports where it went.
func OpenAt(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openAndInit(clean)
	if err == nil {
		return &DB{path: clean, conn: conn}, nil
	}
	if !isCorruptSQLiteError(err) {
		return nil, err
	}

	var backupPath string
	if _, statErr := os.Stat(clean); statErr == nil {
		backupPath = clean + ".corrupt." + time.Now().UTC().Format("20060102T150405Z")
		if renameErr := os.Rename(clean, backupPath); renameErr != nil {
			return nil, fmt.Errorf("db appears corrupt (%v), and rename failed: %w", err, renameErr)
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Remove(clean + suffix)
		}
	}

	conn, err = openAndInit(clean)
	if err != nil {
		return nil, err
	}
	return &DB{path: clean, conn: conn, recovered: backupPath}, nil
}

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	if d == nil {
		return nil
	}
	return d.conn
}

func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Recovered returns the path a corrupt database was moved to during open, or
// "" if the database opened cleanly.
func (d *DB) Recovered() string {
	if d == nil {
		return ""
	}
	return d.recovered
}

func (d *DB) ready() error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("db is not open")
	}
	return nil
}

func openAndInit(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per connection; keep exactly one.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	initErr := func() error {
		if err := conn.Ping(); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if err := applyPragmas(conn); err != nil {
			return err
		}
		return RunMigrations(conn)
	}()
	if initErr != nil {
		_ = conn.Close()
		return nil, initErr
	}
	return conn, nil
}

func dsn(path string) string {
	return "file:" + filepath.ToSlash(path) + "?mode=rwc"
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		// The watcher and a CLI command may write at the same time.
		`PRAGMA busy_timeout=5000;`,
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(p, ";"), err)
		}
	}
	return nil
}

func isCorruptSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrInvalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed")
}
