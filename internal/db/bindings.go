package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// MaxBindingsPerAccount caps the sessions remembered per account.
const MaxBindingsPerAccount = 200

// ErrBindingConflict is returned when a session or file is already bound to
// a different account.
var ErrBindingConflict = errors.New("session file already bound to another account")

// ErrNoBinding is returned when an account has no usable bound session.
var ErrNoBinding = errors.New("no bound session for account")

// Binding ties a Codex session log to the account that was live when the
// session was written.
type Binding struct {
	AccountRef string // tokens.account_id of the live credential
	SessionID  string
	CreatedAt  string // session_meta timestamp, or file mtime in seconds
	FilePath   string
	BoundAt    time.Time
}

// Bind records b. Re-binding a session to the same account updates it. Only
// the newest MaxBindingsPerAccount bindings of the account are kept.
func (d *DB) Bind(ctx context.Context, b Binding) error {
	if err := d.ready(); err != nil {
		return err
	}
	b.AccountRef = strings.TrimSpace(b.AccountRef)
	b.SessionID = strings.TrimSpace(b.SessionID)
	if b.AccountRef == "" {
		return fmt.Errorf("account ref is required")
	}
	if b.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if b.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if b.BoundAt.IsZero() {
		b.BoundAt = time.Now()
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var other string
	err = tx.QueryRowContext(ctx,
		`SELECT account_ref FROM session_bindings
		 WHERE account_ref <> ? AND (session_id = ? OR file_path = ?) LIMIT 1`,
		b.AccountRef, b.SessionID, b.FilePath,
	).Scan(&other)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrBindingConflict, b.FilePath)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check bindings: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_bindings (session_id, account_ref, created_at, file_path, bound_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   created_at = excluded.created_at,
		   file_path = excluded.file_path,
		   bound_at = excluded.bound_at`,
		b.SessionID, b.AccountRef, b.CreatedAt, b.FilePath, b.BoundAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_bindings WHERE account_ref = ? AND session_id NOT IN (
		   SELECT session_id FROM session_bindings WHERE account_ref = ?
		   ORDER BY created_at DESC, bound_at DESC LIMIT ?
		 )`,
		b.AccountRef, b.AccountRef, MaxBindingsPerAccount,
	); err != nil {
		return fmt.Errorf("trim bindings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Bindings returns an account's bindings, newest first.
func (d *DB) Bindings(ctx context.Context, accountRef string) ([]Binding, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT account_ref, session_id, created_at, file_path, bound_at FROM session_bindings
		 WHERE account_ref = ? ORDER BY created_at DESC, bound_at DESC`,
		strings.TrimSpace(accountRef),
	)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var (
			b       Binding
			boundMs int64
		)
		if err := rows.Scan(&b.AccountRef, &b.SessionID, &b.CreatedAt, &b.FilePath, &boundMs); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		b.BoundAt = time.UnixMilli(boundMs)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return out, nil
}

// LatestBoundSession returns the bound session file with the newest
// modification time that still exists on disk.
func (d *DB) LatestBoundSession(ctx context.Context, accountRef string) (Binding, error) {
	bindings, err := d.Bindings(ctx, accountRef)
	if err != nil {
		return Binding{}, err
	}

	var (
		best      Binding
		bestMtime time.Time
		found     bool
	)
	for _, b := range bindings {
		info, err := os.Stat(b.FilePath)
		if err != nil {
			continue
		}
		if !found || info.ModTime().After(bestMtime) {
			best, bestMtime, found = b, info.ModTime(), true
		}
	}
	if !found {
		return Binding{}, fmt.Errorf("%w: %s", ErrNoBinding, accountRef)
	}
	return best, nil
}
