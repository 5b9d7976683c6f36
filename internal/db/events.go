package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Event is one row of the activity history.
type Event struct {
	ID        int64
	Timestamp time.Time
	Type      string
	AccountID string
	Alias     string
	Details   map[string]any
}

// AccountStats aggregates activity per account.
type AccountStats struct {
	AccountID     string
	TotalSwitches int
	TotalSyncs    int
	LastActive    time.Time
}

// EventFilter narrows Events. Zero values match everything.
type EventFilter struct {
	AccountID string
	Type      string
	Since     time.Time
	Limit     int
}

var _ account.Recorder = (*DB)(nil)

// Record stores an engine event.
func (d *DB) Record(ctx context.Context, ev account.Event) error {
	return d.LogEvent(ctx, Event{
		Timestamp: ev.Timestamp,
		Type:      ev.Type,
		AccountID: ev.AccountID,
		Alias:     ev.Alias,
		Details:   ev.Details,
	})
}

// LogEvent inserts an event and updates the per-account counters.
func (d *DB) LogEvent(ctx context.Context, event Event) error {
	if err := d.ready(); err != nil {
		return err
	}

	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	accountID := strings.TrimSpace(event.AccountID)

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tsStr := formatSQLiteTime(ts)

	var details sql.NullString
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activity_log (timestamp, event_type, account_id, alias, details) VALUES (?, ?, ?, ?, ?)`,
		tsStr, eventType, accountID, strings.TrimSpace(event.Alias), details,
	); err != nil {
		return fmt.Errorf("insert activity_log: %w", err)
	}

	if accountID != "" {
		if err := updateAccountStats(ctx, tx, eventType, accountID, tsStr); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Events returns matching events, newest first. Limit defaults to 100.
func (d *DB) Events(ctx context.Context, f EventFilter) ([]Event, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, event_type, account_id, alias, details FROM activity_log
		 WHERE datetime(timestamp) >= datetime(?)`
	args := []any{formatSQLiteTime(f.Since)}
	if id := strings.TrimSpace(f.AccountID); id != "" {
		query += ` AND account_id = ?`
		args = append(args, id)
	}
	if typ := strings.TrimSpace(f.Type); typ != "" {
		query += ` AND event_type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity_log: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			tsStr   string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &tsStr, &e.Type, &e.AccountID, &e.Alias, &details); err != nil {
			return nil, fmt.Errorf("scan activity_log: %w", err)
		}
		ts, err := parseSQLiteTime(tsStr)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
		}
		e.Timestamp = ts
		if details.Valid && details.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(details.String), &m); err == nil {
				e.Details = m
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity_log: %w", err)
	}
	return out, nil
}

// Stats returns the counters of an account, or nil if it has no activity.
func (d *DB) Stats(ctx context.Context, accountID string) (*AccountStats, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	var (
		stats      AccountStats
		lastActive sql.NullString
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT account_id, total_switches, total_syncs, last_active FROM account_stats WHERE account_id = ?`,
		accountID,
	).Scan(&stats.AccountID, &stats.TotalSwitches, &stats.TotalSyncs, &lastActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query account_stats: %w", err)
	}
	if lastActive.Valid && lastActive.String != "" {
		if ts, err := parseSQLiteTime(lastActive.String); err == nil {
			stats.LastActive = ts
		}
	}
	return &stats, nil
}

// Prune deletes events older than before and returns how many were removed.
func (d *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM activity_log WHERE datetime(timestamp) < datetime(?)`,
		formatSQLiteTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune activity_log: %w", err)
	}
	return res.RowsAffected()
}

// PruneRetention deletes events older than the given number of days.
// Zero or negative days keeps everything.
func (d *DB) PruneRetention(ctx context.Context, days int, now time.Time) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return d.Prune(ctx, now.AddDate(0, 0, -days))
}

// ForgetAccount drops the counters of a removed account. Its history rows
// are kept.
func (d *DB) ForgetAccount(ctx context.Context, accountID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM account_stats WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete account_stats: %w", err)
	}
	return nil
}

func updateAccountStats(ctx context.Context, tx *sql.Tx, eventType, accountID, ts string) error {
	var column string
	switch eventType {
	case account.EventSwitch:
		column = "total_switches"
	case account.EventSyncActivate:
		column = "total_syncs"
	case account.EventAdd:
		column = ""
	default:
		return nil
	}

	var err error
	if column == "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO account_stats (account_id) VALUES (?) ON CONFLICT(account_id) DO NOTHING`,
			accountID)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO account_stats (account_id, `+column+`, last_active) VALUES (?, 1, ?)
			 ON CONFLICT(account_id) DO UPDATE SET
			   `+column+` = `+column+` + 1,
			   last_active = MAX(COALESCE(last_active, ''), excluded.last_active)`,
			accountID, ts)
	}
	if err != nil {
		return fmt.Errorf("update account_stats %s: %w", eventType, err)
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return "1970-01-01 00:00:00"
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if ts, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format")
}
