package usage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

// SessionExt is the extension of Codex session logs.
const SessionExt = ".jsonl"

// maxLineSize bounds a single log line. Tool outputs can make lines large.
const maxLineSize = 16 << 20

var (
	ErrNoSessionFiles = errors.New("no session files found")
	ErrNoSessionMeta  = errors.New("no session_meta found")
)

// SessionMeta identifies a session log.
type SessionMeta struct {
	ID        string
	CreatedAt string
}

type logLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// IsSessionFile reports whether path looks like a session log.
func IsSessionFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), SessionExt)
}

// LatestSessionFile walks dir and returns the session log modified most
// recently.
func LatestSessionFile(dir string) (string, error) {
	var (
		latest      string
		latestMtime time.Time
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !IsSessionFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if latest == "" || info.ModTime().After(latestMtime) {
			latest, latestMtime = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read sessions directory: %w", err)
	}
	if latest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoSessionFiles, dir)
	}
	return latest, nil
}

// ParseSessionFile returns the usage recorded by the last token_count event
// of a session log. lastUpdated is the file's modification time.
func ParseSessionFile(path string) (account.UsageSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return account.UsageSnapshot{}, fmt.Errorf("stat session file: %w", err)
	}

	var latest *RateLimits
	err = scanLines(path, func(line logLine) bool {
		if line.Type != "event_msg" && line.Type != "token_count" {
			return true
		}
		if rl, ok := rateLimitsFrom(line.Payload); ok {
			latest = rl
		}
		return true
	})
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	if latest == nil {
		return account.UsageSnapshot{}, ErrNoRateLimits
	}
	return latest.Snapshot(info.ModTime(), path)
}

func rateLimitsFrom(payload json.RawMessage) (*RateLimits, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	var p struct {
		RateLimits json.RawMessage `json:"rate_limits"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}
	raw := bytes.TrimSpace(p.RateLimits)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	var rl RateLimits
	if err := json.Unmarshal(raw, &rl); err != nil {
		return nil, false
	}
	return &rl, true
}

// ReadSessionMeta returns the id and start timestamp from the session_meta
// line of a session log.
func ReadSessionMeta(path string) (SessionMeta, error) {
	var (
		meta  SessionMeta
		found bool
		bad   error
	)
	err := scanLines(path, func(line logLine) bool {
		if line.Type != "session_meta" {
			return true
		}
		found = true
		var p struct {
			ID        string `json:"id"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(line.Payload, &p); err != nil || p.ID == "" {
			bad = fmt.Errorf("missing session id in %s", path)
			return false
		}
		meta = SessionMeta{ID: p.ID, CreatedAt: p.Timestamp}
		return false
	})
	if err != nil {
		return SessionMeta{}, err
	}
	if bad != nil {
		return SessionMeta{}, bad
	}
	if !found {
		return SessionMeta{}, fmt.Errorf("%w in %s", ErrNoSessionMeta, path)
	}
	return meta, nil
}

// SessionMetaOrFallback reads the session meta, falling back to the file path
// as id and the modification time in unix seconds as creation time.
func SessionMetaOrFallback(path string) SessionMeta {
	if meta, err := ReadSessionMeta(path); err == nil {
		return meta
	}
	created := "0"
	if info, err := os.Stat(path); err == nil {
		created = strconv.FormatInt(info.ModTime().Unix(), 10)
	}
	return SessionMeta{ID: path, CreatedAt: created}
}

// scanLines calls fn for every line that parses as JSON until fn returns
// false. Unparseable lines are skipped.
func scanLines(path string, fn func(logLine) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var line logLine
		if err := json.Unmarshal(b, &line); err != nil {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read session file: %w", err)
	}
	return nil
}
