// Package watch keeps the account store in step with the live Codex login.
// It reacts to changes of auth.json, resyncs on a timer as a safety net for
// missed events, and optionally binds new session logs to the account that
// was live when they were written.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Dicklesworthstone/codex_account_manager/internal/db"
	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
	"github.com/Dicklesworthstone/codex_account_manager/internal/usage"
)

const (
	defaultDebounce = 500 * time.Millisecond
	tickInterval    = 100 * time.Millisecond
)

// Syncer reconciles the store with the live credential.
type Syncer interface {
	SyncCurrent(ctx context.Context) (string, error)
}

// Binder records session bindings.
type Binder interface {
	Bind(ctx context.Context, b db.Binding) error
}

// LiveReader returns the raw live credential.
type LiveReader interface {
	Read(ctx context.Context) ([]byte, error)
}

// Config configures a Watcher.
type Config struct {
	// AuthPath is the live auth.json. Its directory is watched.
	AuthPath string

	// Debounce coalesces bursts of writes. Default: 500ms.
	Debounce time.Duration

	// PollInterval resyncs periodically. Zero disables polling.
	PollInterval time.Duration

	// SessionsDir enables session binding when set together with Binder.
	SessionsDir string
	Binder      Binder
	Live        LiveReader

	// OnSync is called after every sync attempt.
	OnSync func(activeID string, err error)

	Logger *slog.Logger
}

// Watcher drives Syncer from filesystem events and a ticker.
type Watcher struct {
	syncer  Syncer
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time // path -> last change time
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	syncMu   sync.Mutex
	lastSync string
}

// New creates a watcher. Call Start to begin watching.
func New(syncer Syncer, config Config) (*Watcher, error) {
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if config.AuthPath == "" {
		return nil, errors.New("auth path is required")
	}
	if config.Debounce <= 0 {
		config.Debounce = defaultDebounce
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		syncer:  syncer,
		config:  config,
		watcher: fsWatcher,
		logger:  config.Logger,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *Watcher) bindingEnabled() bool {
	return w.config.SessionsDir != "" && w.config.Binder != nil && w.config.Live != nil
}

// Start adds the watches, runs an initial sync and starts the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watchAuthDir(); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	if w.bindingEnabled() {
		if err := w.addTree(w.config.SessionsDir); err != nil {
			w.logger.Warn("session binding disabled", "dir", w.config.SessionsDir, "error", err)
		}
	}

	w.sync(ctx, "start")
	go w.loop(ctx)
	return nil
}

func (w *Watcher) watchAuthDir() error {
	authDir := filepath.Dir(w.config.AuthPath)
	if err := os.MkdirAll(authDir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", authDir, err)
	}
	if err := w.watcher.Add(authDir); err != nil {
		return fmt.Errorf("watch %s: %w", authDir, err)
	}
	w.logger.Debug("watching directory", "path", authDir)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// LastActive returns the account id reported by the most recent sync.
func (w *Watcher) LastActive() string {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	return w.lastSync
}

// addTree watches dir and every directory below it. fsnotify is not
// recursive and Codex nests sessions by date.
func (w *Watcher) addTree(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("failed to add watch", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var pollC <-chan time.Time
	if w.config.PollInterval > 0 {
		poll := time.NewTicker(w.config.PollInterval)
		defer poll.Stop()
		pollC = poll.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		case <-ticker.C:
			w.processPending(ctx)
		case <-pollC:
			w.sync(ctx, "poll")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	switch {
	case filepath.Clean(event.Name) == filepath.Clean(w.config.AuthPath):
		w.markPending(event.Name)
		w.logger.Debug("auth file changed", "path", event.Name, "op", event.Op.String())

	case w.bindingEnabled() && w.inSessions(event.Name):
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
				}
				return
			}
		}
		if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && usage.IsSessionFile(event.Name) {
			w.markPending(event.Name)
		}
	}
}

func (w *Watcher) inSessions(path string) bool {
	rel, err := filepath.Rel(w.config.SessionsDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) markPending(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// processPending handles changes that have been quiet for the debounce
// interval.
func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.config.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	authChanged := false
	for _, path := range ready {
		if filepath.Clean(path) == filepath.Clean(w.config.AuthPath) {
			authChanged = true
			continue
		}
		w.bindSession(ctx, path)
	}
	if authChanged {
		w.sync(ctx, "auth changed")
	}
}

func (w *Watcher) sync(ctx context.Context, reason string) {
	id, err := w.syncer.SyncCurrent(ctx)
	if err != nil {
		w.logger.Error("sync failed", "reason", reason, "error", err)
	} else {
		w.syncMu.Lock()
		changed := w.lastSync != id
		w.lastSync = id
		w.syncMu.Unlock()
		if changed {
			w.logger.Info("active account", "id", id, "reason", reason)
		}
	}
	if w.config.OnSync != nil {
		w.config.OnSync(id, err)
	}
}

// bindSession ties a session log to the account id in the live credential.
func (w *Watcher) bindSession(ctx context.Context, path string) {
	raw, err := w.config.Live.Read(ctx)
	if err != nil {
		w.logger.Debug("bind session skipped", "path", path, "error", err)
		return
	}
	ref := identity.RawAccountID(raw)
	if ref == "" {
		w.logger.Debug("bind session skipped: no account id in auth.json", "path", path)
		return
	}

	meta := usage.SessionMetaOrFallback(path)
	err = w.config.Binder.Bind(ctx, db.Binding{
		AccountRef: ref,
		SessionID:  meta.ID,
		CreatedAt:  meta.CreatedAt,
		FilePath:   path,
		BoundAt:    time.Now(),
	})
	switch {
	case errors.Is(err, db.ErrBindingConflict):
		w.logger.Debug("bind session skipped", "path", path, "error", err)
	case err != nil:
		w.logger.Warn("bind session failed", "path", path, "error", err)
	default:
		w.logger.Debug("session bound", "path", path, "account_ref", ref, "session", meta.ID)
	}
}
