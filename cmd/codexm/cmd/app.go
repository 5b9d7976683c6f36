package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/config"
	"github.com/Dicklesworthstone/codex_account_manager/internal/db"
	"github.com/Dicklesworthstone/codex_account_manager/internal/store"
	"github.com/Dicklesworthstone/codex_account_manager/internal/vault"
)

// app is the wired set of components one command works with.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.FileStore
	vault   *vault.CredentialVault
	live    *vault.LiveAuth
	repo    *account.Repository
	engine  *account.Engine
	history *db.DB // nil when history is disabled or unavailable
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store.NewFileStore(cfg.StoreFile()),
		vault:  vault.NewCredentialVault(cfg.AuthDir()),
		live:   vault.NewLiveAuth(cfg.CodexHome()),
	}
	a.repo = account.NewRepository(a.store, a.vault, account.WithLogger(logger))

	opts := []account.EngineOption{account.WithEngineLogger(logger)}
	if cfg.History.Enabled {
		a.history = openHistory(ctx, cfg, logger)
		if a.history != nil {
			opts = append(opts, account.WithRecorder(a.history))
		}
	}
	a.engine = account.NewEngine(a.repo, a.live, opts...)

	report, err := a.repo.Load(ctx)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", a.store.Path(), err)
	}
	a.engine.RecordMigration(ctx, report)
	return a, nil
}

// openHistory opens the activity database. History is optional: failures
// are logged and the commands run without it.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) *db.DB {
	h, err := db.OpenAt(cfg.HistoryDB())
	if err != nil {
		logger.Warn("activity history unavailable", "path", cfg.HistoryDB(), "error", err)
		return nil
	}
	if backup := h.Recovered(); backup != "" {
		logger.Warn("activity history was corrupt and has been reset", "backup", backup)
	}
	if n, err := h.PruneRetention(ctx, cfg.History.RetentionDays, time.Now()); err != nil {
		logger.Warn("prune activity history", "error", err)
	} else if n > 0 {
		logger.Debug("pruned activity history", "events", n)
	}
	return h
}

// requireHistory returns the history database or explains why there is none.
func (a *app) requireHistory() (*db.DB, error) {
	if a.history != nil {
		return a.history, nil
	}
	if !a.cfg.History.Enabled {
		return nil, errors.New("activity history is disabled (history.enabled: false)")
	}
	return nil, fmt.Errorf("activity history unavailable at %s", a.cfg.HistoryDB())
}

func (a *app) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}
