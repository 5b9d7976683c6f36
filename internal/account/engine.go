package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// Engine runs the account operations that touch credentials. All operations
// are serialized; once started they run to completion even if ctx is
// cancelled, so a written-but-unrecorded switch is never persisted.
type Engine struct {
	mu       sync.Mutex
	repo     *Repository
	live     CurrentCredential
	decoder  identity.Decoder
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDecoder overrides the credential decoder. Defaults to identity.JWTDecoder.
func WithDecoder(d identity.Decoder) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.decoder = d
		}
	}
}

// WithRecorder attaches an activity recorder.
func WithRecorder(rec Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = rec
	}
}

// WithEngineLogger sets the engine logger. Defaults to slog.Default().
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEngineClock overrides the time source for recorded events.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over a loaded repository and Codex's live
// credential.
func NewEngine(repo *Repository, live CurrentCredential, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:    repo,
		live:    live,
		decoder: identity.JWTDecoder{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repository returns the repository the engine mutates.
func (e *Engine) Repository() *Repository {
	return e.repo
}

// begin checks ctx once and returns a context that ignores cancellation.
func begin(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return context.WithoutCancel(ctx), nil
}

// AddOptions controls AddAccount.
type AddOptions struct {
	Alias string
	// AllowMissingIdentity accepts credentials with neither a user id nor an
	// email. Such accounts can only ever be matched by account id.
	AllowMissingIdentity bool
}

// AddAccount stores a raw credential, merging it into an existing account
// when the identities match at MinMergeRank or above.
func (e *Engine) AddAccount(ctx context.Context, raw []byte, opts AddOptions) (AddResult, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return AddResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id, profile, decErr := identity.FromCredential(e.decoder, raw)
	if decErr != nil {
		e.logger.Warn("credential could not be decoded, using fallback identity", "error", decErr)
	}
	// Input that is not even a JSON object is refused in permissive mode too:
	// writing it to auth.json would break Codex.
	if id.IsInsufficient() &&
		(!opts.AllowMissingIdentity || errors.Is(decErr, identity.ErrMalformedCredential)) {
		return AddResult{}, missingIdentity(decErr)
	}

	res, err := e.repo.Add(ctx, AddInput{Profile: profile, Secret: raw, Alias: opts.Alias})
	if err != nil {
		return AddResult{}, err
	}

	evType := EventAdd
	if res.Merged {
		evType = EventMerge
	}
	e.record(ctx, evType, res.Account, map[string]any{
		"rank":   res.Match.Rank,
		"ties":   res.Match.Count,
		"plan":   string(res.Account.AccountInfo.PlanType),
		"active": res.Account.IsActive,
	})
	return res, nil
}

func missingIdentity(decErr error) error {
	if decErr == nil {
		return ErrMissingAccountIdentity
	}
	return fmt.Errorf("%w: %w", ErrMissingAccountIdentity, decErr)
}

// AddCurrent adds the live credential.
func (e *Engine) AddCurrent(ctx context.Context, opts AddOptions) (AddResult, error) {
	raw, err := e.live.Read(ctx)
	if err != nil {
		return AddResult{}, credentialErr("read-current", "", err)
	}
	return e.AddAccount(ctx, raw, opts)
}

// SwitchTo makes id the live Codex credential and the only active account.
func (e *Engine) SwitchTo(ctx context.Context, id string) (StoredAccount, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return StoredAccount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.Get(id); err != nil {
		return StoredAccount{}, err
	}
	secret, err := e.repo.LoadSecret(ctx, id)
	if err != nil {
		return StoredAccount{}, err
	}
	if err := e.live.Write(ctx, secret); err != nil {
		return StoredAccount{}, credentialErr("write-current", "", err)
	}
	acc, err := e.repo.SetActive(ctx, id)
	if err != nil {
		return StoredAccount{}, err
	}

	e.record(ctx, EventSwitch, acc, nil)
	return acc, nil
}

// RemoveAccount deletes an account and its stored credential. No other
// account is activated in its place. A *CredentialIOError means the record
// was removed and the returned account is valid, but its secret remains.
func (e *Engine) RemoveAccount(ctx context.Context, id string) (StoredAccount, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return StoredAccount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.repo.Remove(ctx, id)
	var credErr *CredentialIOError
	if err != nil && !errors.As(err, &credErr) {
		return StoredAccount{}, err
	}
	details := map[string]any{"was_active": acc.IsActive}
	if credErr != nil {
		details["secret_left"] = true
	}
	e.record(ctx, EventRemove, acc, details)
	return acc, err
}

// RenameAccount sets the alias of id.
func (e *Engine) RenameAccount(ctx context.Context, id, alias string) (StoredAccount, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return StoredAccount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before, err := e.repo.Get(id)
	if err != nil {
		return StoredAccount{}, err
	}
	acc, err := e.repo.Rename(ctx, id, alias)
	if err != nil {
		return StoredAccount{}, err
	}
	if acc.Alias != before.Alias {
		e.record(ctx, EventRename, acc, map[string]any{"from": before.Alias})
	}
	return acc, nil
}

// FindBestMatch matches id against the stored accounts without changing
// anything.
func (e *Engine) FindBestMatch(id identity.Identity) (StoredAccount, Match) {
	return e.repo.FindBestMatch(id)
}

// CurrentIdentity decodes the live credential. ok is false when there is no
// readable live credential.
func (e *Engine) CurrentIdentity(ctx context.Context) (id identity.Identity, profile identity.Profile, ok bool) {
	raw, err := e.live.Read(ctx)
	if err != nil {
		if !isCredentialAbsent(err) {
			e.logger.Warn("live credential unreadable", "error", err)
		}
		return identity.Identity{}, identity.Profile{}, false
	}
	id, profile, err = identity.FromCredential(e.decoder, raw)
	if err != nil {
		e.logger.Debug("live credential decode failed, using fallback identity", "error", err)
	}
	return id, profile, true
}

// RecordMigration records what Repository.Load migrated, if anything.
func (e *Engine) RecordMigration(ctx context.Context, report MigrationReport) {
	if !report.Changed() {
		return
	}
	e.record(ctx, EventMigrate, StoredAccount{}, map[string]any{
		"credentials_moved": report.CredentialsMoved,
		"records_repaired":  report.RecordsRepaired,
	})
}

func (e *Engine) record(ctx context.Context, evType string, acc StoredAccount, details map[string]any) {
	if e.recorder == nil {
		return
	}
	ev := Event{
		Timestamp: e.now(),
		Type:      evType,
		AccountID: acc.ID,
		Alias:     acc.Alias,
		Details:   details,
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Warn("failed to record activity", "event", evType, "account_id", acc.ID, "error", err)
	}
}
