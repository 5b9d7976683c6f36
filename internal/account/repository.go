package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// minPrefixLen is the shortest id prefix Resolve accepts.
const minPrefixLen = 4

// Repository is the in-memory mirror of the accounts store. Every mutation is
// persisted through the ConfigStore before it returns; a failed save leaves
// the in-memory state unchanged.
type Repository struct {
	mu     sync.RWMutex
	store  ConfigStore
	creds  CredentialStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	data   *Store
	loaded bool
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLogger sets the logger used for warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the id generator used for new accounts.
func WithIDGenerator(gen func() string) RepositoryOption {
	return func(r *Repository) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// NewRepository creates a repository over the given collaborators. Call Load
// before using it.
func NewRepository(store ConfigStore, creds CredentialStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:  store,
		creds:  creds,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) timestamp() string {
	return FormatTimestamp(r.now())
}

// Load reads the store, migrating legacy records and repairing invariants.
// A missing store yields an empty repository. When anything had to be
// migrated or repaired the store is re-saved before Load returns.
func (r *Repository) Load(ctx context.Context) (MigrationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	legacy, err := r.store.Load(ctx)
	if err != nil {
		if isNotFound(err) {
			r.data = NewStore()
			r.loaded = true
			return MigrationReport{}, nil
		}
		return MigrationReport{}, fmt.Errorf("load accounts store: %w", err)
	}

	data, secrets, report := r.migrate(legacy)
	for _, s := range secrets {
		if err := r.creds.Save(ctx, s.id, s.secret); err != nil {
			return report, credentialErr("save", s.id, err)
		}
	}
	if report.Changed() {
		if err := r.store.Save(ctx, data); err != nil {
			return report, fmt.Errorf("save migrated store: %w", err)
		}
		r.logger.Info("accounts store migrated",
			"credentials_moved", report.CredentialsMoved,
			"records_repaired", report.RecordsRepaired)
	}

	r.data = data
	r.loaded = true
	return report, nil
}

// Loaded reports whether Load has completed successfully.
func (r *Repository) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Accounts returns a copy of all stored accounts in store order.
func (r *Repository) Accounts() []StoredAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return nil
	}
	return r.data.clone().Accounts
}

// Get returns the account with the given id.
func (r *Repository) Get(id string) (StoredAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return StoredAccount{}, errNotLoaded
	}
	i := indexOf(r.data.Accounts, id)
	if i < 0 {
		return StoredAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return r.data.Accounts[i].clone(), nil
}

// Active returns the active account, if any.
func (r *Repository) Active() (StoredAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return StoredAccount{}, false
	}
	for _, a := range r.data.Accounts {
		if a.IsActive {
			return a.clone(), true
		}
	}
	return StoredAccount{}, false
}

// Config returns the stored preferences.
func (r *Repository) Config() AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return DefaultAppConfig()
	}
	return r.data.Config
}

// FindBestMatch runs FindBestMatch over the current accounts.
func (r *Repository) FindBestMatch(id identity.Identity) (StoredAccount, Match) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return StoredAccount{}, Match{Index: -1}
	}
	m := FindBestMatch(r.data.Accounts, id)
	if !m.Found() {
		return StoredAccount{}, m
	}
	return r.data.Accounts[m.Index].clone(), m
}

// Resolve finds an account by exact id, case-insensitive alias, or a unique
// id prefix of at least four characters, in that order.
func (r *Repository) Resolve(ref string) (StoredAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return StoredAccount{}, errNotLoaded
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return StoredAccount{}, fmt.Errorf("%w: empty reference", ErrAccountNotFound)
	}

	if i := indexOf(r.data.Accounts, ref); i >= 0 {
		return r.data.Accounts[i].clone(), nil
	}

	var hits []int
	for i, a := range r.data.Accounts {
		if strings.EqualFold(a.Alias, ref) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 && len(ref) >= minPrefixLen {
		for i, a := range r.data.Accounts {
			if strings.HasPrefix(a.ID, ref) {
				hits = append(hits, i)
			}
		}
	}

	switch len(hits) {
	case 0:
		return StoredAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref)
	case 1:
		return r.data.Accounts[hits[0]].clone(), nil
	default:
		return StoredAccount{}, fmt.Errorf("%w: %q matches %d accounts", ErrAmbiguousAccount, ref, len(hits))
	}
}

// MostRecent returns the most recently updated account other than excludeID.
func (r *Repository) MostRecent(excludeID string) (StoredAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return StoredAccount{}, false
	}
	best := -1
	for i, a := range r.data.Accounts {
		if a.ID == excludeID {
			continue
		}
		if best < 0 || a.UpdatedAt > r.data.Accounts[best].UpdatedAt {
			best = i
		}
	}
	if best < 0 {
		return StoredAccount{}, false
	}
	return r.data.Accounts[best].clone(), true
}

// LoadSecret returns the stored credential of an account.
func (r *Repository) LoadSecret(ctx context.Context, id string) ([]byte, error) {
	secret, err := r.creds.Load(ctx, id)
	if err != nil {
		return nil, credentialErr("load", id, err)
	}
	return secret, nil
}

// AddInput describes a credential to store.
type AddInput struct {
	Profile identity.Profile
	Secret  []byte
	Alias   string
}

// AddResult reports what Add did.
type AddResult struct {
	Account StoredAccount
	Merged  bool
	Match   Match
}

// Add stores a credential. When an existing account matches the profile's
// identity at MinMergeRank or above, that account is refreshed in place and
// keeps its id and active flag. Otherwise a new account is appended; it is
// made active only if the store was empty.
func (r *Repository) Add(ctx context.Context, in AddInput) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return AddResult{}, errNotLoaded
	}

	profile := in.Profile.Normalized()
	alias := strings.TrimSpace(in.Alias)
	now := r.timestamp()
	next := r.data.clone()

	m := FindBestMatch(next.Accounts, identity.FromProfile(profile))
	if m.Found() && m.Rank >= identity.MinMergeRank {
		acc := &next.Accounts[m.Index]
		if err := r.creds.Save(ctx, acc.ID, in.Secret); err != nil {
			return AddResult{}, credentialErr("save", acc.ID, err)
		}
		acc.AccountInfo = profile
		if alias != "" {
			acc.Alias = alias
		}
		acc.UpdatedAt = now
		if err := r.commit(ctx, next); err != nil {
			return AddResult{}, err
		}
		return AddResult{Account: acc.clone(), Merged: true, Match: m}, nil
	}

	id := r.newID()
	if alias == "" {
		alias = defaultAlias(profile, id)
	}
	acc := StoredAccount{
		ID:          id,
		Alias:       alias,
		AccountInfo: profile,
		IsActive:    len(next.Accounts) == 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.creds.Save(ctx, id, in.Secret); err != nil {
		return AddResult{}, credentialErr("save", id, err)
	}
	next.Accounts = append(next.Accounts, acc)
	if err := r.commit(ctx, next); err != nil {
		if delErr := r.creds.Delete(ctx, id); delErr != nil {
			r.logger.Warn("failed to clean up credential after store save failure",
				"account_id", id, "error", delErr)
		}
		return AddResult{}, err
	}
	return AddResult{Account: acc.clone(), Match: m}, nil
}

// Remove deletes an account and its stored credential. Removing the active
// account leaves no account active. When the record is gone but the secret
// could not be deleted, the removed account is returned together with a
// *CredentialIOError.
func (r *Repository) Remove(ctx context.Context, id string) (StoredAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return StoredAccount{}, errNotLoaded
	}
	i := indexOf(r.data.Accounts, id)
	if i < 0 {
		return StoredAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	removed := r.data.Accounts[i].clone()

	next := r.data.clone()
	next.Accounts = append(next.Accounts[:i], next.Accounts[i+1:]...)
	if err := r.commit(ctx, next); err != nil {
		return StoredAccount{}, err
	}

	if err := r.creds.Delete(ctx, id); err != nil && !isCredentialAbsent(err) {
		r.logger.Warn("account removed but its stored credential was not deleted", "account_id", id, "error", err)
		return removed, credentialErr("delete", id, err)
	}
	return removed, nil
}

// SetActive marks id as the only active account and bumps its updatedAt.
// Records whose flag does not change are left untouched.
func (r *Repository) SetActive(ctx context.Context, id string) (StoredAccount, error) {
	var out StoredAccount
	err := r.Mutate(ctx, func(s *Store) (bool, error) {
		i := indexOf(s.Accounts, id)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		activate(s.Accounts, i, r.timestamp())
		out = s.Accounts[i].clone()
		return true, nil
	})
	return out, err
}

// Rename changes an account's alias.
func (r *Repository) Rename(ctx context.Context, id, alias string) (StoredAccount, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return StoredAccount{}, fmt.Errorf("alias must not be empty")
	}
	var out StoredAccount
	err := r.Mutate(ctx, func(s *Store) (bool, error) {
		i := indexOf(s.Accounts, id)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		if s.Accounts[i].Alias == alias {
			out = s.Accounts[i].clone()
			return false, nil
		}
		s.Accounts[i].Alias = alias
		s.Accounts[i].UpdatedAt = r.timestamp()
		out = s.Accounts[i].clone()
		return true, nil
	})
	return out, err
}

// UpdateUsage replaces an account's usage snapshot. It does not touch
// updatedAt, which orders identity tie-breaks.
func (r *Repository) UpdateUsage(ctx context.Context, id string, usage UsageSnapshot) error {
	return r.Mutate(ctx, func(s *Store) (bool, error) {
		i := indexOf(s.Accounts, id)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		u := usage
		s.Accounts[i].UsageInfo = &u
		return true, nil
	})
}

// UpdateConfig applies fn to the stored preferences and persists the result.
func (r *Repository) UpdateConfig(ctx context.Context, fn func(*AppConfig) error) (AppConfig, error) {
	var out AppConfig
	err := r.Mutate(ctx, func(s *Store) (bool, error) {
		if err := fn(&s.Config); err != nil {
			return false, err
		}
		out = s.Config
		return true, nil
	})
	return out, err
}

// Mutate runs fn against a copy of the store. If fn reports a change the copy
// is saved and becomes the new state; if fn fails or the save fails the
// repository is left as it was.
func (r *Repository) Mutate(ctx context.Context, fn func(*Store) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return errNotLoaded
	}
	next := r.data.clone()
	changed, err := fn(next)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.commit(ctx, next)
}

// commit saves next and installs it. Callers hold r.mu.
func (r *Repository) commit(ctx context.Context, next *Store) error {
	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save accounts store: %w", err)
	}
	r.data = next
	return nil
}

// activate sets the active flag on accounts[i] only, bumping updatedAt on
// every record whose flag actually changes.
func activate(accounts []StoredAccount, i int, now string) {
	for j := range accounts {
		want := j == i
		if accounts[j].IsActive == want && j != i {
			continue
		}
		accounts[j].IsActive = want
		accounts[j].UpdatedAt = now
	}
}

func indexOf(accounts []StoredAccount, id string) int {
	for i, a := range accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func defaultAlias(p identity.Profile, id string) string {
	if local := identity.EmailLocalPart(p.Email); local != "" {
		return local
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "account-" + short
}
