package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

type memStore struct {
	mu      sync.Mutex
	legacy  *LegacyStore
	saved   *Store
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load(ctx context.Context) (*LegacyStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.legacy == nil {
		return nil, ErrStoreNotFound
	}
	return m.legacy, nil
}

func (m *memStore) Save(ctx context.Context, s *Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.saved = s.clone()
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memCreds struct {
	mu      sync.Mutex
	secrets map[string][]byte
	saveErr error
	loadErr error
	delErr  error
}

func newMemCreds() *memCreds {
	return &memCreds{secrets: make(map[string][]byte)}
}

func (m *memCreds) Save(ctx context.Context, id string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.secrets[id] = append([]byte(nil), secret...)
	return nil
}

func (m *memCreds) Load(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	s, ok := m.secrets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialAbsent, id)
	}
	return s, nil
}

func (m *memCreds) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	if _, ok := m.secrets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCredentialAbsent, id)
	}
	delete(m.secrets, id)
	return nil
}

func (m *memCreds) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.secrets[id]
	return ok
}

type memLive struct {
	mu       sync.Mutex
	raw      []byte
	readErr  error
	writeErr error
	writes   int
}

func (m *memLive) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.raw == nil {
		return nil, ErrCredentialAbsent
	}
	return m.raw, nil
}

func (m *memLive) Write(ctx context.Context, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.raw = append([]byte(nil), raw...)
	return nil
}

func (m *memLive) set(raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
}

type memRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memRecorder) Record(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *memRecorder) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

// profileDecoder reads test credentials that carry the profile fields at the
// top level, e.g. {"accountId":"A1","email":"x@y.com"}. Credentials without
// any of the three identity fields fail to decode.
type profileDecoder struct{}

var errNoProfile = errors.New("no profile fields")

func (profileDecoder) Decode(raw []byte) (identity.Profile, error) {
	var p identity.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return identity.Profile{}, &identity.DecodeError{Err: err}
	}
	if p.AccountID == "" && p.UserID == "" && p.Email == "" {
		return identity.Profile{}, &identity.DecodeError{Err: errNoProfile}
	}
	if p.PlanType == "" {
		p.PlanType = identity.PlanPlus
	}
	return p.Normalized(), nil
}

func cred(accountID, userID, email string) []byte {
	m := map[string]string{}
	if accountID != "" {
		m["accountId"] = accountID
	}
	if userID != "" {
		m["userId"] = userID
	}
	if email != "" {
		m["email"] = email
	}
	data, _ := json.Marshal(m)
	return data
}

// testClock advances one second per reading so timestamps are strictly
// increasing and comparable.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store *memStore
	creds *memCreds
	live  *memLive
	rec   *memRecorder
	clock *testClock
	repo  *Repository
	eng   *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("acct-%04d-0000", n)
	}
}

// newFixture builds a loaded engine over the given pre-existing accounts.
func newFixture(t *testing.T, accounts ...StoredAccount) *fixture {
	t.Helper()

	f := &fixture{
		store: &memStore{},
		creds: newMemCreds(),
		live:  &memLive{},
		rec:   &memRecorder{},
		clock: newTestClock(),
	}
	if len(accounts) > 0 {
		legacy := &LegacyStore{Version: StoreVersion}
		for _, a := range accounts {
			legacy.Accounts = append(legacy.Accounts, LegacyAccount{StoredAccount: a})
		}
		f.store.legacy = legacy
	}
	f.repo = NewRepository(f.store, f.creds,
		WithLogger(discardLogger()),
		WithClock(f.clock.Now),
		WithIDGenerator(sequentialIDs()),
	)
	if _, err := f.repo.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.eng = NewEngine(f.repo, f.live,
		WithDecoder(profileDecoder{}),
		WithRecorder(f.rec),
		WithEngineLogger(discardLogger()),
		WithEngineClock(f.clock.Now),
	)
	return f
}

func stored(id, accountID, userID, email, updatedAt string, active bool) StoredAccount {
	return StoredAccount{
		ID:    id,
		Alias: id,
		AccountInfo: identity.Profile{
			AccountID:     accountID,
			UserID:        userID,
			Email:         email,
			PlanType:      identity.PlanPlus,
			Organizations: []identity.Organization{},
		},
		IsActive:  active,
		CreatedAt: "2025-01-01T00:00:00.000Z",
		UpdatedAt: updatedAt,
	}
}

func activeIDs(accounts []StoredAccount) []string {
	var out []string
	for _, a := range accounts {
		if a.IsActive {
			out = append(out, a.ID)
		}
	}
	return out
}
