package account

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario: two logins share an account id; the live credential's user id
// decides which one is active.
func TestSyncCurrent_ReusedAccountID(t *testing.T) {
	f := newFixture(t,
		stored("first", "A1", "U1", "", "2025-01-05T00:00:00.000Z", false),
		stored("second", "A1", "U2", "", "2025-01-01T00:00:00.000Z", false),
	)
	f.live.set(cred("A1", "U2", ""))

	id, err := f.eng.SyncCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", id)
	assert.Equal(t, []string{"second"}, activeIDs(f.repo.Accounts()))
	assert.Equal(t, []string{EventSyncActivate}, f.rec.types())
}

func TestSyncCurrent_ClearsOnLogout(t *testing.T) {
	tests := map[string]func(*memLive){
		"absent":     func(l *memLive) { l.raw = nil },
		"unreadable": func(l *memLive) { l.readErr = errors.New("permission denied") },
		"empty":      func(l *memLive) { l.raw = []byte(`{}`) },
		"no match":   func(l *memLive) { l.raw = cred("A9", "U9", "") },
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t,
				stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", true),
				stored("two", "A2", "U2", "", "2025-01-01T00:00:00.000Z", false),
			)
			setup(f.live)

			id, err := f.eng.SyncCurrent(context.Background())
			require.NoError(t, err)
			assert.Empty(t, id)
			assert.Empty(t, activeIDs(f.repo.Accounts()))
			assert.Equal(t, 1, f.store.saveCount())
			assert.Equal(t, []string{EventSyncClear}, f.rec.types())

			// Already cleared: nothing to write.
			_, err = f.eng.SyncCurrent(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, f.store.saveCount())
		})
	}
}

func TestSyncCurrent_Idempotent(t *testing.T) {
	f := newFixture(t,
		stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false),
		stored("two", "A2", "U2", "", "2025-01-01T00:00:00.000Z", false),
	)
	f.live.set(cred("A2", "U2", ""))
	ctx := context.Background()

	id, err := f.eng.SyncCurrent(ctx)
	require.NoError(t, err)
	require.Equal(t, "two", id)
	saves := f.store.saveCount()
	before := f.repo.Accounts()

	for i := 0; i < 5; i++ {
		again, err := f.eng.SyncCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, again)
	}
	assert.Equal(t, saves, f.store.saveCount())
	assert.Equal(t, before, f.repo.Accounts())
}

func TestSyncCurrent_PrefersActiveAmongTied(t *testing.T) {
	f := newFixture(t,
		stored("newer", "", "", "x@y.com", "2025-01-09T00:00:00.000Z", false),
		stored("older", "", "", "x@y.com", "2025-01-01T00:00:00.000Z", true),
	)
	f.live.set(cred("", "", "x@y.com"))

	id, err := f.eng.SyncCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "older", id)
	assert.Equal(t, 0, f.store.saveCount())
}

func TestSyncCurrent_NewestAmongTied(t *testing.T) {
	f := newFixture(t,
		stored("older", "", "", "x@y.com", "2025-01-01T00:00:00.000Z", false),
		stored("newer", "", "", "x@y.com", "2025-01-09T00:00:00.000Z", false),
		stored("other", "A3", "U3", "", "2025-01-10T00:00:00.000Z", true),
	)
	f.live.set(cred("", "", "x@y.com"))

	id, err := f.eng.SyncCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "newer", id)
	assert.Equal(t, []string{"newer"}, activeIDs(f.repo.Accounts()))

	other, _ := f.repo.Get("other")
	assert.Equal(t, "2025-01-10T00:00:00.000Z", other.UpdatedAt)
	newer, _ := f.repo.Get("newer")
	assert.Equal(t, "2025-01-09T00:00:00.000Z", newer.UpdatedAt)
}

// Following logins back and forth must not change which of two tied accounts
// wins.
func TestSyncCurrent_KeepsUpdatedAt(t *testing.T) {
	f := newFixture(t,
		stored("older", "", "", "x@y.com", "2025-01-01T00:00:00.000Z", false),
		stored("newer", "", "", "x@y.com", "2025-01-09T00:00:00.000Z", true),
		stored("other", "A3", "U3", "", "2025-01-10T00:00:00.000Z", false),
	)
	ctx := context.Background()

	f.live.set(cred("A3", "U3", ""))
	id, err := f.eng.SyncCurrent(ctx)
	require.NoError(t, err)
	require.Equal(t, "other", id)

	f.live.raw = nil
	id, err = f.eng.SyncCurrent(ctx)
	require.NoError(t, err)
	require.Empty(t, id)

	for id, want := range map[string]string{
		"older": "2025-01-01T00:00:00.000Z",
		"newer": "2025-01-09T00:00:00.000Z",
		"other": "2025-01-10T00:00:00.000Z",
	} {
		acc, err := f.repo.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, acc.UpdatedAt, id)
	}

	f.live.set(cred("", "", "x@y.com"))
	id, err = f.eng.SyncCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", id)
}

func TestSyncCurrent_FallbackIdentityMatchesByAccountID(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
	f.live.set([]byte(`{"account_id":"A1"}`))

	id, err := f.eng.SyncCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", id)
}

func TestSyncCurrent_SaveFailure(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
	f.live.set(cred("A1", "U1", ""))
	f.store.saveErr = errors.New("disk full")

	id, err := f.eng.SyncCurrent(context.Background())
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Empty(t, activeIDs(f.repo.Accounts()))
}

// Random sequences of operations never leave more than one account active.
func TestSingleActiveInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := newFixture(t)
	ctx := context.Background()

	creds := make([][]byte, 6)
	for i := range creds {
		creds[i] = cred(fmt.Sprintf("A%d", i%3), fmt.Sprintf("U%d", i), fmt.Sprintf("u%d@example.com", i%4))
	}

	for step := 0; step < 300; step++ {
		accounts := f.repo.Accounts()
		switch op := rng.Intn(4); {
		case op == 0 || len(accounts) == 0:
			_, _ = f.eng.AddAccount(ctx, creds[rng.Intn(len(creds))], AddOptions{})
		case op == 1:
			_, _ = f.eng.SwitchTo(ctx, accounts[rng.Intn(len(accounts))].ID)
		case op == 2:
			_, _ = f.eng.RemoveAccount(ctx, accounts[rng.Intn(len(accounts))].ID)
		default:
			if rng.Intn(3) == 0 {
				f.live.set(nil)
			} else {
				f.live.set(creds[rng.Intn(len(creds))])
			}
			_, _ = f.eng.SyncCurrent(ctx)
		}

		if active := activeIDs(f.repo.Accounts()); len(active) > 1 {
			t.Fatalf("step %d: %d active accounts: %v", step, len(active), active)
		}
	}
}
