package account

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// Scenario: an existing account known by account and user id is refreshed,
// not duplicated, when the same login comes back with an email.
func TestAddAccount_MergesOnAccountAndUser(t *testing.T) {
	f := newFixture(t, stored("existing", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))

	res, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", "x@y.com"), AddOptions{})
	require.NoError(t, err)

	assert.True(t, res.Merged)
	assert.Equal(t, identity.RankAccountIDAndUser, res.Match.Rank)
	accounts := f.repo.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, "existing", accounts[0].ID)
	assert.Equal(t, "x@y.com", accounts[0].AccountInfo.Email)
	assert.Equal(t, "existing", accounts[0].Alias, "alias kept when none given")
	assert.JSONEq(t, string(cred("A1", "U1", "x@y.com")), string(f.creds.secrets["existing"]))
	assert.Equal(t, []string{EventMerge}, f.rec.types())
}

// Scenario: a credential that cannot be decoded and carries no identity is
// refused unless explicitly allowed.
func TestAddAccount_MissingIdentity(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"tokens":{"id_token":"garbage"}}`)

	_, err := f.eng.AddAccount(context.Background(), raw, AddOptions{})
	require.ErrorIs(t, err, ErrMissingAccountIdentity)
	assert.Empty(t, f.repo.Accounts())
	assert.Empty(t, f.creds.secrets)
	assert.Equal(t, 0, f.store.saveCount())

	res, err := f.eng.AddAccount(context.Background(), raw, AddOptions{AllowMissingIdentity: true})
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Len(t, f.repo.Accounts(), 1)
}

func TestAddAccount_AccountIDOnlyNeverMerges(t *testing.T) {
	f := newFixture(t, stored("existing", "A1", "", "", "2025-01-01T00:00:00.000Z", false))
	raw := []byte(`{"account_id":"A1"}`)

	res, err := f.eng.AddAccount(context.Background(), raw, AddOptions{AllowMissingIdentity: true})
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, identity.RankAccountID, res.Match.Rank)
	assert.Len(t, f.repo.Accounts(), 2)
	assert.Equal(t, "A1", res.Account.AccountInfo.AccountID, "fallback keeps the raw account id")
}

// Scenario: the first account added to an empty store becomes active.
func TestAddAccount_FirstAccountAutoActivates(t *testing.T) {
	f := newFixture(t)

	first, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", "jane.doe@example.com"), AddOptions{})
	require.NoError(t, err)
	assert.True(t, first.Account.IsActive)
	assert.Equal(t, "jane.doe", first.Account.Alias)
	assert.Equal(t, first.Account.CreatedAt, first.Account.UpdatedAt)

	second, err := f.eng.AddAccount(context.Background(), cred("A2", "U2", ""), AddOptions{Alias: "work"})
	require.NoError(t, err)
	assert.False(t, second.Account.IsActive)
	assert.Equal(t, "work", second.Account.Alias)
	assert.NotEqual(t, first.Account.ID, second.Account.ID)
	assert.Equal(t, []string{first.Account.ID}, activeIDs(f.repo.Accounts()))
}

func TestAddAccount_DefaultAliasWithoutEmail(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", ""), AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, "account-acct-000", res.Account.Alias)
}

func TestAddAccount_MergeIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.AddAccount(ctx, cred("", "", "a@b.com"), AddOptions{})
	require.NoError(t, err)
	second, err := f.eng.AddAccount(ctx, cred("A7", "", "A@B.com"), AddOptions{Alias: "renamed"})
	require.NoError(t, err)

	assert.True(t, second.Merged)
	assert.Equal(t, first.Account.ID, second.Account.ID)
	require.Len(t, f.repo.Accounts(), 1)
	acc := f.repo.Accounts()[0]
	assert.Equal(t, "A7", acc.AccountInfo.AccountID)
	assert.Equal(t, "renamed", acc.Alias)
	assert.Greater(t, acc.UpdatedAt, first.Account.UpdatedAt)
	assert.True(t, acc.IsActive, "merge keeps the active flag")
}

// Input that is not a JSON object decodes to an empty identity. It is refused
// as a missing identity, and permissive mode does not store it either.
func TestAddAccount_MalformedCredential(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "not json", "[]", "null", `"string"`} {
		for _, allow := range []bool{false, true} {
			_, err := f.eng.AddAccount(context.Background(), []byte(raw), AddOptions{AllowMissingIdentity: allow})
			assert.ErrorIs(t, err, ErrMissingAccountIdentity, "input %q allow=%v", raw, allow)
			assert.ErrorIs(t, err, identity.ErrMalformedCredential, "input %q allow=%v", raw, allow)

			var decErr *identity.DecodeError
			assert.ErrorAs(t, err, &decErr, "input %q allow=%v", raw, allow)
		}
	}
	assert.Empty(t, f.repo.Accounts())
	assert.Empty(t, f.creds.secrets)
	assert.Equal(t, 0, f.store.saveCount())
}

func TestAddAccount_StoreFailureRemovesSecret(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("disk full")

	_, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", ""), AddOptions{})
	require.Error(t, err)
	assert.Empty(t, f.creds.secrets)
	assert.Empty(t, f.repo.Accounts())
}

func TestAddAccount_CredentialFailure(t *testing.T) {
	f := newFixture(t)
	f.creds.saveErr = errors.New("permission denied")

	_, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", ""), AddOptions{})
	var ioErr *CredentialIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "save", ioErr.Op)
	assert.Empty(t, f.repo.Accounts())
}

func TestSwitchTo(t *testing.T) {
	f := newFixture(t,
		stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", true),
		stored("two", "A2", "U2", "", "2025-01-01T00:00:00.000Z", false),
	)
	f.creds.secrets["two"] = cred("A2", "U2", "")
	ctx := context.Background()

	acc, err := f.eng.SwitchTo(ctx, "two")
	require.NoError(t, err)
	assert.True(t, acc.IsActive)
	assert.Equal(t, []string{"two"}, activeIDs(f.repo.Accounts()))
	assert.Equal(t, cred("A2", "U2", ""), f.live.raw)
	assert.Equal(t, []string{EventSwitch}, f.rec.types())

	// A sync right after a switch confirms it without writing.
	saves := f.store.saveCount()
	id, err := f.eng.SyncCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", id)
	assert.Equal(t, saves, f.store.saveCount())
}

func TestSwitchTo_Failures(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.eng.SwitchTo(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("missing secret", func(t *testing.T) {
		f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
		_, err := f.eng.SwitchTo(context.Background(), "one")
		var ioErr *CredentialIOError
		require.ErrorAs(t, err, &ioErr)
		assert.ErrorIs(t, err, ErrCredentialAbsent)
		assert.Equal(t, 0, f.live.writes)
	})

	t.Run("live write fails", func(t *testing.T) {
		f := newFixture(t,
			stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", true),
			stored("two", "A2", "U2", "", "2025-01-01T00:00:00.000Z", false),
		)
		f.creds.secrets["two"] = cred("A2", "U2", "")
		f.live.writeErr = errors.New("read-only")

		_, err := f.eng.SwitchTo(context.Background(), "two")
		var ioErr *CredentialIOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "write-current", ioErr.Op)
		assert.Equal(t, []string{"one"}, activeIDs(f.repo.Accounts()), "flags untouched")
	})
}

// Scenario: removing the active account leaves nothing active.
func TestRemoveAccount_Active(t *testing.T) {
	f := newFixture(t,
		stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", true),
		stored("two", "A2", "U2", "", "2025-01-01T00:00:00.000Z", false),
	)
	f.creds.secrets["one"] = cred("A1", "U1", "")

	removed, err := f.eng.RemoveAccount(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "one", removed.ID)
	assert.Len(t, f.repo.Accounts(), 1)
	assert.Empty(t, activeIDs(f.repo.Accounts()))
	assert.False(t, f.creds.has("one"))
	assert.Equal(t, []string{EventRemove}, f.rec.types())
}

func TestRemoveAccount_Failures(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))

	_, err := f.eng.RemoveAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	f.creds.secrets["one"] = cred("A1", "U1", "")
	f.creds.delErr = errors.New("permission denied")
	removed, err := f.eng.RemoveAccount(context.Background(), "one")
	var credErr *CredentialIOError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "delete", credErr.Op)
	assert.Equal(t, "one", credErr.ID)
	assert.Equal(t, "one", removed.ID, "the record is gone, so the removed account is still reported")
	assert.Empty(t, f.repo.Accounts())
	assert.True(t, f.creds.has("one"), "the secret is left behind")
	assert.Equal(t, []string{EventRemove}, f.rec.types())
}

func TestRemoveAccount_AbsentSecretIsNotAnError(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
	require.False(t, f.creds.has("one"))

	_, err := f.eng.RemoveAccount(context.Background(), "one")
	require.NoError(t, err)
	assert.Empty(t, f.repo.Accounts())
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.eng.AddAccount(ctx, cred("A2", "U2", ""), AddOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.eng.SwitchTo(ctx, "one")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.eng.RemoveAccount(ctx, "one")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.eng.SyncCurrent(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, f.repo.Accounts(), 1)
	assert.Equal(t, 0, f.store.saveCount())
}

func TestEngine_RecorderFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.rec.err = errors.New("history unavailable")

	_, err := f.eng.AddAccount(context.Background(), cred("A1", "U1", ""), AddOptions{})
	require.NoError(t, err)
	assert.Len(t, f.repo.Accounts(), 1)
}

func TestRecordMigration(t *testing.T) {
	f := newFixture(t)
	f.eng.RecordMigration(context.Background(), MigrationReport{})
	assert.Empty(t, f.rec.types())

	f.eng.RecordMigration(context.Background(), MigrationReport{CredentialsMoved: 2})
	require.Equal(t, []string{EventMigrate}, f.rec.types())
	assert.Equal(t, 2, f.rec.events[0].Details["credentials_moved"])
}

func TestAddCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.AddCurrent(ctx, AddOptions{})
	var ioErr *CredentialIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read-current", ioErr.Op)
	assert.ErrorIs(t, err, ErrCredentialAbsent)

	f.live.set(cred("A1", "U1", "me@example.com"))
	res, err := f.eng.AddCurrent(ctx, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, "me", res.Account.Alias)
	assert.True(t, res.Account.IsActive)
}

func TestRenameAccount(t *testing.T) {
	f := newFixture(t, stored("one", "A1", "U1", "", "2025-01-01T00:00:00.000Z", false))
	ctx := context.Background()

	acc, err := f.eng.RenameAccount(ctx, "one", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", acc.Alias)
	require.Equal(t, []string{EventRename}, f.rec.types())
	assert.Equal(t, "one", f.rec.events[0].Details["from"])

	_, err = f.eng.RenameAccount(ctx, "one", "work")
	require.NoError(t, err)
	assert.Len(t, f.rec.events, 1, "unchanged alias records nothing")

	_, err = f.eng.RenameAccount(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
