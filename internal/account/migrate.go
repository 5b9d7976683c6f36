package account

import (
	"bytes"
	"errors"
	"io/fs"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// MigrationReport summarizes what Load had to fix.
type MigrationReport struct {
	// CredentialsMoved counts inline authConfig blobs moved to the
	// CredentialStore.
	CredentialsMoved int
	// RecordsRepaired counts records that were normalized, given missing
	// fields, dropped as duplicates, or deactivated.
	RecordsRepaired int
}

// Changed reports whether the store needs to be re-saved.
func (m MigrationReport) Changed() bool {
	return m.CredentialsMoved > 0 || m.RecordsRepaired > 0
}

type movedSecret struct {
	id     string
	secret []byte
}

var jsonNull = []byte("null")

// migrate converts the on-disk form into a Store that satisfies the
// repository invariants: unique non-empty ids, normalized identities, no
// inline secrets, and at most one active account.
func (r *Repository) migrate(legacy *LegacyStore) (*Store, []movedSecret, MigrationReport) {
	var report MigrationReport
	out := NewStore()
	if legacy == nil {
		return out, nil, report
	}
	if legacy.Version != "" {
		out.Version = legacy.Version
	} else {
		report.RecordsRepaired++
	}
	if legacy.Config != nil {
		out.Config = *legacy.Config
	}

	now := r.timestamp()
	// seen maps each kept id to the index of its secret in secrets, or -1.
	seen := make(map[string]int, len(legacy.Accounts))
	var secrets []movedSecret

	for _, la := range legacy.Accounts {
		acc := la.StoredAccount
		repaired := false

		if acc.ID == "" {
			acc.ID = r.newID()
			repaired = true
		}
		inline := inlineSecret(la.AuthConfig)
		if at, dup := seen[acc.ID]; dup {
			report.RecordsRepaired++
			switch {
			case inline == nil:
				r.logger.Warn("dropping duplicate account record", "account_id", acc.ID)
			case at < 0:
				r.logger.Warn("dropping duplicate account record, keeping its credential", "account_id", acc.ID)
				seen[acc.ID] = len(secrets)
				secrets = append(secrets, movedSecret{id: acc.ID, secret: inline})
				report.CredentialsMoved++
			case bytes.Equal(secrets[at].secret, inline):
				r.logger.Warn("dropping duplicate account record", "account_id", acc.ID)
			default:
				r.logger.Warn("dropping duplicate account record and its differing credential", "account_id", acc.ID)
			}
			continue
		}
		seen[acc.ID] = -1

		normalized := acc.AccountInfo.Normalized()
		if !profileEqual(normalized, acc.AccountInfo) {
			acc.AccountInfo = normalized
			repaired = true
		}
		if acc.CreatedAt == "" {
			acc.CreatedAt = now
			repaired = true
		}
		if acc.UpdatedAt == "" {
			acc.UpdatedAt = acc.CreatedAt
			repaired = true
		}
		if acc.Alias == "" {
			acc.Alias = defaultAlias(acc.AccountInfo, acc.ID)
			repaired = true
		}

		if inline != nil {
			seen[acc.ID] = len(secrets)
			secrets = append(secrets, movedSecret{id: acc.ID, secret: inline})
			report.CredentialsMoved++
		}
		if repaired {
			report.RecordsRepaired++
		}
		out.Accounts = append(out.Accounts, acc)
	}

	report.RecordsRepaired += enforceSingleActive(out.Accounts)
	return out, secrets, report
}

// inlineSecret returns a copy of a legacy authConfig, or nil when there is none.
func inlineSecret(authConfig []byte) []byte {
	raw := bytes.TrimSpace(authConfig)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}
	return append([]byte(nil), raw...)
}

// enforceSingleActive keeps only the most recently updated active account
// active and returns how many records it deactivated.
func enforceSingleActive(accounts []StoredAccount) int {
	keep := -1
	for i, a := range accounts {
		if !a.IsActive {
			continue
		}
		if keep < 0 || a.UpdatedAt > accounts[keep].UpdatedAt {
			keep = i
		}
	}
	fixed := 0
	for i := range accounts {
		if accounts[i].IsActive && i != keep {
			accounts[i].IsActive = false
			fixed++
		}
	}
	return fixed
}

func profileEqual(a, b identity.Profile) bool {
	if a.Email != b.Email || a.PlanType != b.PlanType || a.AccountID != b.AccountID ||
		a.UserID != b.UserID || a.SubscriptionActiveUntil != b.SubscriptionActiveUntil {
		return false
	}
	if len(a.Organizations) != len(b.Organizations) || (a.Organizations == nil) != (b.Organizations == nil) {
		return false
	}
	for i := range a.Organizations {
		if a.Organizations[i] != b.Organizations[i] {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound) || errors.Is(err, fs.ErrNotExist)
}

func isCredentialAbsent(err error) bool {
	return errors.Is(err, ErrCredentialAbsent) || errors.Is(err, fs.ErrNotExist)
}
