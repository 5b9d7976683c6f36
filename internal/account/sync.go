package account

import (
	"context"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// SyncCurrent aligns the active flag with the credential Codex has live and
// returns the id of the account that is active afterwards, or "" when none
// is. An absent or unreadable live credential is treated as logged out. The
// error is non-nil only when persisting the change failed.
//
// Repeated calls with the same live credential and accounts write nothing.
// Only active flags change; updatedAt is left as it was.
func (e *Engine) SyncCurrent(ctx context.Context) (string, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	observed, _, ok := e.CurrentIdentity(ctx)
	if !ok {
		observed = identity.Identity{}
	}

	var (
		targetID string
		cleared  []StoredAccount
		updated  StoredAccount
		flipped  bool
	)
	err = e.repo.Mutate(ctx, func(s *Store) (bool, error) {
		target := reconcileTarget(s.Accounts, observed)
		for i := range s.Accounts {
			want := i == target
			if s.Accounts[i].IsActive == want {
				continue
			}
			if !want {
				cleared = append(cleared, s.Accounts[i].clone())
			}
			// updatedAt breaks ties between matches, so following the live
			// login must not reorder them.
			s.Accounts[i].IsActive = want
			flipped = true
		}
		if target >= 0 {
			targetID = s.Accounts[target].ID
			updated = s.Accounts[target].clone()
		}
		return flipped, nil
	})
	if err != nil {
		return "", err
	}

	if flipped {
		if targetID != "" {
			e.logger.Info("active account synced to live credential", "account_id", targetID)
			e.record(ctx, EventSyncActivate, updated, nil)
		} else {
			e.logger.Info("no stored account matches live credential, cleared active flag")
			for _, acc := range cleared {
				e.record(ctx, EventSyncClear, acc, nil)
			}
		}
	}
	return targetID, nil
}

// reconcileTarget picks the account that should be active for the observed
// identity, or -1 for none. Among the accounts tied at the highest non-zero
// rank, an already active one is kept; otherwise the most recently updated
// wins, the earliest index breaking exact timestamp ties.
func reconcileTarget(accounts []StoredAccount, observed identity.Identity) int {
	if observed.IsEmpty() {
		return -1
	}

	best := identity.RankNone
	var tied []int
	for i, acc := range accounts {
		rank := identity.Rank(acc.Identity(), observed)
		switch {
		case rank == identity.RankNone || rank < best:
			continue
		case rank > best:
			best = rank
			tied = tied[:0]
		}
		tied = append(tied, i)
	}
	if len(tied) == 0 {
		return -1
	}

	target := tied[0]
	for _, i := range tied {
		if accounts[i].IsActive {
			return i
		}
		if accounts[i].UpdatedAt > accounts[target].UpdatedAt {
			target = i
		}
	}
	return target
}
