package account

import "github.com/Dicklesworthstone/codex_account_manager/internal/identity"

// Match is the result of FindBestMatch.
type Match struct {
	// Index of the winning account, or -1 when nothing matched.
	Index int
	// Rank of the winning account (0 when nothing matched).
	Rank int
	// Count is how many accounts tied at the winning rank.
	Count int
}

// Found reports whether any account matched.
func (m Match) Found() bool {
	return m.Index >= 0
}

// FindBestMatch returns the stored account that most strongly matches id.
//
// Ties at the best rank go to the account with the largest updatedAt; among
// equal timestamps the earliest index wins, so the result is stable for a
// fixed input. Accounts with rank 0 never match.
func FindBestMatch(accounts []StoredAccount, id identity.Identity) Match {
	best := Match{Index: -1}
	for i, acc := range accounts {
		rank := identity.Rank(acc.Identity(), id)
		if rank == identity.RankNone {
			continue
		}
		switch {
		case rank > best.Rank:
			best = Match{Index: i, Rank: rank, Count: 1}
		case rank == best.Rank:
			best.Count++
			if acc.UpdatedAt > accounts[best.Index].UpdatedAt {
				best.Index = i
			}
		}
	}
	return best
}
