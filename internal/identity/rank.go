package identity

// Match ranks, strongest first.
const (
	RankNone              = 0
	RankAccountID         = 1
	RankEmail             = 2
	RankUserID            = 3
	RankAccountIDAndEmail = 4
	RankAccountIDAndUser  = 5
)

// MinMergeRank is the weakest rank trusted to mean "the same account" when
// adding a credential. Account ids alone get reused across logins, so a
// rank-1 match never overwrites an existing record.
const MinMergeRank = RankEmail

// Rank scores how strongly two identities refer to the same account.
// Rules are checked strongest first and the first one that holds wins.
// Rank is symmetric.
func Rank(a, b Identity) int {
	accountID := a.AccountID != "" && b.AccountID != "" && a.AccountID == b.AccountID
	userID := a.UserID != "" && b.UserID != "" && a.UserID == b.UserID
	email := a.Email != "" && b.Email != "" && a.Email == b.Email

	switch {
	case accountID && userID:
		return RankAccountIDAndUser
	case accountID && email:
		return RankAccountIDAndEmail
	case userID:
		return RankUserID
	case email:
		return RankEmail
	case accountID:
		return RankAccountID
	default:
		return RankNone
	}
}
