package identity

import "strings"

// PlanType is the ChatGPT subscription tier attached to a Codex login.
type PlanType string

const (
	PlanFree PlanType = "free"
	PlanPlus PlanType = "plus"
	PlanPro  PlanType = "pro"
	PlanTeam PlanType = "team"
)

// ParsePlanType maps the plan strings found in tokens onto the four tiers.
// Business and enterprise plans are workspace plans and count as team.
func ParsePlanType(s string) PlanType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plus":
		return PlanPlus
	case "pro":
		return PlanPro
	case "team", "business", "enterprise", "edu":
		return PlanTeam
	default:
		return PlanFree
	}
}

// Organization is a workspace membership listed in the id token.
type Organization struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Role      string `json:"role,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// Profile is the durable, user-facing identity of an account.
type Profile struct {
	Email                   string         `json:"email,omitempty"`
	PlanType                PlanType       `json:"planType"`
	AccountID               string         `json:"accountId,omitempty"`
	UserID                  string         `json:"userId,omitempty"`
	SubscriptionActiveUntil string         `json:"subscriptionActiveUntil,omitempty"`
	Organizations           []Organization `json:"organizations"`
}

// Normalized returns a copy with identity fields normalized and the plan and
// organization list filled in.
func (p Profile) Normalized() Profile {
	p.AccountID = NormalizeID(p.AccountID)
	p.UserID = NormalizeID(p.UserID)
	p.Email = NormalizeEmail(p.Email)
	if p.PlanType == "" {
		p.PlanType = PlanFree
	} else {
		p.PlanType = ParsePlanType(string(p.PlanType))
	}
	if p.Organizations == nil {
		p.Organizations = []Organization{}
	}
	return p
}

// FallbackProfile synthesizes a profile for a credential that could not be
// decoded. Only the raw account id survives.
func FallbackProfile(raw []byte) Profile {
	return Profile{
		PlanType:      PlanFree,
		AccountID:     NormalizeID(RawAccountID(raw)),
		Organizations: []Organization{},
	}
}

// EmailLocalPart returns the part of an email before the '@', or "".
func EmailLocalPart(email string) string {
	email = NormalizeEmail(email)
	if email == "" {
		return ""
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
