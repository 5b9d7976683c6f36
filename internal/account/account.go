// Package account owns the stored Codex accounts and keeps their "active"
// flag consistent with the credential Codex actually has live.
//
// The Repository is the in-memory mirror of the accounts store; the Engine
// drives the operations that also touch credentials (add, switch, remove) and
// the reconciliation of the active flag (sync).
package account

import (
	"encoding/json"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
)

// StoreVersion is the schema version written to new stores.
const StoreVersion = "1.0.0"

// TimestampLayout is the zero-padded ISO-8601 form used for createdAt and
// updatedAt. Values in this layout order correctly under string comparison.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads a stored timestamp. Records written by other tools may
// carry any RFC 3339 form.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// UsageSnapshot is the last known quota state of an account.
type UsageSnapshot struct {
	FiveHourPercentLeft   float64  `json:"fiveHourPercentLeft"`
	FiveHourResetTimeMs   int64    `json:"fiveHourResetTimeMs"`
	WeeklyPercentLeft     float64  `json:"weeklyPercentLeft"`
	WeeklyResetTimeMs     int64    `json:"weeklyResetTimeMs"`
	CodeReviewPercentLeft *float64 `json:"codeReviewPercentLeft,omitempty"`
	CodeReviewResetTimeMs *int64   `json:"codeReviewResetTimeMs,omitempty"`
	LastUpdated           string   `json:"lastUpdated"`
	SourceFile            string   `json:"sourceFile,omitempty"`
}

// StoredAccount is one saved Codex login. The secret credential is kept in
// the CredentialStore under ID, never in this record.
type StoredAccount struct {
	ID          string           `json:"id"`
	Alias       string           `json:"alias"`
	AccountInfo identity.Profile `json:"accountInfo"`
	UsageInfo   *UsageSnapshot   `json:"usageInfo,omitempty"`
	IsActive    bool             `json:"isActive"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

// Identity returns the matching identity of the account.
func (a StoredAccount) Identity() identity.Identity {
	return identity.FromProfile(a.AccountInfo)
}

// DisplayName is the alias, falling back to the email and then the id.
func (a StoredAccount) DisplayName() string {
	switch {
	case a.Alias != "":
		return a.Alias
	case a.AccountInfo.Email != "":
		return a.AccountInfo.Email
	default:
		return a.ID
	}
}

func (a StoredAccount) clone() StoredAccount {
	if a.AccountInfo.Organizations != nil {
		orgs := make([]identity.Organization, len(a.AccountInfo.Organizations))
		copy(orgs, a.AccountInfo.Organizations)
		a.AccountInfo.Organizations = orgs
	}
	if a.UsageInfo != nil {
		u := *a.UsageInfo
		if u.CodeReviewPercentLeft != nil {
			v := *u.CodeReviewPercentLeft
			u.CodeReviewPercentLeft = &v
		}
		if u.CodeReviewResetTimeMs != nil {
			v := *u.CodeReviewResetTimeMs
			u.CodeReviewResetTimeMs = &v
		}
		a.UsageInfo = &u
	}
	return a
}

// AppConfig holds the user preferences persisted alongside the accounts.
type AppConfig struct {
	// AutoRefreshInterval is the usage refresh cadence in minutes.
	AutoRefreshInterval int    `json:"autoRefreshInterval"`
	CodexPath           string `json:"codexPath,omitempty"`
	Theme               string `json:"theme"`
	ProxyEnabled        bool   `json:"proxyEnabled"`
	ProxyURL            string `json:"proxyUrl,omitempty"`
}

// DefaultAppConfig returns the preferences of a fresh install.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		AutoRefreshInterval: 30,
		Theme:               "system",
	}
}

// Store is the persisted accounts blob.
type Store struct {
	Version  string          `json:"version"`
	Accounts []StoredAccount `json:"accounts"`
	Config   AppConfig       `json:"config"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Version:  StoreVersion,
		Accounts: []StoredAccount{},
		Config:   DefaultAppConfig(),
	}
}

func (s *Store) clone() *Store {
	out := &Store{
		Version:  s.Version,
		Accounts: make([]StoredAccount, len(s.Accounts)),
		Config:   s.Config,
	}
	for i, a := range s.Accounts {
		out.Accounts[i] = a.clone()
	}
	return out
}

// LegacyAccount is a stored account as it may appear on disk, including the
// embedded credential older versions kept inline.
type LegacyAccount struct {
	StoredAccount
	AuthConfig json.RawMessage `json:"authConfig,omitempty"`
}

// LegacyStore is the on-disk form read by a ConfigStore, before migration.
type LegacyStore struct {
	Version  string          `json:"version"`
	Accounts []LegacyAccount `json:"accounts"`
	Config   *AppConfig      `json:"config,omitempty"`
}
