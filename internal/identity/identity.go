// Package identity derives comparable account identities from Codex credentials.
//
// A credential (the contents of Codex's auth.json) is decoded into a Profile,
// and the Profile is reduced to an Identity: the normalized
// {account id, user id, email} triple used for matching stored accounts
// against each other and against whatever credential Codex currently has live.
package identity

import (
	"errors"
	"fmt"
)

// Identity is the normalized triple used purely for matching.
// The empty string is the absent value for every field.
type Identity struct {
	AccountID string `json:"accountId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
}

// New builds an Identity from raw field values, normalizing each one.
func New(accountID, userID, email string) Identity {
	return Identity{
		AccountID: NormalizeID(accountID),
		UserID:    NormalizeID(userID),
		Email:     NormalizeEmail(email),
	}
}

// IsEmpty reports whether all three fields are absent.
func (id Identity) IsEmpty() bool {
	return id.AccountID == "" && id.UserID == "" && id.Email == ""
}

// IsInsufficient reports whether the identity lacks both a user id and an
// email. An account-id-only identity is too weak to deduplicate on.
func (id Identity) IsInsufficient() bool {
	return id.UserID == "" && id.Email == ""
}

func (id Identity) String() string {
	return fmt.Sprintf("account_id=%q user_id=%q email=%q", id.AccountID, id.UserID, id.Email)
}

// FromProfile extracts the identity of a decoded profile.
func FromProfile(p Profile) Identity {
	return New(p.AccountID, p.UserID, p.Email)
}

// DecodeError reports that a credential could not be decoded into a profile.
// It is recoverable: FromCredential still returns a fallback identity.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode credential: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FromCredential decodes a raw credential and returns its identity together
// with the profile it came from.
//
// When decoding fails the returned profile is a fallback built from the raw
// account id field of the credential (if any), and the error is a
// *DecodeError. It wraps ErrMalformedCredential when raw is not a JSON
// object, whichever Decoder is used. The identity is still usable; it is just sparse.
func FromCredential(dec Decoder, raw []byte) (Identity, Profile, error) {
	if dec == nil {
		dec = JWTDecoder{}
	}

	p, err := dec.Decode(raw)
	if err != nil {
		fallback := FallbackProfile(raw)
		if _, perr := parseCodexAuth(raw); perr != nil && !errors.Is(err, ErrMalformedCredential) {
			err = fmt.Errorf("%w (%v)", perr, err)
		}
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			decErr = &DecodeError{Err: err}
		}
		return FromProfile(fallback), fallback, decErr
	}

	p = p.Normalized()
	if p.AccountID == "" {
		p.AccountID = NormalizeID(RawAccountID(raw))
	}
	return FromProfile(p), p, nil
}
