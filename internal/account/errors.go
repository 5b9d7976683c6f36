package account

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAccountIdentity is returned by Add when a credential yields an
	// identity too weak to deduplicate on and the caller did not opt in.
	ErrMissingAccountIdentity = errors.New("credential has no usable account identity (need a user id or email)")

	// ErrAccountNotFound is returned for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAmbiguousAccount is returned when a reference matches several accounts.
	ErrAmbiguousAccount = errors.New("account reference is ambiguous")

	// ErrStoreNotFound is returned by a ConfigStore that has nothing persisted yet.
	ErrStoreNotFound = errors.New("accounts store not found")

	// ErrStoreCorrupt is returned by a ConfigStore whose persisted blob is malformed.
	ErrStoreCorrupt = errors.New("accounts store is corrupt")

	// ErrCredentialAbsent is returned when a credential does not exist.
	ErrCredentialAbsent = errors.New("credential not found")

	errNotLoaded = errors.New("repository not loaded")
)

// CredentialIOError wraps a failure of the credential collaborators.
type CredentialIOError struct {
	Op  string // "save", "load", "delete", "read-current", "write-current"
	ID  string // account id, empty for the current credential
	Err error
}

func (e *CredentialIOError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("credential %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *CredentialIOError) Unwrap() error {
	return e.Err
}

func credentialErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &CredentialIOError{Op: op, ID: id, Err: err}
}
