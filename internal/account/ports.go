package account

import (
	"context"
	"time"
)

// ConfigStore persists the accounts blob.
type ConfigStore interface {
	// Load returns the persisted store, ErrStoreNotFound when nothing has been
	// saved yet, or an error wrapping ErrStoreCorrupt for malformed data.
	Load(ctx context.Context) (*LegacyStore, error)
	Save(ctx context.Context, s *Store) error
}

// CredentialStore keeps one secret credential per stored account id.
type CredentialStore interface {
	Save(ctx context.Context, id string, secret []byte) error
	// Load returns an error wrapping ErrCredentialAbsent for unknown ids.
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// CurrentCredential is Codex's single live credential file.
type CurrentCredential interface {
	// Read returns an error wrapping ErrCredentialAbsent when there is no
	// live credential.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, raw []byte) error
}

// Event types emitted to a Recorder.
const (
	EventAdd          = "add"
	EventMerge        = "merge"
	EventSwitch       = "switch"
	EventRemove       = "remove"
	EventRename       = "rename"
	EventSyncActivate = "sync_activate"
	EventSyncClear    = "sync_clear"
	EventMigrate      = "migrate"
)

// Event describes a state change for the activity history.
type Event struct {
	Timestamp time.Time
	Type      string
	AccountID string
	Alias     string
	Details   map[string]any
}

// Recorder receives activity events. Recording failures never fail the
// operation that produced the event.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}
