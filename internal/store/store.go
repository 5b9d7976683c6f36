// Package store persists the accounts blob as a single JSON file.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

// FileName is the default name of the accounts file.
const FileName = "accounts.json"

// FileStore reads and writes accounts.json.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

var _ account.ConfigStore = (*FileStore)(nil)

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the accounts file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the accounts file. A missing or empty file yields
// account.ErrStoreNotFound; malformed JSON yields an error wrapping
// account.ErrStoreCorrupt.
func (s *FileStore) Load(ctx context.Context) (*account.LegacyStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, account.ErrStoreNotFound
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, account.ErrStoreNotFound
	}

	var legacy account.LegacyStore
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", account.ErrStoreCorrupt, s.path, err)
	}
	return &legacy, nil
}

// Save writes the accounts file atomically with mode 0600.
func (s *FileStore) Save(ctx context.Context, st *account.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("chmod accounts file: %w", err)
	}
	return nil
}
