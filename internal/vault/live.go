package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

// AuthFileName is the credential file Codex reads from its home directory.
const AuthFileName = "auth.json"

// CodexHome returns $CODEX_HOME, defaulting to ~/.codex.
func CodexHome() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".codex"
	}
	return filepath.Join(homeDir, ".codex")
}

// LiveAuth is Codex's own auth.json.
type LiveAuth struct {
	path string
}

var _ account.CurrentCredential = (*LiveAuth)(nil)

// NewLiveAuth returns the auth.json inside codexHome. An empty codexHome
// means CodexHome().
func NewLiveAuth(codexHome string) *LiveAuth {
	if codexHome == "" {
		codexHome = CodexHome()
	}
	return &LiveAuth{path: filepath.Join(codexHome, AuthFileName)}
}

// Path returns the location of auth.json.
func (l *LiveAuth) Path() string {
	return l.path
}

// Read returns the live credential, or an error wrapping
// account.ErrCredentialAbsent when Codex is logged out.
func (l *LiveAuth) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", account.ErrCredentialAbsent, l.path)
		}
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", account.ErrCredentialAbsent, l.path)
	}
	return data, nil
}

// Write replaces auth.json atomically so Codex never observes a partial file.
func (l *LiveAuth) Write(ctx context.Context, raw []byte) error {
	return writeSecret(l.path, raw)
}

// Exists reports whether something other than an empty file sits at the
// auth.json path. An empty file counts as logged out, as it does for Read.
func (l *LiveAuth) Exists() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return !info.Mode().IsRegular() || info.Size() > 0
}
