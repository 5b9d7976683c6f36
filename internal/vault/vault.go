// Package vault keeps the per-account Codex credentials and gives access to
// the credential Codex itself reads.
//
// Switching accounts is a file copy: the stored auth.json of the target
// account is written over $CODEX_HOME/auth.json. No login round trip is
// needed.
package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

const secretExt = ".json"

// CredentialVault stores one credential file per account id:
// <dir>/<id>.json, mode 0600.
type CredentialVault struct {
	dir string
}

var _ account.CredentialStore = (*CredentialVault)(nil)

// NewCredentialVault creates a vault rooted at dir. The directory is created
// on first write.
func NewCredentialVault(dir string) *CredentialVault {
	return &CredentialVault{dir: dir}
}

// Dir returns the vault directory.
func (v *CredentialVault) Dir() string {
	return v.dir
}

// Save writes the credential for id atomically.
func (v *CredentialVault) Save(ctx context.Context, id string, secret []byte) error {
	path, err := v.secretPath(id)
	if err != nil {
		return err
	}
	return writeSecret(path, secret)
}

// Load returns the stored credential for id.
func (v *CredentialVault) Load(ctx context.Context, id string) ([]byte, error) {
	path, err := v.secretPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", account.ErrCredentialAbsent, id)
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}
	return data, nil
}

// Delete removes the stored credential for id. Deleting a missing
// credential is not an error.
func (v *CredentialVault) Delete(ctx context.Context, id string) error {
	path, err := v.secretPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// IDs lists the account ids that have a stored credential.
func (v *CredentialVault) IDs() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read vault: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, secretExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, secretExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Holding returns the id whose stored credential is byte-identical to raw.
func (v *CredentialVault) Holding(ctx context.Context, raw []byte) (string, bool, error) {
	ids, err := v.IDs()
	if err != nil {
		return "", false, err
	}
	want := Fingerprint(raw)
	for _, id := range ids {
		data, err := v.Load(ctx, id)
		if err != nil {
			continue
		}
		if Fingerprint(data) == want {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Fingerprint is the hex sha256 of a credential with surrounding whitespace
// removed.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(raw))
	return hex.EncodeToString(sum[:])
}

func (v *CredentialVault) secretPath(id string) (string, error) {
	if strings.TrimSpace(v.dir) == "" {
		return "", fmt.Errorf("vault directory is empty")
	}
	id, err := validateSegment("account id", id)
	if err != nil {
		return "", err
	}

	baseAbs, err := filepath.Abs(v.dir)
	if err != nil {
		return "", fmt.Errorf("vault absolute path: %w", err)
	}
	baseAbs = filepath.Clean(baseAbs)
	full := filepath.Join(baseAbs, id+secretExt)
	if !strings.HasPrefix(full, baseAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("credential path escapes vault directory")
	}
	return full, nil
}

// validateSegment rejects values that are not a single safe path element.
func validateSegment(kind, val string) (string, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return "", fmt.Errorf("%s cannot be empty", kind)
	}
	if val == "." || val == ".." ||
		strings.ContainsRune(val, 0) ||
		strings.ContainsAny(val, "/\\") ||
		filepath.IsAbs(val) || filepath.VolumeName(val) != "" {
		return "", fmt.Errorf("invalid %s: %q", kind, val)
	}
	return val, nil
}

// writeSecret atomically replaces path with data and restricts it to the
// owner.
func writeSecret(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("chmod credential: %w", err)
	}
	return nil
}
