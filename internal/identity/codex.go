package identity

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errNoToken = errors.New("no id token in credential")

// ErrMalformedCredential is wrapped by decode errors for input that is not a
// JSON object, and so cannot be a Codex auth.json at all.
var ErrMalformedCredential = errors.New("credential is not a JSON object")

// codexAuth is the subset of Codex's auth.json this package reads.
// Key spellings vary across Codex releases, so lookups go through a raw map.
type codexAuth map[string]interface{}

func parseCodexAuth(raw []byte) (codexAuth, error) {
	var auth codexAuth
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if auth == nil {
		return nil, ErrMalformedCredential
	}
	return auth, nil
}

func (a codexAuth) tokens() map[string]interface{} {
	tokens, _ := a["tokens"].(map[string]interface{})
	return tokens
}

// tokenCandidates lists the JWTs present in the credential, best first.
// The id token carries the profile claims; access tokens are a fallback for
// files written by older Codex versions.
func (a codexAuth) tokenCandidates() []string {
	tokens := a.tokens()

	var out []string
	add := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range out {
			if existing == v {
				return
			}
		}
		out = append(out, v)
	}

	add(stringFromMap(tokens, "id_token"))
	add(stringFromMap(tokens, "idToken"))
	add(stringFromMap(a, "id_token"))
	add(stringFromMap(a, "idToken"))
	add(stringFromMap(tokens, "access_token"))
	add(stringFromMap(tokens, "accessToken"))
	add(stringFromMap(a, "access_token"))
	add(stringFromMap(a, "accessToken"))
	return out
}

func (a codexAuth) accountID() string {
	if id := stringFromMap(a.tokens(), "account_id"); id != "" {
		return id
	}
	if id := stringFromMap(a.tokens(), "accountId"); id != "" {
		return id
	}
	return stringFromMap(a, "account_id")
}

// RawAccountID returns the account id stored next to the tokens in a Codex
// credential without decoding any JWT. It returns "" when the credential is
// not JSON or carries no account id.
func RawAccountID(raw []byte) string {
	auth, err := parseCodexAuth(raw)
	if err != nil {
		return ""
	}
	return NormalizeID(auth.accountID())
}

func stringFromMap(values map[string]interface{}, key string) string {
	if values == nil {
		return ""
	}
	value, ok := values[key]
	if !ok {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return ""
}
