package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decoder turns a raw credential into a profile.
type Decoder interface {
	Decode(raw []byte) (Profile, error)
}

// Claim namespaces used by OpenAI id tokens.
const (
	authClaim    = "https://api.openai.com/auth"
	profileClaim = "https://api.openai.com/profile"
)

var errInvalidJWT = errors.New("invalid jwt")

// JWTDecoder decodes Codex credentials by reading the claims of their id
// token. Signatures are not verified; the token is only used as a source of
// identity fields and is never trusted for authorization.
type JWTDecoder struct{}

// Decode implements Decoder.
func (JWTDecoder) Decode(raw []byte) (Profile, error) {
	auth, err := parseCodexAuth(raw)
	if err != nil {
		return Profile{}, &DecodeError{Err: fmt.Errorf("parse codex auth.json: %w", err)}
	}

	candidates := auth.tokenCandidates()
	if len(candidates) == 0 {
		return Profile{}, &DecodeError{Err: errNoToken}
	}

	var lastErr error
	for _, token := range candidates {
		claims, err := parseClaims(token)
		if err != nil {
			lastErr = err
			continue
		}
		p := profileFromClaims(claims)
		if p.AccountID == "" {
			p.AccountID = auth.accountID()
		}
		return p.Normalized(), nil
	}
	return Profile{}, &DecodeError{Err: lastErr}
}

// CredentialExpiry returns when the access token of a credential expires.
// It falls back to the other tokens when no access token carries an exp claim.
func CredentialExpiry(raw []byte) (time.Time, bool) {
	auth, err := parseCodexAuth(raw)
	if err != nil {
		return time.Time{}, false
	}
	tokens := []string{
		stringFromMap(auth.tokens(), "access_token"),
		stringFromMap(auth, "access_token"),
	}
	tokens = append(tokens, auth.tokenCandidates()...)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		claims, err := parseClaims(token)
		if err != nil {
			continue
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			continue
		}
		return exp.UTC(), true
	}
	return time.Time{}, false
}

func parseClaims(token string) (jwt.MapClaims, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 parts", errInvalidJWT)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJWT, err)
	}
	return claims, nil
}

func profileFromClaims(claims jwt.MapClaims) Profile {
	auth, _ := claims[authClaim].(map[string]interface{})
	prof, _ := claims[profileClaim].(map[string]interface{})

	p := Profile{
		Email:     extractEmailClaim(claims, prof),
		AccountID: firstString(auth, "chatgpt_account_id", "account_id"),
		UserID:    firstString(auth, "chatgpt_user_id", "user_id"),
		PlanType:  ParsePlanType(firstString(auth, "chatgpt_plan_type", "plan_type")),
	}
	if p.AccountID == "" {
		p.AccountID = firstString(claims, "account_id", "accountId")
	}
	if p.UserID == "" {
		p.UserID = firstString(claims, "user_id", "userId")
	}
	if auth == nil || firstString(auth, "chatgpt_plan_type", "plan_type") == "" {
		p.PlanType = ParsePlanType(firstString(claims, "plan_type", "planType", "plan"))
	}
	p.SubscriptionActiveUntil = subscriptionEnd(auth["chatgpt_subscription_active_until"])
	p.Organizations = extractOrganizations(auth["organizations"])
	return p
}

func extractEmailClaim(claims jwt.MapClaims, prof map[string]interface{}) string {
	if email := firstString(claims, "email"); email != "" {
		return email
	}
	if email := firstString(prof, "email"); email != "" {
		return email
	}
	for _, field := range []string{"preferred_username", "upn", "sub"} {
		if value := valueAsString(claims[field]); strings.Contains(value, "@") {
			return value
		}
	}
	return ""
}

// subscriptionEnd accepts either an RFC 3339 string or unix seconds.
func subscriptionEnd(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC().Format(time.RFC3339)
		}
		return v
	case float64:
		return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

func extractOrganizations(raw interface{}) []Organization {
	items, _ := raw.([]interface{})
	orgs := make([]Organization, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		org := Organization{
			ID:    firstString(m, "id"),
			Title: firstString(m, "title", "name"),
			Role:  firstString(m, "role"),
		}
		org.IsDefault, _ = m["is_default"].(bool)
		if org.ID == "" {
			continue
		}
		orgs = append(orgs, org)
	}
	return orgs
}

func firstString(values map[string]interface{}, keys ...string) string {
	if values == nil {
		return ""
	}
	for _, key := range keys {
		if value := valueAsString(values[key]); value != "" {
			return value
		}
	}
	return ""
}

func valueAsString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
