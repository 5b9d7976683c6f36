package identity

import "strings"

// unknownEmail is the placeholder older stores wrote when a credential carried
// no usable email.
const unknownEmail = "unknown"

// NormalizeID trims an identifier. Blank input yields "" (absent).
func NormalizeID(v string) string {
	return strings.TrimSpace(v)
}

// NormalizeEmail lower-cases and trims an email address. It returns "" for
// blank input, for the "unknown" placeholder, and for anything without an '@'.
func NormalizeEmail(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, unknownEmail) || !strings.Contains(v, "@") {
		return ""
	}
	return strings.ToLower(v)
}
