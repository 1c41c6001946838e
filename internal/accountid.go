package internal

import "strings"

// NormalizeAccountID strips every non-digit character from a raw phone number.
// The result is the canonical account identifier used as the key into the
// connection registry and the session store; two raw inputs that normalize
// identically refer to the same account.
func NormalizeAccountID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := range len(raw) {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsValidAccountID reports whether a normalized account identifier is usable.
func IsValidAccountID(accountID string) bool {
	return accountID != ""
}
