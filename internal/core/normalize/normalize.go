// Package normalize canonicalizes identifiers (logins, repository names) before they are
// compared, hashed or written into SQL text
// Pipeline order
// 1 Sanitize: drop controls and invalid UTF-8
// 2 Unicode NFC (canonical composition, case and width preserved)
// 3 Trim surrounding whitespace
package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Identity returns the canonical form of a login or repository name.
// Case is preserved: repository names are case-significant for display and the
// mapping keeps what the archive recorded.
func Identity(s string) string {
	if s == "" {
		return ""
	}
	s = Sanitize(s)
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return strings.TrimSpace(s)
}

// Fold returns the case-insensitive comparison key for an identity
func Fold(s string) string {
	return strings.ToLower(Identity(s))
}

// Truncate clips s to at most max bytes on a rune boundary
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
