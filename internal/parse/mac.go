// Package parse holds small input-normalization helpers.
package parse

import (
	"strings"

	"airsense-backend/internal/apperr"
)

// NormalizeMAC canonicalizes a MAC address to 12 uppercase hex digits,
// accepting any mix of ":", "-", "." separators, whitespace and casing.
// Rejects anything that does not reduce to exactly 12 hex characters.
func NormalizeMAC(raw string) (string, error) {
	var b strings.Builder
	b.Grow(12)
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'f':
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'F':
			b.WriteRune(r)
		case r == ':' || r == '-' || r == '.' || r == ' ':
			// separator, skip
		default:
			return "", apperr.Validationf("invalid MAC address %q", raw)
		}
	}
	mac := b.String()
	if len(mac) != 12 {
		return "", apperr.Validationf("invalid MAC address %q", raw)
	}
	return mac, nil
}
