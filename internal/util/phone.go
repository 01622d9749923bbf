package util

import (
	"fmt"
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D`)

// MinPhoneDigits is the shortest number accepted as a recipient.
const MinPhoneDigits = 6

// CanonicalPhone strips transport prefixes ("whatsapp:"), JID suffixes and
// every non-digit, so "whatsapp:+507 6123-4567" becomes "50761234567".
func CanonicalPhone(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	s := strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		// JID device suffix, e.g. "50761234567:12".
		s = s[:i]
	}
	canonical := nonDigits.ReplaceAllString(s, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", raw)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// MustCanonicalPhone is CanonicalPhone for configuration values; invalid
// input yields "".
func MustCanonicalPhone(raw string) string {
	p, err := CanonicalPhone(raw)
	if err != nil {
		return ""
	}
	return p
}

// DisplayPhone renders a canonical number with a leading "+".
func DisplayPhone(canonical string) string {
	if canonical == "" || strings.HasPrefix(canonical, "+") {
		return canonical
	}
	return "+" + canonical
}
