// Package util holds small helpers shared across partsbot packages:
// phone-number canonicalization, text normalization for phrase matching
// and random identifiers.
package util

import "math/rand/v2"

const hexDigits = "0123456789abcdef"

// GenerateRandomID returns prefix followed by n random hex digits. Test
// transports use it for fake provider message IDs.
func GenerateRandomID(prefix string, n int) string {
	return prefix + GenerateRandomHex(n)
}

// GenerateRandomHex returns n random hex digits. Not for secrets.
func GenerateRandomHex(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[rand.IntN(len(hexDigits))]
	}
	return string(b)
}
