package security

import (
	"crypto/sha256"
	"crypto/subtle"
)

// APIKeyEqual reports whether provided matches the configured device API key.
// Both sides are hashed first so the comparison time does not depend on their lengths.
func APIKeyEqual(provided, expected string) bool {
	if expected == "" {
		return false
	}
	p := sha256.Sum256([]byte(provided))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}
