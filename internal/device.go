package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashDevice folds the client signals that identify a browser into one
// stable hex digest. Empty input yields an empty string.
func HashDevice(parts ...string) string {
	var nonEmpty bool
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lower-cases and trims an address for use in keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
