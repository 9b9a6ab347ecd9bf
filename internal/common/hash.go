package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// EmailHash returns a short stable fingerprint of an email for logs and metric-safe keys.
func EmailHash(email string) string {
	if email == "" {
		return ""
	}
	return Sha256Hex(NormalizeEmail(email))[:16]
}
