package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex sha256 of b, used to address uploads.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
