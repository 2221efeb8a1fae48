package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// FileChecksum returns the SHA-256 hex digest of the payload. Used as
// the deduplication key together with the submitting user's id.
func FileChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
