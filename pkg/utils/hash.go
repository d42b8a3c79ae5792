package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ScanKey hashes a raw paste after normalizing line endings and trailing
// whitespace so identical pastes from different clients share a key.
func ScanKey(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
