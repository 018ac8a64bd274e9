package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash returns the sha256 hex of a canonical trace encoding, or
// "" for empty input.
func ComputeTraceHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
