// Package fingerprint turns raw visitor fingerprints into keyed digests so
// click evidence can be matched without storing device identifiers.
package fingerprint

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes keyed BLAKE2b-256 digests.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher. Keys longer than the BLAKE2b limit are compressed first.
func NewHasher(key string) *Hasher {
	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum256(k)
		k = sum[:]
	}
	return &Hasher{key: k}
}

// Hash returns the hex digest of the trimmed fingerprint, or "" for blank input.
func (h *Hasher) Hash(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is bounded in NewHasher
		panic(err)
	}
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
