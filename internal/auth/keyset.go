package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/lo"
)

// KeySet holds SHA-256 digests of accepted keys.
//
// SHA-256 is adequate here because keys are high-entropy secrets, not
// passwords. Every digest is compared on each lookup so timing does not
// reveal which key matched.
type KeySet struct {
	hashes [][32]byte
}

// NewKeySet hashes keys. Empty and duplicate keys are dropped.
func NewKeySet(keys []string) *KeySet {
	keys = lo.Uniq(lo.Compact(keys))
	return &KeySet{
		hashes: lo.Map(keys, func(k string, _ int) [32]byte {
			return sha256.Sum256([]byte(k)) // #nosec G401 -- high-entropy API keys
		}),
	}
}

// Len returns the number of accepted keys.
func (s *KeySet) Len() int {
	return len(s.hashes)
}

// Match reports whether provided is an accepted key and returns a short
// identifier for logs.
func (s *KeySet) Match(provided string) (string, bool) {
	if provided == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(provided)) // #nosec G401 -- high-entropy API keys

	matched := 0
	for i := range s.hashes {
		matched |= subtle.ConstantTimeCompare(sum[:], s.hashes[i][:])
	}
	if matched != 1 {
		return "", false
	}
	return KeyID(provided), true
}

// KeyID returns the first 8 hex characters of the key's digest.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key)) // #nosec G401 -- high-entropy API keys
	return hex.EncodeToString(sum[:4])
}
