package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the cache key for a payload of the given kind. The payload
// is hashed as-is, so whitespace differences yield different keys.
func Fingerprint(payload string, kind Kind) string {
	h := sha256.New()
	h.Write([]byte(payload))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	return hex.EncodeToString(h.Sum(nil))
}
