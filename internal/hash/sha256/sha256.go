// Package sha256 computes the SHA-256 fingerprints used for request identity
// and archive object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Hasher produces hex SHA-256 digests of arbitrary payloads.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint hashes an ordered tuple of strings. Each part is length-prefixed
// so ("a|b", "c") and ("a", "b|c") never collide.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
