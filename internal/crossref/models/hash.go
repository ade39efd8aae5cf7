package models

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const HashLength = 64

// Hasher derives keyed identifier hashes. The type is part of the hashed
// material, so equal values of different types never collide.
type Hasher struct {
	key []byte
}

func NewHasher(key []byte) (*Hasher, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("crossref hash key must be 1-%d bytes", blake2b.Size)
	}
	return &Hasher{key: append([]byte(nil), key...)}, nil
}

// Hash normalizes raw and returns its hex digest.
func (h *Hasher) Hash(t IdentifierType, raw string) (string, error) {
	normalized, err := Normalize(t, raw)
	if err != nil {
		return "", err
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", err
	}
	mac.Write([]byte(t))
	mac.Write([]byte{0})
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// IsHash reports whether s looks like a digest produced by Hash.
func IsHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
