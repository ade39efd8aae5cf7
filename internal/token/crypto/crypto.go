// Package crypto derives pseudonymous register tokens.
//
// A token value has the shape PREFIX-VV-HASH-CCCC, for example
//
//	BST-02-9F86D081884C7D659A2FEAA0C55AD015-0212
//
// HASH is a keyed BLAKE2b digest of the owner material, salt, nonce and
// issuance time, truncated to 32 uppercase hex characters. CCCC is the sum of
// the hash's hex digit values modulo 10000. The checksum only catches typos
// and malformed input before a store round-trip; it carries no security.
//
// Everything in this package is pure apart from RandomHex.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	dErrors "nser/pkg/domain-errors"
)

const (
	DefaultPrefix  = "BST"
	CurrentVersion = 2

	HashLength       = 32
	ChecksumDigits   = 4
	checksumModulus  = 10000
	maxPrefixLength  = 8
	maxOwnerMaterial = 1024
)

// Input is the material a token hash is derived from.
type Input struct {
	OwnerMaterial string
	Salt          string
	Nonce         string
	Timestamp     time.Time
}

// Output is a freshly derived token.
type Output struct {
	Hash     string
	Checksum string
	Value    string
	Version  int
}

// Parsed is a token value split into its segments.
type Parsed struct {
	Prefix   string
	Version  int
	Hash     string
	Checksum string
}

// Generator derives and validates token values for one prefix and key.
type Generator struct {
	key    []byte
	prefix string
}

// NewGenerator builds a generator. key is the BLAKE2b MAC key (at most 64
// bytes); prefix must be 1-8 uppercase ASCII letters.
func NewGenerator(key []byte, prefix string) (*Generator, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("token hash key must be at most %d bytes", blake2b.Size)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if len(prefix) > maxPrefixLength || !isUpperAlpha(prefix) {
		return nil, fmt.Errorf("token prefix %q must be 1-%d uppercase letters", prefix, maxPrefixLength)
	}
	return &Generator{key: append([]byte(nil), key...), prefix: prefix}, nil
}

func (g *Generator) Prefix() string { return g.prefix }

// Generate derives the hash, checksum and value for in.
func (g *Generator) Generate(in Input) (Output, error) {
	if in.OwnerMaterial == "" {
		return Output{}, dErrors.New(dErrors.CodeValidation, "owner material is required")
	}
	if len(in.OwnerMaterial) > maxOwnerMaterial {
		return Output{}, dErrors.New(dErrors.CodeValidation, "owner material too long")
	}
	if in.Salt == "" || in.Nonce == "" {
		return Output{}, dErrors.New(dErrors.CodeValidation, "salt and nonce are required")
	}

	mac, err := blake2b.New256(g.key)
	if err != nil {
		return Output{}, fmt.Errorf("init token hash: %w", err)
	}
	// Length-prefix each field so ("ab","c") and ("a","bc") never collide.
	for _, part := range []string{in.OwnerMaterial, in.Salt, in.Nonce} {
		writeField(mac, []byte(part))
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(in.Timestamp.UTC().UnixNano()))
	writeField(mac, ts[:])

	hash := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))[:HashLength]
	checksum := Checksum(hash)
	return Output{
		Hash:     hash,
		Checksum: checksum,
		Value:    g.format(hash, checksum),
		Version:  CurrentVersion,
	}, nil
}

type writer interface {
	Write(p []byte) (int, error)
}

func writeField(w writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = w.Write(n[:])
	_, _ = w.Write(b)
}

func (g *Generator) format(hash, checksum string) string {
	return fmt.Sprintf("%s-%02d-%s-%s", g.prefix, CurrentVersion, hash, checksum)
}

// ValidateFormat reports whether value is structurally valid for this
// generator and its checksum matches the hash segment.
func (g *Generator) ValidateFormat(value string) bool {
	_, err := g.Parse(value)
	return err == nil
}

// Parse splits and checks a token value. Every failure is an invalid_format
// error; attacker-supplied input never panics.
func (g *Generator) Parse(value string) (Parsed, error) {
	maxLen := len(g.prefix) + 1 + 2 + 1 + HashLength + 1 + ChecksumDigits
	if len(value) != maxLen {
		return Parsed{}, invalidFormat("unexpected token length")
	}
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return Parsed{}, invalidFormat("token must have four segments")
	}
	prefix, versionStr, hash, checksum := parts[0], parts[1], parts[2], parts[3]

	if prefix != g.prefix {
		return Parsed{}, invalidFormat("unknown token prefix")
	}
	if len(versionStr) != 2 || !isDigits(versionStr) {
		return Parsed{}, invalidFormat("version must be two digits")
	}
	version, _ := strconv.Atoi(versionStr)
	if version != CurrentVersion {
		return Parsed{}, invalidFormat("unsupported token version")
	}
	if len(hash) != HashLength || !isUpperHex(hash) {
		return Parsed{}, invalidFormat("hash must be uppercase hex")
	}
	if len(checksum) != ChecksumDigits || !isDigits(checksum) {
		return Parsed{}, invalidFormat("checksum must be four digits")
	}
	if Checksum(hash) != checksum {
		return Parsed{}, invalidFormat("checksum mismatch")
	}
	return Parsed{Prefix: prefix, Version: version, Hash: hash, Checksum: checksum}, nil
}

// Checksum sums the hex digit values of hash modulo 10000, zero padded to
// four digits. Non-hex characters contribute nothing; callers validate first.
func Checksum(hash string) string {
	sum := 0
	for i := 0; i < len(hash); i++ {
		sum += hexValue(hash[i])
	}
	return fmt.Sprintf("%0*d", ChecksumDigits, sum%checksumModulus)
}

// RandomHex returns n random bytes hex encoded, for salts and nonces.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func invalidFormat(msg string) error {
	return dErrors.New(dErrors.CodeInvalidFormat, msg)
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}

func isUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return s != ""
}
