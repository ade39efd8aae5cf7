package models

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

// IdentifierType names a secondary identifier that can be linked to a token.
type IdentifierType string

const (
	IdentifierPhone      IdentifierType = "phone"
	IdentifierEmail      IdentifierType = "email"
	IdentifierNationalID IdentifierType = "national_id"
	IdentifierDevice     IdentifierType = "device"
)

func (t IdentifierType) IsValid() bool {
	switch t {
	case IdentifierPhone, IdentifierEmail, IdentifierNationalID, IdentifierDevice:
		return true
	}
	return false
}

// Weight is how strongly a shared identifier of this type suggests that two
// tokens belong to the same person.
func (t IdentifierType) Weight() float64 {
	switch t {
	case IdentifierNationalID:
		return 0.95
	case IdentifierPhone:
		return 0.75
	case IdentifierEmail:
		return 0.65
	case IdentifierDevice:
		return 0.4
	}
	return 0
}

var (
	phoneDigits  = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const maxIdentifierLength = 256

// Normalize canonicalizes a raw identifier so that formatting differences
// hash to the same value.
func Normalize(t IdentifierType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeValidation, "identifier value is required")
	}
	if len(raw) > maxIdentifierLength {
		return "", dErrors.New(dErrors.CodeValidation, "identifier value is too long")
	}

	switch t {
	case IdentifierEmail:
		v := strings.ToLower(raw)
		if !emailPattern.MatchString(v) {
			return "", dErrors.New(dErrors.CodeInvalidFormat, "invalid email address")
		}
		return v, nil
	case IdentifierPhone:
		var b strings.Builder
		for i, r := range raw {
			switch {
			case r == '+' && i == 0:
				b.WriteRune(r)
			case unicode.IsDigit(r):
				b.WriteRune(r)
			case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			default:
				return "", dErrors.New(dErrors.CodeInvalidFormat, "invalid phone number")
			}
		}
		v := b.String()
		if !phoneDigits.MatchString(v) {
			return "", dErrors.New(dErrors.CodeInvalidFormat, "invalid phone number")
		}
		if !strings.HasPrefix(v, "+") {
			v = "+" + v
		}
		return v, nil
	case IdentifierNationalID:
		var b strings.Builder
		for _, r := range strings.ToUpper(raw) {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			return "", dErrors.New(dErrors.CodeInvalidFormat, "invalid national id")
		}
		return b.String(), nil
	case IdentifierDevice:
		return strings.ToLower(raw), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown identifier type")
}

// CrossReference links one hashed identifier to a token.
//
// Invariants:
//   - (IdentifierType, IdentifierHash) is unique
//   - the raw identifier is never stored
//   - ConfidenceScore is within [0, 1]
//   - a pair already linked to another token is flagged, never overwritten
type CrossReference struct {
	ID              id.CrossReferenceID `json:"id"`
	IdentifierType  IdentifierType      `json:"identifier_type"`
	IdentifierHash  string              `json:"identifier_hash"`
	TokenID         id.TokenID          `json:"token_id"`
	ConfidenceScore float64             `json:"confidence_score"`
	Verified        bool                `json:"verified"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func NewCrossReference(refID id.CrossReferenceID, t IdentifierType, hash string, tokenID id.TokenID, verified bool, now time.Time) (*CrossReference, error) {
	if !t.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown identifier type")
	}
	if !IsHash(hash) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identifier hash is malformed")
	}
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token id is required")
	}
	ref := &CrossReference{
		ID:             refID,
		IdentifierType: t,
		IdentifierHash: hash,
		TokenID:        tokenID,
		Verified:       verified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ref.ConfidenceScore = ref.Weight()
	return ref, nil
}

// Weight is the link's contribution to duplicate confidence. Unverified
// links count at half weight.
func (r *CrossReference) Weight() float64 {
	w := r.IdentifierType.Weight()
	if !r.Verified {
		w /= 2
	}
	return w
}

// Verify marks the identifier as confirmed for this token.
func (r *CrossReference) Verify(now time.Time) {
	r.Verified = true
	r.ConfidenceScore = r.Weight()
	r.UpdatedAt = now
}

// Relink points the reference at a rotated token.
func (r *CrossReference) Relink(tokenID id.TokenID, now time.Time) {
	r.TokenID = tokenID
	r.UpdatedAt = now
}

// CombineConfidence treats each weight as independent evidence:
// 1 - Π(1 - w). More matching identifiers always increase the result.
func CombineConfidence(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	miss := 1.0
	for _, w := range weights {
		miss *= 1 - math.Max(0, math.Min(1, w))
	}
	return 1 - miss
}
