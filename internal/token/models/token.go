package models

import (
	"time"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

// Status is a token's lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompromised Status = "compromised"
	StatusRevoked     Status = "revoked"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompromised, StatusRevoked:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompromised || s == StatusRevoked
}

// Token is a pseudonymous register identity.
//
// Invariants:
//   - Hash and Checksum are fixed at issuance and never recomputed
//   - Status moves only active → revoked (rotation) or active → compromised
//   - A token row is never deleted; rotation always creates a new row
//   - PredecessorID, when set, names the token this one replaced
//   - OwnerRef is an opaque reference, never raw identity data
type Token struct {
	ID                 id.TokenID  `json:"id"`
	Value              string      `json:"value"`
	Version            int         `json:"version"`
	Hash               string      `json:"hash"`
	Checksum           string      `json:"checksum"`
	OwnerRef           string      `json:"owner_ref"`
	Salt               string      `json:"-"`
	Status             Status      `json:"status"`
	IssuedAt           time.Time   `json:"issued_at"`
	LastUsedAt         *time.Time  `json:"last_used_at,omitempty"`
	LookupCount        int64       `json:"lookup_count"`
	PredecessorID      *id.TokenID `json:"predecessor_id,omitempty"`
	RotationCount      int         `json:"rotation_count"`
	DeactivatedAt      *time.Time  `json:"deactivated_at,omitempty"`
	DeactivationReason string      `json:"deactivation_reason,omitempty"`
}

func (t *Token) IsActive() bool {
	return t.Status == StatusActive
}

// CanDeactivate reports whether the token may still be rotated or compromised.
func (t *Token) CanDeactivate() error {
	if t.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeAlreadyTerminal, "token is already "+string(t.Status))
	}
	return nil
}

// ApplyRevocation retires the token because a successor replaced it.
func (t *Token) ApplyRevocation(now time.Time, reason string) {
	t.deactivate(StatusRevoked, now, reason)
}

// ApplyCompromise retires the token as compromised.
func (t *Token) ApplyCompromise(now time.Time, reason string) {
	t.deactivate(StatusCompromised, now, reason)
}

func (t *Token) deactivate(status Status, now time.Time, reason string) {
	t.Status = status
	t.DeactivatedAt = &now
	t.DeactivationReason = reason
}

// Successor builds the row that replaces t. The caller fills in the derived
// cryptographic fields.
func (t *Token) Successor(newID id.TokenID, now time.Time) *Token {
	predecessor := t.ID
	return &Token{
		ID:            newID,
		OwnerRef:      t.OwnerRef,
		Status:        StatusActive,
		IssuedAt:      now,
		PredecessorID: &predecessor,
		RotationCount: t.RotationCount + 1,
	}
}

// ValidationResult is the answer to "is this token value usable".
//
// A well-formed value that matches no token is a normal negative result
// (Found=false), not an error.
type ValidationResult struct {
	Valid         bool       `json:"valid"`
	Found         bool       `json:"found"`
	TokenID       id.TokenID `json:"token_id,omitzero"`
	OwnerRef      string     `json:"-"`
	Status        Status     `json:"status,omitempty"`
	IsCompromised bool       `json:"is_compromised"`
	IsExpired     bool       `json:"is_expired"`
	Reason        string     `json:"reason,omitempty"`
}

// NewValidationResult derives the result for a stored token.
// IsExpired means the token was superseded by rotation.
func NewValidationResult(t *Token) *ValidationResult {
	return &ValidationResult{
		Valid:         t.IsActive(),
		Found:         true,
		TokenID:       t.ID,
		OwnerRef:      t.OwnerRef,
		Status:        t.Status,
		IsCompromised: t.Status == StatusCompromised,
		IsExpired:     t.Status == StatusRevoked,
	}
}

// CompromiseResult reports a compromise and, when auto-rotation ran, the
// replacement token.
type CompromiseResult struct {
	Compromised *Token `json:"compromised"`
	Replacement *Token `json:"replacement,omitempty"`
}

// RotationEvent is handed to rotation listeners after the rotation commits.
type RotationEvent struct {
	Old    *Token
	New    *Token
	Reason string
}
