// Package domain holds the typed identifiers shared across the register.
//
// Each identifier is a distinct named UUID type so a token id can never be
// passed where an exclusion id is expected. Parsing happens once at the trust
// boundary (handlers, store scans); everything inside works with typed values.
package domain

import (
	"github.com/google/uuid"

	dErrors "nser/pkg/domain-errors"
)

type (
	TokenID          uuid.UUID
	ExclusionID      uuid.UUID
	OperatorID       uuid.UUID
	CrossReferenceID uuid.UUID
	AuditEntryID     uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return parsed, nil
}

// ParseTokenID parses a token identifier, rejecting empty, malformed and nil UUIDs.
func ParseTokenID(s string) (TokenID, error) {
	u, err := parseUUID(s, "token id")
	return TokenID(u), err
}

func ParseExclusionID(s string) (ExclusionID, error) {
	u, err := parseUUID(s, "exclusion id")
	return ExclusionID(u), err
}

func ParseOperatorID(s string) (OperatorID, error) {
	u, err := parseUUID(s, "operator id")
	return OperatorID(u), err
}

func ParseCrossReferenceID(s string) (CrossReferenceID, error) {
	u, err := parseUUID(s, "cross reference id")
	return CrossReferenceID(u), err
}

func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

func NewTokenID() TokenID                   { return TokenID(uuid.New()) }
func NewExclusionID() ExclusionID           { return ExclusionID(uuid.New()) }
func NewOperatorID() OperatorID             { return OperatorID(uuid.New()) }
func NewCrossReferenceID() CrossReferenceID { return CrossReferenceID(uuid.New()) }
func NewAuditEntryID() AuditEntryID         { return AuditEntryID(uuid.New()) }

func (id TokenID) String() string          { return uuid.UUID(id).String() }
func (id ExclusionID) String() string      { return uuid.UUID(id).String() }
func (id OperatorID) String() string       { return uuid.UUID(id).String() }
func (id CrossReferenceID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string     { return uuid.UUID(id).String() }

func (id TokenID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ExclusionID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id OperatorID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CrossReferenceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
