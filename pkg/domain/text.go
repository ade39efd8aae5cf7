package domain

import "github.com/google/uuid"

// Text marshalling keeps JSON payloads and log attributes in canonical UUID form.

func (id TokenID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *TokenID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ExclusionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *ExclusionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id OperatorID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *OperatorID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CrossReferenceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *CrossReferenceID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AuditEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
