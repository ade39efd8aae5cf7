package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: a uniqueness rule rejected the write
//   - ErrAlreadyUsed: the write was already applied (idempotent replay)
//   - ErrInvalidState: row is in the wrong state for the requested mutation
//   - ErrUnavailable: backing store temporarily unreachable
//
// Validation failures (bad input, missing fields) use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
