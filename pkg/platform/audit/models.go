// Package audit is the register's append-only trail. Every mutation of a
// token, exclusion record, delivery mapping or cross-reference is written
// through Trail.Record inside the same transaction as the mutation itself.
// Entries are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"time"

	id "nser/pkg/domain"
)

// EventCategory classifies entries by purpose so they can be routed and
// retained differently.
type EventCategory string

const (
	// CategoryCompliance covers entries with legal significance: exclusion
	// lifecycle and operator acknowledgements.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers compromise handling and duplicate detection.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine lifecycle events such as issuance and dispatch.
	CategoryOperations EventCategory = "operations"
)

// EntityType names the kind of row an entry describes.
type EntityType string

const (
	EntityToken          EntityType = "token"
	EntityExclusion      EntityType = "exclusion"
	EntityDelivery       EntityType = "delivery"
	EntityCrossReference EntityType = "cross_reference"
	EntityOperator       EntityType = "operator"
)

func (e EntityType) IsValid() bool {
	switch e {
	case EntityToken, EntityExclusion, EntityDelivery, EntityCrossReference, EntityOperator:
		return true
	}
	return false
}

type Action string

const (
	// Token lifecycle
	ActionTokenGenerated   Action = "token_generated"
	ActionTokenRotated     Action = "token_rotated"
	ActionTokenCompromised Action = "token_compromised"

	// Exclusion lifecycle
	ActionExclusionRegistered    Action = "exclusion_registered"
	ActionExclusionActivated     Action = "exclusion_activated"
	ActionExclusionRenewed       Action = "exclusion_renewed"
	ActionExclusionTerminated    Action = "exclusion_terminated"
	ActionExclusionExpired       Action = "exclusion_expired"
	ActionExclusionSuspended     Action = "exclusion_suspended"
	ActionExclusionRevoked       Action = "exclusion_revoked"
	ActionExclusionTokenRelinked Action = "exclusion_token_relinked"

	// Propagation
	ActionDeliveryDispatched   Action = "delivery_dispatched"
	ActionDeliveryAcknowledged Action = "delivery_acknowledged"
	ActionDeliveryFailed       Action = "delivery_failed"
	ActionDeliveryReset        Action = "delivery_reset"

	// Cross-reference index
	ActionCrossRefLinked    Action = "crossref_linked"
	ActionCrossRefRelinked  Action = "crossref_relinked"
	ActionDuplicateDetected Action = "duplicate_detected"

	// Operator directory
	ActionOperatorRegistered     Action = "operator_registered"
	ActionOperatorLicenseChanged Action = "operator_license_changed"
)

var actionCategories = map[Action]EventCategory{
	ActionTokenGenerated:   CategoryOperations,
	ActionTokenRotated:     CategoryOperations,
	ActionTokenCompromised: CategorySecurity,

	ActionExclusionRegistered:    CategoryCompliance,
	ActionExclusionActivated:     CategoryCompliance,
	ActionExclusionRenewed:       CategoryCompliance,
	ActionExclusionTerminated:    CategoryCompliance,
	ActionExclusionExpired:       CategoryCompliance,
	ActionExclusionSuspended:     CategoryCompliance,
	ActionExclusionRevoked:       CategoryCompliance,
	ActionExclusionTokenRelinked: CategoryCompliance,

	ActionDeliveryDispatched:   CategoryOperations,
	ActionDeliveryAcknowledged: CategoryCompliance,
	ActionDeliveryFailed:       CategoryCompliance,
	ActionDeliveryReset:        CategoryCompliance,

	ActionCrossRefLinked:    CategoryOperations,
	ActionCrossRefRelinked:  CategoryOperations,
	ActionDuplicateDetected: CategorySecurity,

	ActionOperatorRegistered:     CategoryOperations,
	ActionOperatorLicenseChanged: CategoryCompliance,
}

// Category returns the category for an action. Unknown actions are
// classified as compliance so they are retained rather than sampled away.
func (a Action) Category() EventCategory {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryCompliance
}

// Entry is one immutable audit record.
type Entry struct {
	ID         id.AuditEntryID `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     Action          `json:"action"`
	Category   EventCategory   `json:"category"`
	Actor      string          `json:"actor"`
	RequestID  string          `json:"request_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Change describes a mutation to be recorded. Before and After are
// snapshots marshalled to JSON; nil means "did not exist" or "not applicable".
type Change struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Reason     string
	Before     any
	After      any
}

// Store persists entries. Implementations only ever insert.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error)
	ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Entry, error)
}
