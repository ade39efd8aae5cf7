// Package audit serves investigators' read access to the audit trail.
// Writes never go through here; they go through audit.Trail inside the
// mutating transaction.
package audit

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Reader

import (
	"context"
	"time"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	trail "nser/pkg/platform/audit"
	"nser/pkg/requestcontext"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Reader interface {
	ListByEntity(ctx context.Context, entityType trail.EntityType, entityID string) ([]trail.Entry, error)
	ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]trail.Entry, error)
}

// Query selects either one entity's history or a time window.
type Query struct {
	EntityType trail.EntityType
	EntityID   string
	From       time.Time
	To         time.Time
	Limit      int
}

type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Search runs q. An entity query returns the full history of that entity;
// a window query is bounded by Limit.
func (s *Service) Search(ctx context.Context, q Query) ([]trail.Entry, error) {
	if q.EntityType != "" || q.EntityID != "" {
		if !q.EntityType.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown entity_type "+string(q.EntityType))
		}
		if q.EntityID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "entity_id is required with entity_type")
		}
		entries, err := s.reader.ListByEntity(ctx, q.EntityType, q.EntityID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail")
		}
		return entries, nil
	}

	if q.From.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "either entity_type and entity_id or from is required")
	}
	if q.To.IsZero() {
		q.To = requestcontext.Now(ctx)
	}
	if !q.From.Before(q.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	entries, err := s.reader.ListByTimeRange(ctx, q.From, q.To, q.Limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail")
	}
	return entries, nil
}

// ParseEntityID normalizes an id for entity types keyed by UUID.
// Delivery entries use a composite key and pass through unchanged.
func ParseEntityID(entityType trail.EntityType, raw string) (string, error) {
	var err error
	switch entityType {
	case trail.EntityToken:
		_, err = id.ParseTokenID(raw)
	case trail.EntityExclusion:
		_, err = id.ParseExclusionID(raw)
	case trail.EntityOperator:
		_, err = id.ParseOperatorID(raw)
	case trail.EntityCrossReference:
		_, err = id.ParseCrossReferenceID(raw)
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}
