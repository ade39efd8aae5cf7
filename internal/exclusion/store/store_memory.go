// Package store persists exclusion records. Records are never deleted.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"nser/internal/exclusion/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

// InMemory keeps records in maps, with the open-record-per-token rule
// enforced on create and on every status change.
type InMemory struct {
	mu          sync.RWMutex
	byID        map[id.ExclusionID]*models.Record
	byReference map[string]id.ExclusionID
	openByToken map[id.TokenID]id.ExclusionID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:        make(map[id.ExclusionID]*models.Record),
		byReference: make(map[string]id.ExclusionID),
		openByToken: make(map[id.TokenID]id.ExclusionID),
	}
}

func (s *InMemory) Create(ctx context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byReference[r.Reference]; ok {
		return sentinel.ErrConflict
	}
	if r.Status.IsOpen() {
		if _, ok := s.openByToken[r.TokenID]; ok {
			return sentinel.ErrConflict
		}
		s.openByToken[r.TokenID] = r.ID
	}
	stored := copyRecord(r)
	s.byID[r.ID] = stored
	s.byReference[r.Reference] = r.ID
	tx.OnRollback(ctx, func() { s.uncreate(stored) })
	return nil
}

func (s *InMemory) uncreate(r *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID[r.ID] != r {
		return
	}
	delete(s.byID, r.ID)
	delete(s.byReference, r.Reference)
	if s.openByToken[r.TokenID] == r.ID {
		delete(s.openByToken, r.TokenID)
	}
}

func (s *InMemory) FindByID(_ context.Context, exclusionID id.ExclusionID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[exclusionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(r), nil
}

func (s *InMemory) FindByReference(_ context.Context, reference string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recordID, ok := s.byReference[reference]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(s.byID[recordID]), nil
}

// FindOpenByToken returns the token's pending or active record.
func (s *InMemory) FindOpenByToken(_ context.Context, tokenID id.TokenID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recordID, ok := s.openByToken[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(s.byID[recordID]), nil
}

// ListByToken returns every record for the token, newest first.
func (s *InMemory) ListByToken(_ context.Context, tokenID id.TokenID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, r := range s.byID {
		if r.TokenID == tokenID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListDue returns active records whose window closed at or before now,
// oldest expiry first.
func (s *InMemory) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, r := range s.byID {
		if r.IsDue(now) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Execute loads the record, runs validate, applies mutate and persists the
// result. validate errors are returned unchanged and nothing is written.
func (s *InMemory) Execute(ctx context.Context, exclusionID id.ExclusionID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[exclusionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := copyRecord(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	if working.Status.IsOpen() {
		if holder, ok := s.openByToken[working.TokenID]; ok && holder != working.ID {
			return nil, sentinel.ErrConflict
		}
	}
	if current.Status.IsOpen() {
		delete(s.openByToken, current.TokenID)
	}
	if working.Status.IsOpen() {
		s.openByToken[working.TokenID] = working.ID
	}
	s.byID[exclusionID] = working
	tx.OnRollback(ctx, func() { s.restore(current, working) })
	return copyRecord(working), nil
}

// restore puts previous back unless a later write already replaced written.
func (s *InMemory) restore(previous, written *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID[previous.ID] != written {
		return
	}
	if written.Status.IsOpen() && s.openByToken[written.TokenID] == written.ID {
		delete(s.openByToken, written.TokenID)
	}
	s.byID[previous.ID] = previous
	if previous.Status.IsOpen() {
		if _, taken := s.openByToken[previous.TokenID]; !taken {
			s.openByToken[previous.TokenID] = previous.ID
		}
	}
}

func copyRecord(r *models.Record) *models.Record {
	c := *r
	if r.ActualEndAt != nil {
		v := *r.ActualEndAt
		c.ActualEndAt = &v
	}
	return &c
}
