// Package store persists register tokens. Tokens are never deleted; the
// predecessor index makes every rotation chain traversable in both directions.
package store

import (
	"context"
	"sync"
	"time"

	"nser/internal/token/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

// Usage is one coalesced batch of validation hits for a token.
type Usage struct {
	TokenID id.TokenID
	UsedAt  time.Time
	Count   int64
}

// InMemory is a map-backed token arena.
type InMemory struct {
	mu            sync.RWMutex
	byID          map[id.TokenID]*models.Token
	byHash        map[string]id.TokenID
	activeByOwner map[string]id.TokenID
	successorOf   map[id.TokenID]id.TokenID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:          make(map[id.TokenID]*models.Token),
		byHash:        make(map[string]id.TokenID),
		activeByOwner: make(map[string]id.TokenID),
		successorOf:   make(map[id.TokenID]id.TokenID),
	}
}

func (s *InMemory) Create(ctx context.Context, t *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[t.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byHash[t.Hash]; ok {
		return sentinel.ErrConflict
	}
	if t.IsActive() {
		if _, ok := s.activeByOwner[t.OwnerRef]; ok {
			return sentinel.ErrConflict
		}
	}
	if t.PredecessorID != nil {
		if _, ok := s.successorOf[*t.PredecessorID]; ok {
			return sentinel.ErrConflict
		}
		s.successorOf[*t.PredecessorID] = t.ID
	}

	stored := *t
	s.byID[t.ID] = &stored
	s.byHash[t.Hash] = t.ID
	if t.IsActive() {
		s.activeByOwner[t.OwnerRef] = t.ID
	}
	tx.OnRollback(ctx, func() { s.uncreate(&stored) })
	return nil
}

func (s *InMemory) uncreate(t *models.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID[t.ID] != t {
		return
	}
	delete(s.byID, t.ID)
	delete(s.byHash, t.Hash)
	if s.activeByOwner[t.OwnerRef] == t.ID {
		delete(s.activeByOwner, t.OwnerRef)
	}
	if t.PredecessorID != nil && s.successorOf[*t.PredecessorID] == t.ID {
		delete(s.successorOf, *t.PredecessorID)
	}
}

func (s *InMemory) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyToken(t), nil
}

func (s *InMemory) FindByHash(_ context.Context, hash string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyToken(s.byID[tokenID]), nil
}

func (s *InMemory) FindActiveByOwner(_ context.Context, ownerRef string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.activeByOwner[ownerRef]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyToken(s.byID[tokenID]), nil
}

func (s *InMemory) FindSuccessor(_ context.Context, predecessorID id.TokenID) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next, ok := s.successorOf[predecessorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyToken(s.byID[next]), nil
}

// Execute loads the token, runs validate, applies mutate and persists the
// result. validate errors are returned unchanged and nothing is written.
func (s *InMemory) Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Token) error, mutate func(*models.Token)) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := copyToken(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	if current.IsActive() && !working.IsActive() {
		delete(s.activeByOwner, current.OwnerRef)
	}
	s.byID[tokenID] = working
	tx.OnRollback(ctx, func() { s.restore(current, working) })
	return copyToken(working), nil
}

// restore puts previous back unless a later write already replaced written.
func (s *InMemory) restore(previous, written *models.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID[previous.ID] != written {
		return
	}
	s.byID[previous.ID] = previous
	if previous.IsActive() {
		if _, taken := s.activeByOwner[previous.OwnerRef]; !taken {
			s.activeByOwner[previous.OwnerRef] = previous.ID
		}
	}
}

// RecordUsage applies validation hit counters. Unknown ids are skipped.
func (s *InMemory) RecordUsage(_ context.Context, usages []Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range usages {
		t, ok := s.byID[u.TokenID]
		if !ok {
			continue
		}
		if t.LastUsedAt == nil || u.UsedAt.After(*t.LastUsedAt) {
			usedAt := u.UsedAt
			t.LastUsedAt = &usedAt
		}
		t.LookupCount += u.Count
	}
	return nil
}

func copyToken(t *models.Token) *models.Token {
	c := *t
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		c.LastUsedAt = &v
	}
	if t.DeactivatedAt != nil {
		v := *t.DeactivatedAt
		c.DeactivatedAt = &v
	}
	if t.PredecessorID != nil {
		v := *t.PredecessorID
		c.PredecessorID = &v
	}
	return &c
}
