// Package store persists cross-references. Only identifier hashes are kept.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"nser/internal/crossref/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

type pairKey struct {
	typ  models.IdentifierType
	hash string
}

type InMemory struct {
	mu     sync.RWMutex
	byID   map[id.CrossReferenceID]*models.CrossReference
	byPair map[pairKey]id.CrossReferenceID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.CrossReferenceID]*models.CrossReference),
		byPair: make(map[pairKey]id.CrossReferenceID),
	}
}

func (s *InMemory) Create(ctx context.Context, ref *models.CrossReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{ref.IdentifierType, ref.IdentifierHash}
	if _, ok := s.byPair[key]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byID[ref.ID]; ok {
		return sentinel.ErrConflict
	}
	c := *ref
	s.byID[ref.ID] = &c
	s.byPair[key] = ref.ID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.byID[c.ID] == &c {
			delete(s.byID, c.ID)
			delete(s.byPair, key)
		}
	})
	return nil
}

func (s *InMemory) FindByPair(_ context.Context, t models.IdentifierType, hash string) (*models.CrossReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refID, ok := s.byPair[pairKey{t, hash}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *s.byID[refID]
	return &c, nil
}

// FindByHashes returns every reference whose hash is in hashes.
func (s *InMemory) FindByHashes(_ context.Context, hashes []string) ([]*models.CrossReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}
	var out []*models.CrossReference
	for _, ref := range s.byID {
		if _, ok := want[ref.IdentifierHash]; ok {
			c := *ref
			out = append(out, &c)
		}
	}
	sortRefs(out)
	return out, nil
}

func (s *InMemory) ListByToken(_ context.Context, tokenID id.TokenID) ([]*models.CrossReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CrossReference
	for _, ref := range s.byID {
		if ref.TokenID == tokenID {
			c := *ref
			out = append(out, &c)
		}
	}
	sortRefs(out)
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, ref *models.CrossReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.byID[ref.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c := *ref
	s.byID[ref.ID] = &c
	tx.OnRollback(ctx, func() { s.restore(previous, &c) })
	return nil
}

// Relink moves every reference of from to to and returns how many moved.
func (s *InMemory) Relink(ctx context.Context, from, to id.TokenID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for refID, ref := range s.byID {
		if ref.TokenID == from {
			c := *ref
			c.Relink(to, now)
			s.byID[refID] = &c
			tx.OnRollback(ctx, func() { s.restore(ref, &c) })
			n++
		}
	}
	return n, nil
}

// restore puts previous back unless a later write already replaced written.
func (s *InMemory) restore(previous, written *models.CrossReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[previous.ID] == written {
		s.byID[previous.ID] = previous
	}
}

func sortRefs(refs []*models.CrossReference) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].IdentifierType != refs[j].IdentifierType {
			return refs[i].IdentifierType < refs[j].IdentifierType
		}
		return refs[i].IdentifierHash < refs[j].IdentifierHash
	})
}
