package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	audit "nser/pkg/platform/audit"
	"nser/pkg/platform/tx"
)

type entityKey struct {
	entityType audit.EntityType
	entityID   string
}

// InMemoryStore keeps entries in insertion order with a per-entity index.
// Appends made inside an in-memory transaction are withdrawn if it fails.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  []audit.Entry
	seqs     []uint64
	nextSeq  uint64
	byEntity map[entityKey][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byEntity: make(map[entityKey][]int)}
}

func (s *InMemoryStore) Append(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{entry.EntityType, entry.EntityID}
	s.byEntity[key] = append(s.byEntity[key], len(s.entries))
	s.entries = append(s.entries, entry)
	s.nextSeq++
	seq := s.nextSeq
	s.seqs = append(s.seqs, seq)
	tx.OnRollback(ctx, func() { s.withdraw(seq) })
	return nil
}

func (s *InMemoryStore) withdraw(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.seqs) - 1; i >= 0; i-- {
		if s.seqs[i] != seq {
			continue
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		s.seqs = append(s.seqs[:i], s.seqs[i+1:]...)
		s.byEntity = make(map[entityKey][]int, len(s.byEntity))
		for j, e := range s.entries {
			key := entityKey{e.EntityType, e.EntityID}
			s.byEntity[key] = append(s.byEntity[key], j)
		}
		return
	}
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType audit.EntityType, entityID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byEntity[entityKey{entityType, entityID}]
	out := make([]audit.Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *InMemoryStore) ListByTimeRange(_ context.Context, from, to time.Time, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAll returns every entry in insertion order. Test helper.
func (s *InMemoryStore) ListAll() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.entries...)
}

// CountAction counts entries with the given action for one entity. Test helper.
func (s *InMemoryStore) CountAction(entityType audit.EntityType, entityID string, action audit.Action) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, i := range s.byEntity[entityKey{entityType, entityID}] {
		if s.entries[i].Action == action {
			n++
		}
	}
	return n
}
