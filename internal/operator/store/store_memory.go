// Package store persists the operator directory.
package store

import (
	"context"
	"sort"
	"sync"

	"nser/internal/operator/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

// InMemory is the development directory, usually filled from the seed file.
type InMemory struct {
	mu         sync.RWMutex
	byID       map[id.OperatorID]*models.Operator
	byClientID map[string]id.OperatorID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:       make(map[id.OperatorID]*models.Operator),
		byClientID: make(map[string]id.OperatorID),
	}
}

func (s *InMemory) Create(ctx context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[op.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byClientID[op.ClientID]; ok {
		return sentinel.ErrConflict
	}
	stored := copyOperator(op)
	s.byID[op.ID] = stored
	s.byClientID[op.ClientID] = op.ID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.byID[stored.ID] == stored {
			delete(s.byID, stored.ID)
			delete(s.byClientID, stored.ClientID)
		}
	})
	return nil
}

func (s *InMemory) FindByID(_ context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.byID[operatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyOperator(op), nil
}

func (s *InMemory) FindByClientID(_ context.Context, clientID string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	operatorID, ok := s.byClientID[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyOperator(s.byID[operatorID]), nil
}

// List returns every operator ordered by name.
func (s *InMemory) List(_ context.Context) ([]*models.Operator, error) {
	return s.collect(func(*models.Operator) bool { return true }), nil
}

func (s *InMemory) ListActive(_ context.Context) ([]*models.Operator, error) {
	return s.collect((*models.Operator).IsLicenseActive), nil
}

func (s *InMemory) collect(keep func(*models.Operator) bool) []*models.Operator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Operator, 0, len(s.byID))
	for _, op := range s.byID {
		if keep(op) {
			out = append(out, copyOperator(op))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *InMemory) Execute(ctx context.Context, operatorID id.OperatorID, validate func(*models.Operator) error, mutate func(*models.Operator)) (*models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.byID[operatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := copyOperator(op)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.byID[operatorID] = working
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.byID[operatorID] == working {
			s.byID[operatorID] = op
		}
	})
	return copyOperator(working), nil
}

func copyOperator(op *models.Operator) *models.Operator {
	c := *op
	if op.Metadata != nil {
		c.Metadata = make(map[string]string, len(op.Metadata))
		for k, v := range op.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
