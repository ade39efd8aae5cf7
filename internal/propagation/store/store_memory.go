// Package store persists delivery mappings and the latest notice per
// exclusion. The notice row is the cancellation fence: an attempt whose
// state version no longer matches it is superseded.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"nser/internal/propagation/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

type deliveryKey struct {
	exclusionID id.ExclusionID
	operatorID  id.OperatorID
}

type InMemory struct {
	mu         sync.RWMutex
	deliveries map[deliveryKey]*models.Delivery
	notices    map[id.ExclusionID]*models.Notice
}

func NewInMemory() *InMemory {
	return &InMemory{
		deliveries: make(map[deliveryKey]*models.Delivery),
		notices:    make(map[id.ExclusionID]*models.Notice),
	}
}

// SaveNotice stores n when it is newer than the stored notice and reports
// whether it did.
func (s *InMemory) SaveNotice(ctx context.Context, n models.Notice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.notices[n.ExclusionID]
	if ok && current.StateVersion >= n.StateVersion {
		return false, nil
	}
	stored := n
	s.notices[n.ExclusionID] = &stored
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.notices[n.ExclusionID] != &stored {
			return
		}
		if current == nil {
			delete(s.notices, n.ExclusionID)
			return
		}
		s.notices[n.ExclusionID] = current
	})
	return true, nil
}

func (s *InMemory) LatestNotice(_ context.Context, exclusionID id.ExclusionID) (*models.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notices[exclusionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *n
	return &c, nil
}

// ListNotices pages through every exclusion's latest notice in id order.
func (s *InMemory) ListNotices(_ context.Context, after id.ExclusionID, limit int) ([]*models.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Notice, 0, len(s.notices))
	for exclusionID, n := range s.notices {
		if !after.IsNil() && exclusionID.String() <= after.String() {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExclusionID.String() < out[j].ExclusionID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EnsureForVersion creates the mapping or restarts it for a newer state
// version. It reports whether an attempt is now due.
func (s *InMemory) EnsureForVersion(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, stateVersion, maxRetries int, now time.Time) (*models.Delivery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deliveryKey{exclusionID, operatorID}
	previous, ok := s.deliveries[key]
	var d *models.Delivery
	switch {
	case !ok:
		d = models.NewDelivery(exclusionID, operatorID, stateVersion, maxRetries, now)
	case previous.StateVersion < stateVersion:
		d = copyDelivery(previous)
		d.Restart(stateVersion, maxRetries, now)
	default:
		return copyDelivery(previous), false, nil
	}
	s.deliveries[key] = d
	tx.OnRollback(ctx, func() { s.restore(key, previous, d) })
	return copyDelivery(d), true, nil
}

// restore puts previous back (or removes the mapping when previous is nil)
// unless a later write already replaced written.
func (s *InMemory) restore(key deliveryKey, previous, written *models.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deliveries[key] != written {
		return
	}
	if previous == nil {
		delete(s.deliveries, key)
		return
	}
	s.deliveries[key] = previous
}

func (s *InMemory) FindDelivery(_ context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID) (*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[deliveryKey{exclusionID, operatorID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyDelivery(d), nil
}

func (s *InMemory) ListByExclusion(_ context.Context, exclusionID id.ExclusionID) ([]*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Delivery
	for key, d := range s.deliveries {
		if key.exclusionID == exclusionID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OperatorID.String() < out[j].OperatorID.String()
	})
	return out, nil
}

// ListRecoverable returns mappings awaiting an attempt due by dueBefore and
// in-flight mappings whose attempt started before staleBefore.
func (s *InMemory) ListRecoverable(_ context.Context, dueBefore, staleBefore time.Time, limit int) ([]*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Delivery
	for _, d := range s.deliveries {
		if isRecoverable(d, dueBefore, staleBefore) {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return recoverAt(out[i]).Before(recoverAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isRecoverable(d *models.Delivery, dueBefore, staleBefore time.Time) bool {
	switch d.Status {
	case models.DeliveryPending, models.DeliveryTimeout:
		return d.NextRetryAt != nil && !d.NextRetryAt.After(dueBefore)
	case models.DeliveryNotified:
		return d.LastAttemptAt != nil && d.LastAttemptAt.Before(staleBefore)
	}
	return false
}

func recoverAt(d *models.Delivery) time.Time {
	if d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	if d.LastAttemptAt != nil {
		return *d.LastAttemptAt
	}
	return d.UpdatedAt
}

func (s *InMemory) Execute(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, validate func(*models.Delivery) error, mutate func(*models.Delivery)) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deliveryKey{exclusionID, operatorID}
	d, ok := s.deliveries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := copyDelivery(d)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.deliveries[key] = working
	tx.OnRollback(ctx, func() { s.restore(key, d, working) })
	return copyDelivery(working), nil
}

func copyDelivery(d *models.Delivery) *models.Delivery {
	c := *d
	c.NextRetryAt = copyTime(d.NextRetryAt)
	c.LastAttemptAt = copyTime(d.LastAttemptAt)
	c.AcknowledgedAt = copyTime(d.AcknowledgedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
