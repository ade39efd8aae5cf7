package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "nser/pkg/platform/audit"
	"nser/pkg/platform/audit/store/memory"
	"nser/pkg/requestcontext"
)

type failingStore struct{ audit.Store }

func (failingStore) Append(context.Context, audit.Entry) error { return errors.New("disk full") }

func TestTrail_Record(t *testing.T) {
	store := memory.NewInMemoryStore()
	trail := audit.NewTrail(store)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithActor(ctx, "admin:officer-1")
	ctx = requestcontext.WithRequestID(ctx, "req-9")

	err := trail.Record(ctx, audit.Change{
		EntityType: audit.EntityExclusion,
		EntityID:   "ex-1",
		Action:     audit.ActionExclusionActivated,
		Reason:     "self request",
		Before:     map[string]string{"status": "pending"},
		After:      map[string]string{"status": "active"},
	})
	require.NoError(t, err)

	entries, err := trail.ListByEntity(ctx, audit.EntityExclusion, "ex-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.CategoryCompliance, e.Category)
	assert.Equal(t, "admin:officer-1", e.Actor)
	assert.Equal(t, "req-9", e.RequestID)
	assert.Equal(t, now, e.OccurredAt)

	var before, after map[string]string
	require.NoError(t, json.Unmarshal(e.Before, &before))
	require.NoError(t, json.Unmarshal(e.After, &after))
	assert.Equal(t, "pending", before["status"])
	assert.Equal(t, "active", after["status"])
}

func TestTrail_FailsClosed(t *testing.T) {
	trail := audit.NewTrail(failingStore{})
	err := trail.Record(context.Background(), audit.Change{
		EntityType: audit.EntityToken,
		EntityID:   "tok-1",
		Action:     audit.ActionTokenGenerated,
	})
	require.Error(t, err)
}

func TestTrail_RejectsIncompleteChange(t *testing.T) {
	trail := audit.NewTrail(memory.NewInMemoryStore())
	require.Error(t, trail.Record(context.Background(), audit.Change{Action: audit.ActionTokenGenerated}))
}

func TestInMemoryStore_TimeRange(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.Append(context.Background(), audit.Entry{
			EntityType: audit.EntityToken,
			EntityID:   "t",
			Action:     audit.ActionTokenGenerated,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := store.ListByTimeRange(context.Background(), base.Add(time.Hour), base.Add(4*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = store.ListByTimeRange(context.Background(), base, base.Add(24*time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, base, got[0].OccurredAt)
}

func TestActionCategory(t *testing.T) {
	assert.Equal(t, audit.CategorySecurity, audit.ActionTokenCompromised.Category())
	assert.Equal(t, audit.CategorySecurity, audit.ActionDuplicateDetected.Category())
	assert.Equal(t, audit.CategoryOperations, audit.ActionDeliveryDispatched.Category())
	assert.Equal(t, audit.CategoryCompliance, audit.Action("unknown").Category())
}
