package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nser/internal/token/models"
	"nser/internal/token/store"
	id "nser/pkg/domain"
)

func TestUsageRecorder_CoalescesAndFlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	tokens := store.NewInMemory()
	tok := &models.Token{
		ID:       id.NewTokenID(),
		Value:    "value",
		Version:  2,
		Hash:     "0123456789ABCDEF0123456789ABCDEF",
		Checksum: "0240",
		OwnerRef: "citizen:1",
		Status:   models.StatusActive,
		IssuedAt: time.Now(),
	}
	require.NoError(t, tokens.Create(ctx, tok))

	recorder := NewUsageRecorder(tokens, WithFlushInterval(time.Hour))
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.True(t, recorder.Record(tok.ID, base.Add(time.Duration(i)*time.Second)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- recorder.Run(runCtx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}

	stored, err := tokens.FindByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.LookupCount)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(base.Add(4*time.Second)))
}

func TestUsageRecorder_FullBufferDrops(t *testing.T) {
	recorder := NewUsageRecorder(store.NewInMemory(), WithUsageBuffer(1))
	tokenID := id.NewTokenID()

	assert.True(t, recorder.Record(tokenID, time.Now()))
	assert.False(t, recorder.Record(tokenID, time.Now()), "a full buffer never blocks the caller")
}
