package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	exclmodels "nser/internal/exclusion/models"
	tokenmodels "nser/internal/token/models"
	id "nser/pkg/domain"
)

// TokenCreator is satisfied by every token store.
type TokenCreator interface {
	Create(ctx context.Context, t *tokenmodels.Token) error
}

// ExclusionCreator is satisfied by every exclusion store.
type ExclusionCreator interface {
	Create(ctx context.Context, r *exclmodels.Record) error
}

// SeedToken stores an active token for a fresh owner. Store tests use it to
// satisfy foreign keys.
func SeedToken(t *testing.T, s TokenCreator) *tokenmodels.Token {
	t.Helper()
	suffix := uuid.NewString()
	tok := &tokenmodels.Token{
		ID:       id.NewTokenID(),
		Value:    "value-" + suffix,
		Version:  2,
		Hash:     "hash-" + suffix,
		Checksum: "0000",
		OwnerRef: "owner-" + suffix,
		Salt:     "salt",
		Status:   tokenmodels.StatusActive,
		IssuedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.Create(context.Background(), tok); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return tok
}

// SeedExclusion stores an active one-year exclusion for tokenID.
func SeedExclusion(t *testing.T, s ExclusionCreator, tokenID id.TokenID) *exclmodels.Record {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	reference := fmt.Sprintf("SE-%s-%s", now.Format("20060102"), uuid.NewString()[:6])
	r, err := exclmodels.NewRecord(id.NewExclusionID(), reference, tokenID, exclmodels.Period1Year, 0, "", now)
	if err != nil {
		t.Fatalf("new exclusion: %v", err)
	}
	r.Activate(now, "system")
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("seed exclusion: %v", err)
	}
	return r
}
