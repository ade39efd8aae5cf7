//go:build integration

package store_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nser/internal/crossref/models"
	"nser/internal/crossref/store"
	tokenstore "nser/internal/token/store"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/testutil"
	"nser/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	tokens   *tokenstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.tokens = tokenstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "cross_references", "tokens"))
}

func (s *PostgresStoreSuite) newRef(typ models.IdentifierType, hashSeed string, tokenID id.TokenID) *models.CrossReference {
	ref, err := models.NewCrossReference(id.NewCrossReferenceID(), typ, strings.Repeat(hashSeed, 64/len(hashSeed)), tokenID, false,
		time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return ref
}

func (s *PostgresStoreSuite) TestPairIsUnique() {
	ctx := context.Background()
	first := testutil.SeedToken(s.T(), s.tokens)
	second := testutil.SeedToken(s.T(), s.tokens)

	email := s.newRef(models.IdentifierEmail, "ab", first.ID)
	s.Require().NoError(s.store.Create(ctx, email))
	s.ErrorIs(s.store.Create(ctx, s.newRef(models.IdentifierEmail, "ab", second.ID)), sentinel.ErrConflict)

	s.Require().NoError(s.store.Create(ctx, s.newRef(models.IdentifierDevice, "ab", second.ID)),
		"same hash under another type is a different pair")
	found, err := s.store.FindByHashes(ctx, []string{email.IdentifierHash})
	s.Require().NoError(err)
	s.Len(found, 2)
}

func (s *PostgresStoreSuite) TestFindAndUpdate() {
	ctx := context.Background()
	tok := testutil.SeedToken(s.T(), s.tokens)
	phone := s.newRef(models.IdentifierPhone, "cd", tok.ID)
	s.Require().NoError(s.store.Create(ctx, phone))

	got, err := s.store.FindByPair(ctx, models.IdentifierPhone, phone.IdentifierHash)
	s.Require().NoError(err)
	s.Equal(phone.ID, got.ID)
	s.InDelta(phone.ConfidenceScore, got.ConfidenceScore, 1e-9)

	_, err = s.store.FindByPair(ctx, models.IdentifierEmail, phone.IdentifierHash)
	s.ErrorIs(err, sentinel.ErrNotFound)

	got.Verified = true
	s.Require().NoError(s.store.Update(ctx, got))
	again, err := s.store.FindByPair(ctx, models.IdentifierPhone, phone.IdentifierHash)
	s.Require().NoError(err)
	s.True(again.Verified)

	s.ErrorIs(s.store.Update(ctx, s.newRef(models.IdentifierEmail, "ef", tok.ID)), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRelink() {
	ctx := context.Background()
	from := testutil.SeedToken(s.T(), s.tokens)
	to := testutil.SeedToken(s.T(), s.tokens)
	s.Require().NoError(s.store.Create(ctx, s.newRef(models.IdentifierEmail, "ab", from.ID)))
	s.Require().NoError(s.store.Create(ctx, s.newRef(models.IdentifierPhone, "cd", from.ID)))

	n, err := s.store.Relink(ctx, from.ID, to.ID, time.Now())
	s.Require().NoError(err)
	s.Equal(2, n)

	moved, err := s.store.ListByToken(ctx, to.ID)
	s.Require().NoError(err)
	s.Len(moved, 2)
	left, err := s.store.ListByToken(ctx, from.ID)
	s.Require().NoError(err)
	s.Empty(left)
}
