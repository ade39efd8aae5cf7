//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nser/internal/exclusion/models"
	"nser/internal/exclusion/store"
	tokenstore "nser/internal/token/store"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/testutil"
	"nser/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	tokens   *tokenstore.PostgresStore
	tx       *tx.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.tokens = tokenstore.NewPostgres(s.postgres.DB)
	s.tx = tx.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(),
		"operator_deliveries", "propagation_notices", "cross_references", "exclusions", "tokens"))
}

func (s *PostgresStoreSuite) TestOneOpenRecordPerToken() {
	ctx := context.Background()
	tok := testutil.SeedToken(s.T(), s.tokens)
	first := testutil.SeedExclusion(s.T(), s.store, tok.ID)

	dup, err := models.NewRecord(id.NewExclusionID(), "SE-20240101-DUPDUP", tok.ID, models.Period6Months, 0, "", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err = s.store.Execute(ctx, first.ID,
		func(r *models.Record) error { return r.CanTerminate() },
		func(r *models.Record) { r.Terminate(now, "admin:lead", "court order") },
	)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, dup), "terminal records free the slot")

	open, err := s.store.FindOpenByToken(ctx, tok.ID)
	s.Require().NoError(err)
	s.Equal(dup.ID, open.ID)

	history, err := s.store.ListByToken(ctx, tok.ID)
	s.Require().NoError(err)
	s.Len(history, 2)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	tok := testutil.SeedToken(s.T(), s.tokens)
	r := testutil.SeedExclusion(s.T(), s.store, tok.ID)

	got, err := s.store.FindByReference(ctx, r.Reference)
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal(models.StatusActive, got.Status)
	s.Equal(models.Period1Year, got.Period)
	s.Equal(r.StateVersion, got.StateVersion)
	s.True(r.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.store.FindByID(ctx, id.NewExclusionID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRelinkMovesVersion() {
	ctx := context.Background()
	old := testutil.SeedToken(s.T(), s.tokens)
	next := testutil.SeedToken(s.T(), s.tokens)
	r := testutil.SeedExclusion(s.T(), s.store, old.ID)

	updated, err := s.store.Execute(ctx, r.ID,
		func(*models.Record) error { return nil },
		func(r *models.Record) { r.RelinkToken(next.ID, time.Now().UTC(), "system") },
	)
	s.Require().NoError(err)
	s.Equal(r.StateVersion+1, updated.StateVersion)

	open, err := s.store.FindOpenByToken(ctx, next.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, open.ID)
	_, err = s.store.FindOpenByToken(ctx, old.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListDueOrdersByExpiry() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	var ids []id.ExclusionID
	for _, days := range []int{10, 3, 30} {
		tok := testutil.SeedToken(s.T(), s.tokens)
		r, err := models.NewRecord(id.NewExclusionID(), "SE-20240101-"+tok.ID.String()[:6], tok.ID, models.PeriodCustom, days, "", base)
		s.Require().NoError(err)
		r.Activate(base, "system")
		s.Require().NoError(s.store.Create(ctx, r))
		ids = append(ids, r.ID)
	}

	due, err := s.store.ListDue(ctx, base.AddDate(0, 0, 11), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal(ids[1], due[0].ID)
	s.Equal(ids[0], due[1].ID)
}

func (s *PostgresStoreSuite) TestConcurrentExecuteAppliesOnce() {
	ctx := context.Background()
	tok := testutil.SeedToken(s.T(), s.tokens)
	r := testutil.SeedExclusion(s.T(), s.store, tok.ID)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
				_, err := s.store.Execute(txCtx, r.ID,
					func(r *models.Record) error { return r.CanRevoke() },
					func(r *models.Record) { r.Revoke(time.Now().UTC(), "admin", "fraud") },
				)
				return err
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, succeeded.Load())

	got, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal(r.StateVersion+1, got.StateVersion)
}
