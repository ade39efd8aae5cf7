package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"nser/internal/lookup/cache"
	"nser/internal/token/crypto"
	"nser/internal/token/models"
	"nser/internal/token/service/mocks"
	"nser/internal/token/store"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	auditmemory "nser/pkg/platform/audit/store/memory"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	store      *store.InMemory
	auditStore *auditmemory.InMemoryStore
	cache      *cache.Memory
	generator  *crypto.Generator
	service    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	gen, err := crypto.NewGenerator([]byte("test-key-0123456789"), crypto.DefaultPrefix)
	s.Require().NoError(err)
	s.generator = gen
	s.store = store.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.cache = cache.NewMemory()
	s.service = New(s.store, tx.NewInMemory(), gen, audit.NewTrail(s.auditStore),
		WithCache(s.cache, 30*time.Second),
	)
	s.ctx = requestcontext.WithActor(context.Background(), "admin:test")
}

func (s *ServiceSuite) TestIssue() {
	s.Run("issues an active token and audits it", func() {
		tok, err := s.service.Issue(s.ctx, "citizen:1001")
		s.Require().NoError(err)

		s.Equal(models.StatusActive, tok.Status)
		s.True(s.generator.ValidateFormat(tok.Value))
		s.True(strings.HasPrefix(tok.Value, "BST-02-"))
		s.NotEmpty(tok.Salt)
		s.Equal(1, s.auditStore.CountAction(audit.EntityToken, tok.ID.String(), audit.ActionTokenGenerated))
	})

	s.Run("second issue for the same owner conflicts", func() {
		_, err := s.service.Issue(s.ctx, "citizen:1001")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("raw identity data is rejected as owner ref", func() {
		for _, owner := range []string{"", "jane@example.com", "+44 7700 900123", "free text name"} {
			_, err := s.service.Issue(s.ctx, owner)
			s.Require().Error(err, owner)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), owner)
		}
	})

	s.Run("tokens for different owners never share a value", func() {
		a, err := s.service.Issue(s.ctx, "citizen:2001")
		s.Require().NoError(err)
		b, err := s.service.Issue(s.ctx, "citizen:2002")
		s.Require().NoError(err)
		s.NotEqual(a.Value, b.Value)
		s.NotEqual(a.Hash, b.Hash)
	})
}

func (s *ServiceSuite) TestGetOrIssue() {
	first, created, err := s.service.GetOrIssue(s.ctx, "citizen:3001")
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.service.GetOrIssue(s.ctx, "citizen:3001")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)
}

func (s *ServiceSuite) TestValidate() {
	tok, err := s.service.Issue(s.ctx, "citizen:4001")
	s.Require().NoError(err)

	s.Run("active token is valid", func() {
		res, err := s.service.Validate(s.ctx, tok.Value)
		s.Require().NoError(err)
		s.True(res.Valid)
		s.True(res.Found)
		s.False(res.IsCompromised)
		s.False(res.IsExpired)
		s.Equal(tok.ID, res.TokenID)
		s.Equal("citizen:4001", res.OwnerRef)
	})

	s.Run("well-formed unknown token is a negative result, not an error", func() {
		out, err := s.generator.Generate(crypto.Input{OwnerMaterial: "nobody", Salt: "s", Nonce: "n", Timestamp: time.Now()})
		s.Require().NoError(err)

		res, err := s.service.Validate(s.ctx, out.Value)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.False(res.Found)
	})

	s.Run("malformed value is a format error", func() {
		_, err := s.service.Validate(s.ctx, "BST-02-NOTHEX-0000")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidFormat))
	})
}

func (s *ServiceSuite) TestValidate_AlteredChecksumNeverReachesStore() {
	ctrl := gomock.NewController(s.T())
	mockStore := mocks.NewMockStore(ctrl)
	svc := New(mockStore, tx.NewInMemory(), s.generator, mocks.NewMockAuditRecorder(ctrl))

	out, err := s.generator.Generate(crypto.Input{OwnerMaterial: "citizen:5001", Salt: "a", Nonce: "b", Timestamp: time.Now()})
	s.Require().NoError(err)

	altered := []byte(out.Value)
	last := len(altered) - 1
	if altered[last] == '9' {
		altered[last] = '0'
	} else {
		altered[last]++
	}

	// mockStore has no expectations: any store call fails the test.
	res, err := svc.Validate(s.ctx, string(altered))
	s.Require().Error(err)
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidFormat))
	s.Equal("checksum mismatch", dErrors.MessageOf(err))
}

func (s *ServiceSuite) TestRotate() {
	tok, err := s.service.Issue(s.ctx, "citizen:6001")
	s.Require().NoError(err)
	// warm the cache with the soon to be retired token
	_, err = s.service.Validate(s.ctx, tok.Value)
	s.Require().NoError(err)

	next, err := s.service.Rotate(s.ctx, tok.ID, "scheduled")
	s.Require().NoError(err)

	s.Run("successor links back to the retired token", func() {
		s.Require().NotNil(next.PredecessorID)
		s.Equal(tok.ID, *next.PredecessorID)
		s.Equal(1, next.RotationCount)
		s.NotEqual(tok.Value, next.Value)
		s.Equal(tok.OwnerRef, next.OwnerRef)
	})

	s.Run("old token is revoked and reported as expired", func() {
		res, err := s.service.Validate(s.ctx, tok.Value)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.True(res.IsExpired)
		s.Equal(models.StatusRevoked, res.Status)
	})

	s.Run("exactly one active token for the owner", func() {
		active, err := s.store.FindActiveByOwner(s.ctx, tok.OwnerRef)
		s.Require().NoError(err)
		s.Equal(next.ID, active.ID)
	})

	s.Run("rotation is audited on the retired token", func() {
		s.Equal(1, s.auditStore.CountAction(audit.EntityToken, tok.ID.String(), audit.ActionTokenRotated))
		s.Equal(1, s.auditStore.CountAction(audit.EntityToken, next.ID.String(), audit.ActionTokenGenerated))
	})

	s.Run("rotating a terminal token signals already terminal", func() {
		_, err := s.service.Rotate(s.ctx, tok.ID, "again")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
	})

	s.Run("lineage and successor follow the chain", func() {
		third, err := s.service.Rotate(s.ctx, next.ID, "")
		s.Require().NoError(err)

		chain, err := s.service.Lineage(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Require().Len(chain, 3)
		s.Equal(third.ID, chain[0].ID)
		s.Equal(next.ID, chain[1].ID)
		s.Equal(tok.ID, chain[2].ID)

		current, err := s.service.Successor(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Equal(third.ID, current.ID)
	})

	s.Run("unknown token is not found", func() {
		_, err := s.service.Rotate(s.ctx, id.NewTokenID(), "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestCompromise_ThenLookupOldValue() {
	tok, err := s.service.Issue(s.ctx, "citizen:7001")
	s.Require().NoError(err)
	_, err = s.service.Validate(s.ctx, tok.Value)
	s.Require().NoError(err)

	result, err := s.service.Compromise(s.ctx, tok.ID, "credential leak reported", true)
	s.Require().NoError(err)
	s.Require().NotNil(result.Replacement)

	res, current, err := s.service.ResolveValue(s.ctx, tok.Value)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.True(res.IsCompromised)
	s.False(res.IsExpired)

	s.Equal(result.Replacement.ID, current.ID)
	s.Equal(models.StatusActive, current.Status)
	s.NotEqual(tok.Value, current.Value)

	s.Equal(1, s.auditStore.CountAction(audit.EntityToken, tok.ID.String(), audit.ActionTokenCompromised))
}

// staleReadStore returns the row it read before running onRead, like a
// store read that loses the race with a concurrent status change.
type staleReadStore struct {
	*store.InMemory
	onRead func()
}

func (r *staleReadStore) FindByHash(ctx context.Context, hash string) (*models.Token, error) {
	t, err := r.InMemory.FindByHash(ctx, hash)
	if r.onRead != nil {
		fn := r.onRead
		r.onRead = nil
		fn()
	}
	return t, err
}

func (s *ServiceSuite) TestCompromise_RacingValidationIsNotCached() {
	st := &staleReadStore{InMemory: s.store}
	svc := New(st, tx.NewInMemory(), s.generator, audit.NewTrail(s.auditStore),
		WithCache(s.cache, 30*time.Second),
	)
	tok, err := svc.Issue(s.ctx, "citizen:7004")
	s.Require().NoError(err)

	st.onRead = func() {
		_, err := svc.Compromise(s.ctx, tok.ID, "credential leak reported", false)
		s.Require().NoError(err)
	}
	res, err := svc.Validate(s.ctx, tok.Value)
	s.Require().NoError(err)
	s.True(res.Valid, "the first validation read the row before the compromise")

	res, err = svc.Validate(s.ctx, tok.Value)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.True(res.IsCompromised)
}

func (s *ServiceSuite) TestCompromise_WithoutRotation() {
	tok, err := s.service.Issue(s.ctx, "citizen:7002")
	s.Require().NoError(err)

	result, err := s.service.Compromise(s.ctx, tok.ID, "lost device", false)
	s.Require().NoError(err)
	s.Nil(result.Replacement)
	s.Equal(models.StatusCompromised, result.Compromised.Status)

	s.Run("reason is required", func() {
		other, err := s.service.Issue(s.ctx, "citizen:7003")
		s.Require().NoError(err)
		_, err = s.service.Compromise(s.ctx, other.ID, "  ", false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("second compromise is already terminal", func() {
		_, err := s.service.Compromise(s.ctx, tok.ID, "again", true)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
	})
}

func (s *ServiceSuite) TestRotationListeners() {
	ctrl := gomock.NewController(s.T())
	listener := mocks.NewMockRotationListener(ctrl)
	s.service.AddRotationListener(listener)

	tok, err := s.service.Issue(s.ctx, "citizen:8001")
	s.Require().NoError(err)

	listener.EXPECT().OnTokenRotated(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event models.RotationEvent) error {
			s.Equal(tok.ID, event.Old.ID)
			s.Equal(models.StatusRevoked, event.Old.Status)
			s.Equal(models.StatusActive, event.New.Status)
			return errors.New("listener down")
		})

	_, err = s.service.Rotate(s.ctx, tok.ID, "policy")
	s.Require().NoError(err, "listener failures do not undo a committed rotation")
}

func (s *ServiceSuite) TestAuditFailureRejectsIssuance() {
	ctrl := gomock.NewController(s.T())
	auditor := mocks.NewMockAuditRecorder(ctrl)
	auditor.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("audit store unavailable"))

	svc := New(s.store, tx.NewInMemory(), s.generator, auditor)
	_, err := svc.Issue(s.ctx, "citizen:9001")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.store.FindActiveByOwner(s.ctx, "citizen:9001")
	s.ErrorIs(err, sentinel.ErrNotFound, "the unaudited token must not persist")

	issued, err := s.service.Issue(s.ctx, "citizen:9001")
	s.Require().NoError(err, "the owner can be issued a token once the audit store recovers")
	s.Equal(models.StatusActive, issued.Status)
}

func (s *ServiceSuite) TestAuditFailureRollsBackCompromise() {
	tok, err := s.service.Issue(s.ctx, "citizen:9002")
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	auditor := mocks.NewMockAuditRecorder(ctrl)
	auditor.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("audit store unavailable")).AnyTimes()

	svc := New(s.store, tx.NewInMemory(), s.generator, auditor)
	_, err = svc.Compromise(s.ctx, tok.ID, "credential leak reported", true)
	s.Require().Error(err)

	stored, err := s.store.FindByID(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, stored.Status)
	_, err = s.store.FindSuccessor(s.ctx, tok.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	active, err := s.store.FindActiveByOwner(s.ctx, "citizen:9002")
	s.Require().NoError(err)
	s.Equal(tok.ID, active.ID)
}
