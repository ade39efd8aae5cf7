package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"nser/internal/operator/models"
	"nser/internal/operator/service/mocks"
	"nser/internal/operator/store"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	auditmemory "nser/pkg/platform/audit/store/memory"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	auditStore *auditmemory.InMemoryStore
	tokens     *AccessTokens
	service    *Service
	ctx        context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.auditStore = auditmemory.NewInMemoryStore()
	s.tokens = NewAccessTokens("operator-signing-key", "nser", "nser-operator-api", time.Minute)
	s.service = New(store.NewInMemory(), tx.NewInMemory(), audit.NewTrail(s.auditStore), WithAccessTokens(s.tokens))
	s.ctx = requestcontext.WithActor(context.Background(), "admin:officer")
}

func (s *ServiceSuite) register(clientID string) *Registration {
	reg, err := s.service.Register(s.ctx, RegisterCommand{
		Name:          "Operator " + clientID,
		LicenseNumber: "LIC-" + clientID,
		Endpoint:      "https://" + clientID + ".example/notices",
		ClientID:      clientID,
	})
	s.Require().NoError(err)
	return reg
}

func (s *ServiceSuite) TestRegister() {
	reg := s.register("acme-bet")
	s.NotEmpty(reg.APIKey)
	s.NotEmpty(reg.DeliverySecret)
	s.NotEqual(reg.APIKey, reg.Operator.APIKeyHash)
	s.Equal(1, s.auditStore.CountAction(audit.EntityOperator, reg.Operator.ID.String(), audit.ActionOperatorRegistered))

	s.Run("duplicate client id", func() {
		_, err := s.service.Register(s.ctx, RegisterCommand{
			Name:          "Copycat",
			LicenseNumber: "LIC-2",
			Endpoint:      "https://copycat.example",
			ClientID:      "ACME-BET",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid endpoint", func() {
		_, err := s.service.Register(s.ctx, RegisterCommand{
			Name:          "Broken",
			LicenseNumber: "LIC-3",
			Endpoint:      "not a url",
			ClientID:      "broken",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestListActiveExcludesUnlicensed() {
	a := s.register("alpha")
	b := s.register("bravo")

	_, err := s.service.ChangeLicense(s.ctx, b.Operator.ID, models.LicenseSuspended, "unpaid levy")
	s.Require().NoError(err)
	s.Equal(1, s.auditStore.CountAction(audit.EntityOperator, b.Operator.ID.String(), audit.ActionOperatorLicenseChanged))

	active, err := s.service.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(a.Operator.ID, active[0].ID)

	all, err := s.service.List(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)

	_, err = s.service.ChangeLicense(s.ctx, b.Operator.ID, models.LicenseSuspended, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.ChangeLicense(s.ctx, id.NewOperatorID(), models.LicenseRevoked, "x")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAccessTokenExchange() {
	reg := s.register("acme-bet")

	token, err := s.service.IssueAccessToken(s.ctx, "acme-bet", reg.APIKey)
	s.Require().NoError(err)
	s.Equal("Bearer", token.TokenType)
	s.Equal(60, token.ExpiresIn)

	operatorID, err := s.service.ValidateAccessToken(s.ctx, token.AccessToken)
	s.Require().NoError(err)
	s.Equal(reg.Operator.ID, operatorID)

	s.Run("wrong key and unknown client look the same", func() {
		_, err := s.service.IssueAccessToken(s.ctx, "acme-bet", "wrong")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.service.IssueAccessToken(s.ctx, "nobody", reg.APIKey)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("suspended operators cannot authenticate", func() {
		_, err := s.service.ChangeLicense(s.ctx, reg.Operator.ID, models.LicenseSuspended, "audit")
		s.Require().NoError(err)
		_, err = s.service.IssueAccessToken(s.ctx, "acme-bet", reg.APIKey)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("tokens from another key are rejected", func() {
		other := NewAccessTokens("another-key", "nser", "nser-operator-api", time.Minute)
		forged, err := other.Issue(reg.Operator, time.Now())
		s.Require().NoError(err)
		_, err = s.service.ValidateAccessToken(s.ctx, forged.AccessToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("expired tokens are rejected", func() {
		stale, err := s.tokens.Issue(reg.Operator, time.Now().Add(-2*time.Minute))
		s.Require().NoError(err)
		_, err = s.service.ValidateAccessToken(s.ctx, stale.AccessToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestSeedIsIdempotent() {
	f, err := ParseSeed([]byte(`
operators:
  - name: Acme Bet
    license_number: LIC-0001
    client_id: acme-bet
    endpoint: https://acme.example/notices
    api_key: dev-key
    delivery_secret: dev-secret
    metadata:
      region: north
  - name: Lucky Spin
    license_number: LIC-0002
    client_id: lucky-spin
    endpoint: https://lucky.example/notices
    api_key: dev-key-2
    delivery_secret: dev-secret-2
`))
	s.Require().NoError(err)

	created, err := s.service.Seed(s.ctx, f)
	s.Require().NoError(err)
	s.Equal(2, created)

	created, err = s.service.Seed(s.ctx, f)
	s.Require().NoError(err)
	s.Equal(0, created)

	op, err := s.service.Authenticate(s.ctx, "acme-bet", "dev-key")
	s.Require().NoError(err)
	s.Equal("dev-secret", op.DeliverySecret)
	s.Equal("north", op.Metadata["region"])
}

func (s *ServiceSuite) TestParseSeedRequiresCredentials() {
	_, err := ParseSeed([]byte("operators:\n  - name: X\n    client_id: x-op\n"))
	s.Error(err)
}

func TestStoreFailureIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().ListActive(gomock.Any()).Return(nil, errors.New("connection reset"))

	svc := New(st, tx.NewInMemory(), audit.NewTrail(auditmemory.NewInMemoryStore()))
	_, err := svc.ListActive(context.Background())
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

type recordingListener struct {
	licensed []id.OperatorID
}

func (l *recordingListener) OnOperatorLicensed(_ context.Context, op *models.Operator) {
	l.licensed = append(l.licensed, op.ID)
}

func (s *ServiceSuite) TestLicenseListenerSeesNewlyLicensedOperators() {
	listener := &recordingListener{}
	s.service = New(store.NewInMemory(), tx.NewInMemory(), audit.NewTrail(s.auditStore), WithLicenseListener(listener))

	reg := s.register("charlie")
	s.Equal([]id.OperatorID{reg.Operator.ID}, listener.licensed)

	_, err := s.service.ChangeLicense(s.ctx, reg.Operator.ID, models.LicenseSuspended, "investigation")
	s.Require().NoError(err)
	s.Len(listener.licensed, 1, "suspension is not a licensing event")

	_, err = s.service.ChangeLicense(s.ctx, reg.Operator.ID, models.LicenseActive, "cleared")
	s.Require().NoError(err)
	s.Equal([]id.OperatorID{reg.Operator.ID, reg.Operator.ID}, listener.licensed)
}
