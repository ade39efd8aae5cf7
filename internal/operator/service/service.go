// Package service is the operator directory: registration, license changes,
// and client-credential authentication for the operator API.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"nser/internal/operator/models"
	"nser/internal/operator/secrets"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, op *models.Operator) error
	FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)
	FindByClientID(ctx context.Context, clientID string) (*models.Operator, error)
	List(ctx context.Context) ([]*models.Operator, error)
	ListActive(ctx context.Context) ([]*models.Operator, error)
	Execute(ctx context.Context, operatorID id.OperatorID, validate func(*models.Operator) error, mutate func(*models.Operator)) (*models.Operator, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, change audit.Change) error
}

// LicenseListener learns about operators that became licensed, either by
// registration or by reinstatement. It is called after commit.
type LicenseListener interface {
	OnOperatorLicensed(ctx context.Context, op *models.Operator)
}

type Service struct {
	store     Store
	tx        tx.Runner
	auditor   AuditRecorder
	tokens    *AccessTokens
	listeners []LicenseListener
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAccessTokens enables the client-credentials exchange.
func WithAccessTokens(t *AccessTokens) Option {
	return func(s *Service) {
		s.tokens = t
	}
}

func WithLicenseListener(l LicenseListener) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, l)
	}
}

func New(store Store, txRunner tx.Runner, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tx:      txRunner,
		auditor: auditor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddLicenseListener registers a listener that itself reads operators
// through this service.
func (s *Service) AddLicenseListener(l LicenseListener) {
	s.listeners = append(s.listeners, l)
}

type RegisterCommand struct {
	Name          string
	LicenseNumber string
	Endpoint      string
	ClientID      string
	Metadata      map[string]string
}

// Registration carries the plaintext credentials. They are returned once and
// the API key is only kept as a hash.
type Registration struct {
	Operator       *models.Operator `json:"operator"`
	APIKey         string           `json:"api_key"`
	DeliverySecret string           `json:"delivery_secret"`
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Registration, error) {
	apiKey, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	deliverySecret, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate delivery secret")
	}
	op, err := s.create(ctx, cmd, apiKey, deliverySecret)
	if err != nil {
		return nil, err
	}
	return &Registration{Operator: op, APIKey: apiKey, DeliverySecret: deliverySecret}, nil
}

func (s *Service) create(ctx context.Context, cmd RegisterCommand, apiKey, deliverySecret string) (*models.Operator, error) {
	hash, err := secrets.Hash(apiKey)
	if err != nil {
		return nil, err
	}
	op, err := models.NewOperator(id.NewOperatorID(), cmd.Name, cmd.LicenseNumber, cmd.Endpoint,
		strings.ToLower(strings.TrimSpace(cmd.ClientID)), hash, deliverySecret, cmd.Metadata, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, op); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "client id already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save operator")
		}
		return s.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityOperator,
			EntityID:   op.ID.String(),
			Action:     audit.ActionOperatorRegistered,
			After:      op,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "operator_registered", op)
	s.notifyLicensed(ctx, op)
	return op, nil
}

func (s *Service) Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load operator")
	}
	return op, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Operator, error) {
	ops, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list operators")
	}
	return ops, nil
}

// ListActive returns the operators that must receive exclusion notices.
func (s *Service) ListActive(ctx context.Context) ([]*models.Operator, error) {
	ops, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active operators")
	}
	return ops, nil
}

// ChangeLicense suspends, reinstates or revokes an operator's license.
// Unlicensed operators stop receiving notices and their pending deliveries
// fail on the next attempt.
func (s *Service) ChangeLicense(ctx context.Context, operatorID id.OperatorID, to models.LicenseStatus, reason string) (*models.Operator, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	var updated *models.Operator
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var before models.Operator
		op, err := s.store.Execute(txCtx, operatorID,
			func(op *models.Operator) error {
				before = *op
				return op.CanChangeLicense(to)
			},
			func(op *models.Operator) { op.ChangeLicense(to, requestcontext.Now(txCtx)) },
		)
		if err != nil {
			return wrapStoreErr(err, "failed to change license")
		}
		updated = op
		return s.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityOperator,
			EntityID:   op.ID.String(),
			Action:     audit.ActionOperatorLicenseChanged,
			Reason:     reason,
			Before:     &before,
			After:      op,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "operator_license_changed", updated)
	if updated.IsLicenseActive() {
		s.notifyLicensed(ctx, updated)
	}
	return updated, nil
}

func (s *Service) notifyLicensed(ctx context.Context, op *models.Operator) {
	for _, l := range s.listeners {
		l.OnOperatorLicensed(requestcontext.Detach(ctx), op)
	}
}

// Authenticate checks client credentials. Unknown clients and wrong keys
// are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, clientID, apiKey string) (*models.Operator, error) {
	op, err := s.store.FindByClientID(ctx, strings.ToLower(strings.TrimSpace(clientID)))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid client credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load operator")
	}
	if err := secrets.Verify(apiKey, op.APIKeyHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid client credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
	}
	if !op.IsLicenseActive() {
		return nil, dErrors.New(dErrors.CodeForbidden, "operator license is "+string(op.LicenseStatus))
	}
	return op, nil
}

// IssueAccessToken exchanges client credentials for a bearer token.
func (s *Service) IssueAccessToken(ctx context.Context, clientID, apiKey string) (*AccessToken, error) {
	if s.tokens == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "operator access tokens are not configured")
	}
	op, err := s.Authenticate(ctx, clientID, apiKey)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "operator token exchange rejected",
				"client_id", clientID,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		return nil, err
	}
	return s.tokens.Issue(op, requestcontext.Now(ctx))
}

// ValidateAccessToken satisfies the operator auth middleware.
func (s *Service) ValidateAccessToken(_ context.Context, token string) (id.OperatorID, error) {
	if s.tokens == nil {
		return id.OperatorID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return id.OperatorID{}, err
	}
	return claims.OperatorID()
}

func (s *Service) logAudit(ctx context.Context, event string, op *models.Operator) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, event,
		"log_type", "audit",
		"operator_id", op.ID,
		"client_id", op.ClientID,
		"license_status", op.LicenseStatus,
		"actor", requestcontext.Actor(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "operator not found")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
