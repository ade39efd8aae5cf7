package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Dispatcher,ComplianceReader,EventPublisher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nser/internal/events"
	exclmetrics "nser/internal/exclusion/metrics"
	"nser/internal/exclusion/models"
	"nser/internal/lookup/cache"
	propmodels "nser/internal/propagation/models"
	tokenmodels "nser/internal/token/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

const (
	maxReasonLength   = 500
	referenceAttempts = 5
	defaultSweepBatch = 200
)

type Store interface {
	Create(ctx context.Context, r *models.Record) error
	FindByID(ctx context.Context, exclusionID id.ExclusionID) (*models.Record, error)
	FindByReference(ctx context.Context, reference string) (*models.Record, error)
	FindOpenByToken(ctx context.Context, tokenID id.TokenID) (*models.Record, error)
	ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.Record, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Record, error)
	Execute(ctx context.Context, exclusionID id.ExclusionID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
}

// TokenService resolves and lazily issues the pseudonymous identity an
// exclusion is registered against.
type TokenService interface {
	GetOrIssue(ctx context.Context, ownerRef string) (*tokenmodels.Token, bool, error)
	Get(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, change audit.Change) error
}

// Dispatcher hands a committed state to the propagation engine. It must
// return quickly; delivery happens asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, notice propmodels.Notice) error
}

type ComplianceReader interface {
	Summary(ctx context.Context, exclusionID id.ExclusionID, stateVersion int) (*propmodels.ComplianceSummary, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.StateChanged)
}

// Service runs the exclusion state machine. Each transition commits with
// its audit entry; propagation, cache invalidation and events follow the
// commit and never roll it back.
type Service struct {
	store      Store
	tokens     TokenService
	tx         tx.Runner
	auditor    AuditRecorder
	dispatcher Dispatcher
	compliance ComplianceReader
	publisher  EventPublisher
	cache      cache.Cache
	logger     *slog.Logger
	metrics    *exclmetrics.Metrics
	sweepBatch int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *exclmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func WithComplianceReader(c ComplianceReader) Option {
	return func(s *Service) {
		s.compliance = c
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithCache enables invalidation of lookup entries tagged with the token.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func New(records Store, tokens TokenService, txRunner tx.Runner, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:      records,
		tokens:     tokens,
		tx:         txRunner,
		auditor:    auditor,
		sweepBatch: defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterCommand carries a registration request.
type RegisterCommand struct {
	OwnerRef   string
	Period     models.Period
	CustomDays int
	Reason     string
	// Activate starts the exclusion immediately. When false the record waits
	// in pending for an external approval step.
	Activate bool
}

// Register creates an exclusion against the owner's token, issuing the
// token on first use. A token with an open exclusion is a conflict.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*models.Exclusion, error) {
	if _, err := cmd.Period.Days(cmd.CustomDays); err != nil {
		return nil, err
	}
	reason, err := normalizeReason(cmd.Reason, false)
	if err != nil {
		return nil, err
	}

	var changes []change
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		token, _, err := s.tokens.GetOrIssue(ctx, cmd.OwnerRef)
		if err != nil {
			return err
		}
		if err := s.ensureNoOpenRecord(ctx, token.ID, id.ExclusionID{}); err != nil {
			return err
		}

		reference, err := s.newReference(ctx, now)
		if err != nil {
			return err
		}
		record, err := models.NewRecord(id.NewExclusionID(), reference, token.ID, cmd.Period, cmd.CustomDays, reason, now)
		if err != nil {
			return err
		}
		record.ChangedBy = requestcontext.Actor(ctx)
		if err := s.store.Create(ctx, record); err != nil {
			return wrapStoreErr(err, "failed to create exclusion")
		}
		if err := s.recordChange(ctx, audit.ActionExclusionRegistered, reason, nil, record); err != nil {
			return err
		}
		changes = append(changes, change{action: audit.ActionExclusionRegistered, record: record})

		if !cmd.Activate {
			return nil
		}
		activated, err := s.applyInTx(ctx, record.ID, audit.ActionExclusionActivated, "",
			func(r *models.Record) error { return r.CanActivate() },
			func(r *models.Record) { r.Activate(now, requestcontext.Actor(ctx)) },
		)
		if err != nil {
			return err
		}
		changes = append(changes, *activated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, changes...)
	return s.view(ctx, changes[len(changes)-1].record), nil
}

// Get returns the current view of a record. A record whose window closed
// is settled first so the enforcement flag is never stale.
func (s *Service) Get(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error) {
	r, err := s.store.FindByID(ctx, exclusionID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load exclusion")
	}
	r, err = s.settleIfDue(ctx, r)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, r), nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (*models.Exclusion, error) {
	r, err := s.store.FindByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load exclusion")
	}
	r, err = s.settleIfDue(ctx, r)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, r), nil
}

// ListByToken returns the token's full exclusion history, newest first.
func (s *Service) ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.Exclusion, error) {
	records, err := s.store.ListByToken(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list exclusions")
	}
	out := make([]*models.Exclusion, 0, len(records))
	for _, r := range records {
		r, err = s.settleIfDue(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, s.view(ctx, r))
	}
	return out, nil
}

// Primary returns the token's open record, or a not-found error when the
// token is not currently excluded.
func (s *Service) Primary(ctx context.Context, tokenID id.TokenID) (*models.Exclusion, error) {
	r, err := s.store.FindOpenByToken(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load exclusion")
	}
	r, err = s.settleIfDue(ctx, r)
	if err != nil {
		return nil, err
	}
	if !r.Status.IsOpen() {
		return nil, dErrors.New(dErrors.CodeNotFound, "exclusion not found")
	}
	return s.view(ctx, r), nil
}

func (s *Service) ensureNoOpenRecord(ctx context.Context, tokenID id.TokenID, self id.ExclusionID) error {
	open, err := s.store.FindOpenByToken(ctx, tokenID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open exclusions")
	}
	if open.ID == self {
		return nil
	}
	return dErrors.New(dErrors.CodeConflict, "token already has an open exclusion "+open.Reference)
}

func (s *Service) view(ctx context.Context, r *models.Record) *models.Exclusion {
	var summary *propmodels.ComplianceSummary
	if s.compliance != nil {
		var err error
		summary, err = s.compliance.Summary(ctx, r.ID, r.StateVersion)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load compliance summary",
				"exclusion_id", r.ID,
				"error", err,
			)
		}
	}
	return models.NewExclusion(r, requestcontext.Now(ctx), summary)
}

func (s *Service) recordChange(ctx context.Context, action audit.Action, reason string, before, after *models.Record) error {
	change := audit.Change{
		EntityType: audit.EntityExclusion,
		EntityID:   after.ID.String(),
		Action:     action,
		Reason:     reason,
		After:      after,
	}
	if before != nil {
		change.Before = before
	}
	if err := s.auditor.Record(ctx, change); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit exclusion change")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, tokenIDs ...id.TokenID) {
	if s.cache == nil {
		return
	}
	for _, tokenID := range tokenIDs {
		if err := s.cache.InvalidateTag(ctx, cache.TokenTag(tokenID)); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to invalidate lookup cache",
				"token_id", tokenID,
				"error", err,
			)
		}
	}
}

func normalizeReason(reason string, required bool) (string, error) {
	reason = strings.TrimSpace(reason)
	if required && reason == "" {
		return "", dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(reason) > maxReasonLength {
		return "", dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return reason, nil
}

// wrapStoreErr translates store sentinels. Transition rule violations
// become conflicts.
func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "exclusion not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "token already has an open exclusion")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
