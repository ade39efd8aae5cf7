package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks AuditRecorder,RotationListener

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"nser/internal/lookup/cache"
	"nser/internal/token/crypto"
	tokenmetrics "nser/internal/token/metrics"
	"nser/internal/token/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

const (
	saltBytes      = 16
	nonceBytes     = 16
	maxLineageHops = 10000
)

// ownerRef must be an opaque reference. Anything resembling an email
// address, a formatted phone number or free text is rejected.
var ownerRefPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

type Store interface {
	Create(ctx context.Context, t *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	FindByHash(ctx context.Context, hash string) (*models.Token, error)
	FindActiveByOwner(ctx context.Context, ownerRef string) (*models.Token, error)
	FindSuccessor(ctx context.Context, predecessorID id.TokenID) (*models.Token, error)
	Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Token) error, mutate func(*models.Token)) (*models.Token, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, change audit.Change) error
}

// RotationListener is told about every committed rotation, including the
// replacement minted by an auto-rotating compromise.
type RotationListener interface {
	OnTokenRotated(ctx context.Context, event models.RotationEvent) error
}

// Service owns the token lifecycle: issuance, validation, rotation and
// compromise. Every mutation runs in one transaction with its audit entry.
type Service struct {
	store     Store
	tx        tx.Runner
	generator *crypto.Generator
	auditor   AuditRecorder
	cache     cache.Cache
	cacheTTL  time.Duration
	usage     *UsageRecorder
	listeners []RotationListener
	logger    *slog.Logger
	metrics   *tokenmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *tokenmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache enables read-through caching of validated tokens.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = cache.ClampTTL(ttl)
	}
}

func WithUsageRecorder(u *UsageRecorder) Option {
	return func(s *Service) {
		s.usage = u
	}
}

func WithRotationListener(l RotationListener) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, l)
	}
}

func New(tokens Store, txRunner tx.Runner, generator *crypto.Generator, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:     tokens,
		tx:        txRunner,
		generator: generator,
		auditor:   auditor,
		cacheTTL:  cache.MaxTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRotationListener registers a listener after construction, for
// components that themselves depend on the token service.
func (s *Service) AddRotationListener(l RotationListener) {
	s.listeners = append(s.listeners, l)
}

// Issue mints the first active token for ownerRef. An owner that already
// holds an active token gets a conflict.
func (s *Service) Issue(ctx context.Context, ownerRef string) (*models.Token, error) {
	ownerRef, err := normalizeOwnerRef(ownerRef)
	if err != nil {
		return nil, err
	}

	var issued *models.Token
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindActiveByOwner(ctx, ownerRef)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing token")
		}
		if existing != nil {
			return dErrors.New(dErrors.CodeConflict, "owner already holds an active token")
		}
		issued, err = s.issue(ctx, ownerRef, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logIssued(ctx, issued)
	return issued, nil
}

// GetOrIssue returns the owner's active token, issuing one on first use.
func (s *Service) GetOrIssue(ctx context.Context, ownerRef string) (*models.Token, bool, error) {
	ownerRef, err := normalizeOwnerRef(ownerRef)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *models.Token
		created bool
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindActiveByOwner(ctx, ownerRef)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active token")
		}
		result, err = s.issue(ctx, ownerRef, nil)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logIssued(ctx, result)
	}
	return result, created, nil
}

// Get returns a token by id.
func (s *Service) Get(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	t, err := s.store.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load token")
	}
	return t, nil
}

// Successor follows the rotation chain from tokenID to its newest token.
// An unrotated token is its own successor.
func (s *Service) Successor(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	current, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return s.latest(ctx, current)
}

// Lineage returns the whole rotation chain that tokenID belongs to, newest first.
func (s *Service) Lineage(ctx context.Context, tokenID id.TokenID) ([]*models.Token, error) {
	newest, err := s.Successor(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	chain := []*models.Token{newest}
	cursor := newest
	for hops := 0; cursor.PredecessorID != nil; hops++ {
		if hops >= maxLineageHops {
			return nil, dErrors.New(dErrors.CodeInternal, "rotation chain exceeds maximum length")
		}
		prev, err := s.store.FindByID(ctx, *cursor.PredecessorID)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to load predecessor")
		}
		chain = append(chain, prev)
		cursor = prev
	}
	return chain, nil
}

func (s *Service) latest(ctx context.Context, t *models.Token) (*models.Token, error) {
	cursor := t
	for hops := 0; ; hops++ {
		if hops >= maxLineageHops {
			return nil, dErrors.New(dErrors.CodeInternal, "rotation chain exceeds maximum length")
		}
		next, err := s.store.FindSuccessor(ctx, cursor.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return cursor, nil
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load successor")
		}
		cursor = next
	}
}

// issue mints, persists and audits a token. Must run inside a transaction.
func (s *Service) issue(ctx context.Context, ownerRef string, predecessor *models.Token) (*models.Token, error) {
	now := requestcontext.Now(ctx)
	var t *models.Token
	if predecessor != nil {
		t = predecessor.Successor(id.NewTokenID(), now)
	} else {
		t = &models.Token{
			ID:       id.NewTokenID(),
			OwnerRef: ownerRef,
			Status:   models.StatusActive,
			IssuedAt: now,
		}
	}

	salt, err := crypto.RandomHex(saltBytes)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate salt")
	}
	nonce, err := crypto.RandomHex(nonceBytes)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}
	out, err := s.generator.Generate(crypto.Input{
		OwnerMaterial: ownerRef,
		Salt:          salt,
		Nonce:         nonce,
		Timestamp:     now,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive token")
	}
	t.Value = out.Value
	t.Version = out.Version
	t.Hash = out.Hash
	t.Checksum = out.Checksum
	t.Salt = salt

	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "token could not be issued: an active token or successor already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist token")
	}

	reason := "issued"
	if predecessor != nil {
		reason = "successor of " + predecessor.ID.String()
	}
	if err := s.auditor.Record(ctx, audit.Change{
		EntityType: audit.EntityToken,
		EntityID:   t.ID.String(),
		Action:     audit.ActionTokenGenerated,
		Reason:     reason,
		After:      t,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit token issuance")
	}
	return t, nil
}

func (s *Service) logIssued(ctx context.Context, t *models.Token) {
	if s.metrics != nil {
		s.metrics.IncrementIssued()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(audit.ActionTokenGenerated),
			"log_type", "audit",
			"token_id", t.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) invalidate(ctx context.Context, tokenIDs ...id.TokenID) {
	if s.cache == nil {
		return
	}
	for _, tokenID := range tokenIDs {
		if err := s.cache.InvalidateTag(ctx, cache.TokenTag(tokenID)); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to invalidate token cache",
				"token_id", tokenID,
				"error", err,
			)
		}
	}
}

func normalizeOwnerRef(ownerRef string) (string, error) {
	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return "", dErrors.New(dErrors.CodeValidation, "owner_ref is required")
	}
	if !ownerRefPattern.MatchString(ownerRef) {
		return "", dErrors.New(dErrors.CodeValidation, "owner_ref must be an opaque reference")
	}
	return ownerRef, nil
}

func wrapStoreErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "token not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
