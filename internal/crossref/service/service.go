// Package service is the cross-reference index: hashed secondary
// identifiers linked to tokens, used to surface possible duplicate
// registrations. It reports evidence and never enforces anything.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,TokenReader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nser/internal/crossref/models"
	"nser/internal/lookup/cache"
	tokenmodels "nser/internal/token/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

const maxEvidence = 20

type Store interface {
	Create(ctx context.Context, ref *models.CrossReference) error
	FindByPair(ctx context.Context, t models.IdentifierType, hash string) (*models.CrossReference, error)
	FindByHashes(ctx context.Context, hashes []string) ([]*models.CrossReference, error)
	ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.CrossReference, error)
	Update(ctx context.Context, ref *models.CrossReference) error
	Relink(ctx context.Context, from, to id.TokenID, now time.Time) (int, error)
}

// TokenReader resolves the token a link points at.
type TokenReader interface {
	Get(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, change audit.Change) error
}

type Service struct {
	store   Store
	tokens  TokenReader
	hasher  *models.Hasher
	tx      tx.Runner
	auditor AuditRecorder
	cache   cache.Cache
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache lets link changes invalidate lookups made by identifier.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func New(store Store, tokens TokenReader, hasher *models.Hasher, txRunner tx.Runner, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tokens:  tokens,
		hasher:  hasher,
		tx:      txRunner,
		auditor: auditor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LinkCommand struct {
	TokenID  id.TokenID
	Type     models.IdentifierType
	Value    string
	Verified bool
}

// LinkResult says what Link did. Duplicate is set when the identifier was
// already linked to another token; the existing link is left untouched and
// ConflictingTokenID names the token that asked for it.
type LinkResult struct {
	CrossReference     *models.CrossReference `json:"cross_reference"`
	Created            bool                   `json:"created"`
	Duplicate          bool                   `json:"duplicate"`
	ConflictingTokenID *id.TokenID            `json:"conflicting_token_id,omitempty"`
}

// Link hashes the identifier and links it to the token. Linking an
// identifier that already belongs to another token is a duplicate signal:
// it is audited and reported, never overwritten.
func (s *Service) Link(ctx context.Context, cmd LinkCommand) (*LinkResult, error) {
	if !cmd.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown identifier type")
	}
	hash, err := s.hasher.Hash(cmd.Type, cmd.Value)
	if err != nil {
		return nil, err
	}
	t, err := s.tokens.Get(ctx, cmd.TokenID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, dErrors.New(dErrors.CodeConflict, "cannot link identifiers to a "+string(t.Status)+" token")
	}

	var result *LinkResult
	for pass := 0; ; pass++ {
		err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			r, err := s.link(txCtx, cmd, hash)
			result = r
			return err
		})
		// A lost race to create the same pair is seen by the second pass.
		if pass == 0 && errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		break
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link identifier")
	}

	if result.Duplicate {
		if s.logger != nil {
			s.logger.WarnContext(ctx, string(audit.ActionDuplicateDetected),
				"log_type", "audit",
				"identifier_type", cmd.Type,
				"token_id", result.CrossReference.TokenID,
				"conflicting_token_id", cmd.TokenID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return result, nil
	}
	s.invalidate(ctx, cmd.Type, hash)
	if s.logger != nil && result.Created {
		s.logger.InfoContext(ctx, string(audit.ActionCrossRefLinked),
			"log_type", "audit",
			"identifier_type", cmd.Type,
			"token_id", cmd.TokenID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return result, nil
}

func (s *Service) link(ctx context.Context, cmd LinkCommand, hash string) (*LinkResult, error) {
	now := requestcontext.Now(ctx)
	existing, err := s.store.FindByPair(ctx, cmd.Type, hash)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		ref, err := models.NewCrossReference(id.NewCrossReferenceID(), cmd.Type, hash, cmd.TokenID, cmd.Verified, now)
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, ref); err != nil {
			return nil, err
		}
		if err := s.record(ctx, audit.ActionCrossRefLinked, ref.ID, nil, ref); err != nil {
			return nil, err
		}
		return &LinkResult{CrossReference: ref, Created: true}, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cross reference")
	}

	if existing.TokenID != cmd.TokenID {
		conflicting := cmd.TokenID
		if err := s.record(ctx, audit.ActionDuplicateDetected, existing.ID, nil, map[string]any{
			"identifier_type":      existing.IdentifierType,
			"token_id":             existing.TokenID,
			"conflicting_token_id": conflicting,
		}); err != nil {
			return nil, err
		}
		return &LinkResult{CrossReference: existing, Duplicate: true, ConflictingTokenID: &conflicting}, nil
	}

	if cmd.Verified && !existing.Verified {
		before := *existing
		existing.Verify(now)
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update cross reference")
		}
		if err := s.record(ctx, audit.ActionCrossRefLinked, existing.ID, &before, existing); err != nil {
			return nil, err
		}
	}
	return &LinkResult{CrossReference: existing}, nil
}

// DetectDuplicates looks up every supplied identifier and reports the
// distinct tokens they point at.
func (s *Service) DetectDuplicates(ctx context.Context, identifiers []models.Identifier) (*models.DuplicateReport, error) {
	if len(identifiers) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one identifier is required")
	}
	if len(identifiers) > maxEvidence {
		return nil, dErrors.New(dErrors.CodeValidation, "too many identifiers")
	}

	hashes := make([]string, 0, len(identifiers))
	types := make(map[string]models.IdentifierType, len(identifiers))
	for _, ident := range identifiers {
		hash, err := s.HashIdentifier(ident)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
		types[hash] = ident.Type
	}

	refs, err := s.store.FindByHashes(ctx, hashes)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identifiers")
	}
	// A hash is only evidence under the type it was supplied as.
	matched := refs[:0]
	for _, ref := range refs {
		if types[ref.IdentifierHash] == ref.IdentifierType {
			matched = append(matched, ref)
		}
	}

	report := models.BuildReport(matched)
	if report.IsDuplicate() && s.logger != nil {
		s.logger.WarnContext(ctx, "identifiers span multiple tokens",
			"tokens", len(report.Tokens),
			"confidence", report.Confidence,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return report, nil
}

// HashIdentifier returns the register hash for an identifier given either
// as a raw value or as an already computed hash.
func (s *Service) HashIdentifier(ident models.Identifier) (string, error) {
	if !ident.Type.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown identifier type")
	}
	if ident.Hash != "" {
		if !models.IsHash(ident.Hash) {
			return "", dErrors.New(dErrors.CodeInvalidFormat, "identifier hash is malformed")
		}
		return ident.Hash, nil
	}
	return s.hasher.Hash(ident.Type, ident.Value)
}

// Resolve returns the token an identifier is linked to.
func (s *Service) Resolve(ctx context.Context, ident models.Identifier) (*models.CrossReference, error) {
	hash, err := s.HashIdentifier(ident)
	if err != nil {
		return nil, err
	}
	ref, err := s.store.FindByPair(ctx, ident.Type, hash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identifier not linked")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cross reference")
	}
	return ref, nil
}

func (s *Service) ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.CrossReference, error) {
	refs, err := s.store.ListByToken(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cross references")
	}
	return refs, nil
}

// OnTokenRotated re-points the old token's identifiers at its replacement.
func (s *Service) OnTokenRotated(ctx context.Context, event tokenmodels.RotationEvent) error {
	var refs []*models.CrossReference
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		refs, err = s.store.ListByToken(txCtx, event.Old.ID)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		n, err := s.store.Relink(txCtx, event.Old.ID, event.New.ID, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		return s.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityCrossReference,
			EntityID:   event.Old.ID.String(),
			Action:     audit.ActionCrossRefRelinked,
			Reason:     event.Reason,
			Before:     map[string]any{"token_id": event.Old.ID},
			After:      map[string]any{"token_id": event.New.ID, "relinked": n},
		})
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to relink cross references")
	}
	for _, ref := range refs {
		s.invalidate(ctx, ref.IdentifierType, ref.IdentifierHash)
	}
	if len(refs) > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, string(audit.ActionCrossRefRelinked),
			"log_type", "audit",
			"token_id", event.Old.ID,
			"successor_id", event.New.ID,
			"relinked", len(refs),
		)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action audit.Action, refID id.CrossReferenceID, before, after any) error {
	change := audit.Change{
		EntityType: audit.EntityCrossReference,
		EntityID:   refID.String(),
		Action:     action,
		After:      after,
	}
	if before != nil {
		change.Before = before
	}
	if err := s.auditor.Record(ctx, change); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit cross reference")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, t models.IdentifierType, hash string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTag(ctx, cache.IdentifierTag(string(t), hash)); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to invalidate identifier cache",
			"identifier_type", t,
			"error", err,
		)
	}
}
