// Package service answers operator lookups: is the player behind a token
// value or hashed identifier currently excluded?
//
// The read path resolves the presented credential to the live token
// (following rotation), loads the token's open exclusion and caches the
// answer, negatives included, under tags that every mutation path
// invalidates.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TokenResolver,IdentifierResolver,ExclusionReader

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	crossrefmodels "nser/internal/crossref/models"
	exclmodels "nser/internal/exclusion/models"
	"nser/internal/lookup/cache"
	lookupmetrics "nser/internal/lookup/metrics"
	"nser/internal/lookup/models"
	tokenmodels "nser/internal/token/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/requestcontext"
)

type TokenResolver interface {
	ResolveValue(ctx context.Context, value string) (*tokenmodels.ValidationResult, *tokenmodels.Token, error)
	Successor(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
}

type IdentifierResolver interface {
	HashIdentifier(ident crossrefmodels.Identifier) (string, error)
	Resolve(ctx context.Context, ident crossrefmodels.Identifier) (*crossrefmodels.CrossReference, error)
}

type ExclusionReader interface {
	Primary(ctx context.Context, tokenID id.TokenID) (*exclmodels.Exclusion, error)
}

type Service struct {
	tokens      TokenResolver
	identifiers IdentifierResolver
	exclusions  ExclusionReader
	cache       cache.Cache
	ttl         time.Duration
	logger      *slog.Logger
	metrics     *lookupmetrics.Metrics
	group       singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *lookupmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache enables result caching. ttl is clamped to cache.MaxTTL.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = cache.ClampTTL(ttl)
	}
}

func New(tokens TokenResolver, identifiers IdentifierResolver, exclusions ExclusionReader, opts ...Option) *Service {
	s := &Service{
		tokens:      tokens,
		identifiers: identifiers,
		exclusions:  exclusions,
		ttl:         cache.MaxTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolution is a computed answer plus the tags its cache entry hangs off.
type resolution struct {
	result *models.Result
	tags   []string
	ttl    time.Duration
}

// Lookup answers whether the player behind req is excluded.
func (s *Service) Lookup(ctx context.Context, req models.Request) (*models.Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key, err := s.cacheKey(req)
	if err != nil {
		s.metrics.ObserveLookup(string(req.Source()), "malformed", time.Since(start))
		return nil, err
	}

	if cached, ok := s.cached(ctx, key); ok {
		s.metrics.IncrementCacheHit()
		s.metrics.ObserveLookup(string(req.Source()), cached.Outcome(), time.Since(start))
		return cached, nil
	}
	s.metrics.IncrementCacheMiss()

	// The generation is taken before the store is read: an invalidation
	// landing mid-resolve makes the result uncacheable. Concurrent misses
	// for the same key within one generation share one store round trip.
	gen := s.generation(ctx)
	v, err, _ := s.group.Do(key+"@"+gen.String(), func() (any, error) {
		res, err := s.resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		s.store(ctx, gen, key, res)
		return res.result, nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidFormat) {
			s.metrics.ObserveLookup(string(req.Source()), "malformed", time.Since(start))
		}
		return nil, err
	}
	result := *v.(*models.Result)
	s.metrics.ObserveLookup(string(req.Source()), result.Outcome(), time.Since(start))
	return &result, nil
}

func (s *Service) cacheKey(req models.Request) (string, error) {
	if req.Identifier == nil {
		return "lookup:token:" + req.TokenValue, nil
	}
	hash, err := s.identifiers.HashIdentifier(*req.Identifier)
	if err != nil {
		return "", err
	}
	return "lookup:identifier:" + string(req.Identifier.Type) + ":" + hash, nil
}

func (s *Service) resolve(ctx context.Context, req models.Request) (*resolution, error) {
	if req.Identifier != nil {
		return s.resolveIdentifier(ctx, *req.Identifier)
	}
	return s.resolveToken(ctx, req.TokenValue)
}

func (s *Service) resolveToken(ctx context.Context, value string) (*resolution, error) {
	validation, current, err := s.tokens.ResolveValue(ctx, value)
	if err != nil {
		return nil, err
	}
	res := &resolution{result: &models.Result{}, ttl: s.ttl}
	if !validation.Found {
		return res, nil
	}
	res.result.Valid = validation.Valid
	res.result.TokenStatus = string(validation.Status)
	res.result.IsCompromised = validation.IsCompromised
	res.tags = append(res.tags, cache.TokenTag(validation.TokenID), cache.TokenTag(current.ID))
	if err := s.attachExclusion(ctx, res, current.ID, validation.TokenID); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) resolveIdentifier(ctx context.Context, ident crossrefmodels.Identifier) (*resolution, error) {
	hash, err := s.identifiers.HashIdentifier(ident)
	if err != nil {
		return nil, err
	}
	res := &resolution{
		result: &models.Result{},
		tags:   []string{cache.IdentifierTag(string(ident.Type), hash)},
		ttl:    s.ttl,
	}
	ref, err := s.identifiers.Resolve(ctx, crossrefmodels.Identifier{Type: ident.Type, Hash: hash})
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	current, err := s.tokens.Successor(ctx, ref.TokenID)
	if err != nil {
		return nil, err
	}
	res.result.Valid = current.IsActive()
	res.result.TokenStatus = string(current.Status)
	res.result.IsCompromised = current.Status == tokenmodels.StatusCompromised
	res.tags = append(res.tags, cache.TokenTag(ref.TokenID), cache.TokenTag(current.ID))
	if err := s.attachExclusion(ctx, res, current.ID, ref.TokenID); err != nil {
		return nil, err
	}
	return res, nil
}

// attachExclusion fills the exclusion fields from the live token's open
// record. A record still held by the presented token (rotation relink
// pending) counts too.
func (s *Service) attachExclusion(ctx context.Context, res *resolution, current, presented id.TokenID) error {
	candidates := []id.TokenID{current}
	if presented != current {
		candidates = append(candidates, presented)
	}
	for _, tokenID := range candidates {
		excl, err := s.exclusions.Primary(ctx, tokenID)
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !excl.IsActive {
			return nil
		}
		applyExclusion(res, excl, requestcontext.Now(ctx))
		return nil
	}
	return nil
}

func applyExclusion(res *resolution, excl *exclmodels.Exclusion, now time.Time) {
	start, end := excl.EffectiveAt, excl.ExpiresAt
	res.result.IsExcluded = true
	res.result.ReferenceNumber = excl.Reference
	res.result.Period = string(excl.Period)
	res.result.StartDate = &start
	res.result.EndDate = &end
	res.result.IsPermanent = excl.IsPermanent
	res.result.DaysRemaining = excl.DaysRemaining

	// The entry must not outlive the exclusion window.
	if until := end.Sub(now); until > 0 && until < res.ttl {
		res.ttl = until
	}
}

func (s *Service) cached(ctx context.Context, key string) (*models.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.debug(ctx, "lookup cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result models.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		s.debug(ctx, "discarding unreadable lookup cache entry", "error", err)
		return nil, false
	}
	return &result, true
}

func (s *Service) generation(ctx context.Context) cache.Generation {
	if s.cache == nil {
		return nil
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.debug(ctx, "lookup cache generation unavailable", "error", err)
		return nil
	}
	return gen
}

func (s *Service) store(ctx context.Context, gen cache.Generation, key string, res *resolution) {
	if s.cache == nil || len(gen) == 0 {
		return
	}
	raw, err := json.Marshal(res.result)
	if err != nil {
		return
	}
	stored, err := s.cache.SetIfCurrent(ctx, gen, key, raw, res.ttl, res.tags...)
	if err != nil {
		s.debug(ctx, "lookup cache write failed", "error", err)
		return
	}
	if !stored {
		s.debug(ctx, "lookup result invalidated while resolving, not cached")
	}
}

func (s *Service) debug(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.DebugContext(ctx, msg, args...)
	}
}
