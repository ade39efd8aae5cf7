package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"nser/internal/lookup/cache"
	"nser/internal/token/models"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/sentinel"
	"nser/pkg/requestcontext"
)

const (
	outcomeValid       = "valid"
	outcomeMalformed   = "malformed"
	outcomeNotFound    = "not_found"
	outcomeCompromised = "compromised"
	outcomeRevoked     = "revoked"
)

// Validate answers whether value names a usable token.
//
// A malformed value (bad structure or checksum) returns an invalid_format
// error without touching the cache or store. A well-formed value that
// matches nothing returns a result with Found=false. Usage counters are
// updated off the read path.
func (s *Service) Validate(ctx context.Context, value string) (*models.ValidationResult, error) {
	start := time.Now()

	parsed, err := s.generator.Parse(value)
	if err != nil {
		s.observe(outcomeMalformed, start)
		return nil, err
	}

	t, err := s.findByHash(ctx, parsed.Hash)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.observe(outcomeNotFound, start)
		return &models.ValidationResult{Valid: false, Found: false, Reason: "token not found"}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up token")
	}

	if s.usage != nil {
		s.usage.Record(t.ID, requestcontext.Now(ctx))
	}

	result := models.NewValidationResult(t)
	switch t.Status {
	case models.StatusCompromised:
		result.Reason = "token compromised"
		s.observe(outcomeCompromised, start)
	case models.StatusRevoked:
		result.Reason = "token superseded by rotation"
		s.observe(outcomeRevoked, start)
	default:
		s.observe(outcomeValid, start)
	}
	return result, nil
}

// ResolveValue validates value and follows rotation to the live token.
// It returns the validation of the presented value alongside the current
// token; current is nil when the value is unknown.
func (s *Service) ResolveValue(ctx context.Context, value string) (*models.ValidationResult, *models.Token, error) {
	result, err := s.Validate(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	if !result.Found {
		return result, nil, nil
	}
	current, err := s.Successor(ctx, result.TokenID)
	if err != nil {
		return nil, nil, err
	}
	return result, current, nil
}

func (s *Service) findByHash(ctx context.Context, hash string) (*models.Token, error) {
	key := "token:hash:" + hash
	var gen cache.Generation
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached models.Token
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
		// Taken before the store read so a concurrent status change keeps
		// the old row out of the cache.
		gen, _ = s.cache.Generation(ctx)
	}

	t, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(gen) > 0 {
		if raw, err := json.Marshal(t); err == nil {
			_, _ = s.cache.SetIfCurrent(ctx, gen, key, raw, s.cacheTTL, cache.TokenTag(t.ID))
		}
	}
	return t, nil
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveValidation(outcome, start)
	}
}
