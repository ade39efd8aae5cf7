package service

import (
	"context"
	"strings"

	"nser/internal/token/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/requestcontext"
)

const maxReasonLength = 500

// Rotate replaces an active token with a fresh successor. The old row is
// revoked and the successor created in the same transaction, so the owner
// never holds two active tokens and never holds none.
func (s *Service) Rotate(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error) {
	reason, err := normalizeReason(reason, "rotation")
	if err != nil {
		return nil, err
	}

	var retired, successor *models.Token
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before *models.Token
		now := requestcontext.Now(ctx)
		old, err := s.store.Execute(ctx, tokenID,
			func(t *models.Token) error {
				snapshot := *t
				before = &snapshot
				return t.CanDeactivate()
			},
			func(t *models.Token) {
				t.ApplyRevocation(now, reason)
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to revoke token")
		}
		retired = old

		successor, err = s.issue(ctx, old.OwnerRef, old)
		if err != nil {
			return err
		}

		return s.recordChange(ctx, audit.ActionTokenRotated, reason, before, rotationSnapshot{Retired: old, Successor: successor})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, retired.ID)
	if s.metrics != nil {
		s.metrics.IncrementRotated()
		s.metrics.IncrementIssued()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(audit.ActionTokenRotated),
			"log_type", "audit",
			"token_id", retired.ID,
			"successor_id", successor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	s.notifyRotation(ctx, models.RotationEvent{Old: retired, New: successor, Reason: reason})
	return successor, nil
}

// Compromise marks a token compromised. Compromise is a security fast path:
// the token stops validating as soon as the transaction commits. With
// autoRotate a replacement is minted in the same transaction.
func (s *Service) Compromise(ctx context.Context, tokenID id.TokenID, reason string, autoRotate bool) (*models.CompromiseResult, error) {
	reason, err := normalizeReason(reason, "")
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required to mark a token compromised")
	}

	result := &models.CompromiseResult{}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before *models.Token
		now := requestcontext.Now(ctx)
		compromised, err := s.store.Execute(ctx, tokenID,
			func(t *models.Token) error {
				snapshot := *t
				before = &snapshot
				return t.CanDeactivate()
			},
			func(t *models.Token) {
				t.ApplyCompromise(now, reason)
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to mark token compromised")
		}
		result.Compromised = compromised

		if err := s.recordChange(ctx, audit.ActionTokenCompromised, reason, before, compromised); err != nil {
			return err
		}
		if !autoRotate {
			return nil
		}
		result.Replacement, err = s.issue(ctx, compromised.OwnerRef, compromised)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, result.Compromised.ID)
	if s.metrics != nil {
		s.metrics.IncrementCompromised()
		if result.Replacement != nil {
			s.metrics.IncrementIssued()
		}
	}
	if s.logger != nil {
		attrs := []any{
			"log_type", "audit",
			"token_id", result.Compromised.ID,
			"auto_rotated", result.Replacement != nil,
			"request_id", requestcontext.RequestID(ctx),
		}
		if result.Replacement != nil {
			attrs = append(attrs, "successor_id", result.Replacement.ID)
		}
		s.logger.WarnContext(ctx, string(audit.ActionTokenCompromised), attrs...)
	}
	if result.Replacement != nil {
		s.notifyRotation(ctx, models.RotationEvent{Old: result.Compromised, New: result.Replacement, Reason: reason})
	}
	return result, nil
}

type rotationSnapshot struct {
	Retired   *models.Token `json:"retired"`
	Successor *models.Token `json:"successor"`
}

func (s *Service) recordChange(ctx context.Context, action audit.Action, reason string, before *models.Token, after any) error {
	if err := s.auditor.Record(ctx, audit.Change{
		EntityType: audit.EntityToken,
		EntityID:   before.ID.String(),
		Action:     action,
		Reason:     reason,
		Before:     before,
		After:      after,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit token change")
	}
	return nil
}

// notifyRotation runs after commit. Listener failures are logged; the
// rotation itself has already taken effect.
func (s *Service) notifyRotation(ctx context.Context, event models.RotationEvent) {
	ctx = requestcontext.Detach(ctx)
	for _, l := range s.listeners {
		if err := l.OnTokenRotated(ctx, event); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "rotation listener failed",
				"token_id", event.Old.ID,
				"successor_id", event.New.ID,
				"error", err,
			)
		}
	}
}

func normalizeReason(reason, fallback string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fallback
	}
	if len(reason) > maxReasonLength {
		return "", dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return reason, nil
}
