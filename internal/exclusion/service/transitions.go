package service

import (
	"context"
	"errors"

	"nser/internal/events"
	"nser/internal/exclusion/models"
	propmodels "nser/internal/propagation/models"
	tokenmodels "nser/internal/token/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/audit"
	"nser/pkg/requestcontext"
)

// change is one committed transition, kept until the transaction returns.
type change struct {
	action        audit.Action
	record        *models.Record
	previousToken id.TokenID
}

// Activate starts a pending exclusion. The one-open-record-per-token rule
// is re-checked at write time.
func (s *Service) Activate(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error) {
	return s.transition(ctx, exclusionID, audit.ActionExclusionActivated, "",
		func(r *models.Record) error { return r.CanActivate() },
		func(ctx context.Context, r *models.Record) { r.Activate(requestcontext.Now(ctx), requestcontext.Actor(ctx)) },
	)
}

// Renew rolls an auto-renewable record whose window has closed.
func (s *Service) Renew(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error) {
	return s.transition(ctx, exclusionID, audit.ActionExclusionRenewed, "auto-renewed",
		func(r *models.Record) error { return r.CanRenew(requestcontext.Now(ctx)) },
		func(ctx context.Context, r *models.Record) { r.Renew(requestcontext.Now(ctx), requestcontext.Actor(ctx)) },
	)
}

// Terminate ends an active exclusion early. It is an administrative
// override; the actor on the context is recorded as the approver.
func (s *Service) Terminate(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error) {
	reason, err := normalizeReason(reason, true)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, exclusionID, audit.ActionExclusionTerminated, reason,
		func(r *models.Record) error { return r.CanTerminate() },
		func(ctx context.Context, r *models.Record) {
			r.Terminate(requestcontext.Now(ctx), requestcontext.Actor(ctx), reason)
		},
	)
}

func (s *Service) Suspend(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error) {
	reason, err := normalizeReason(reason, true)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, exclusionID, audit.ActionExclusionSuspended, reason,
		func(r *models.Record) error { return r.CanSuspend() },
		func(ctx context.Context, r *models.Record) {
			r.Suspend(requestcontext.Now(ctx), requestcontext.Actor(ctx), reason)
		},
	)
}

// Revoke ends a pending, active or suspended record for cause. Deliveries
// still in flight for the earlier state are superseded by the new version.
func (s *Service) Revoke(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error) {
	reason, err := normalizeReason(reason, true)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, exclusionID, audit.ActionExclusionRevoked, reason,
		func(r *models.Record) error { return r.CanRevoke() },
		func(ctx context.Context, r *models.Record) {
			r.Revoke(requestcontext.Now(ctx), requestcontext.Actor(ctx), reason)
		},
	)
}

// OnTokenRotated re-points every live record of the retired token at its
// successor. Each relink is a new state version so operators learn the new
// token value.
func (s *Service) OnTokenRotated(ctx context.Context, event tokenmodels.RotationEvent) error {
	if event.Old == nil || event.New == nil {
		return nil
	}
	records, err := s.store.ListByToken(ctx, event.Old.ID)
	if err != nil {
		return wrapStoreErr(err, "failed to list exclusions for rotated token")
	}

	var errs []error
	for _, r := range records {
		if r.Status.IsTerminal() {
			continue
		}
		var applied *change
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			applied, err = s.applyInTx(ctx, r.ID, audit.ActionExclusionTokenRelinked, "token rotated: "+event.Reason,
				func(r *models.Record) error {
					if r.TokenID != event.Old.ID || r.Status.IsTerminal() {
						return errSkip
					}
					return nil
				},
				func(r *models.Record) {
					r.RelinkToken(event.New.ID, requestcontext.Now(ctx), requestcontext.Actor(ctx))
				},
			)
			return err
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applied.previousToken = event.Old.ID
		s.afterCommit(ctx, *applied)
	}
	return errors.Join(errs...)
}

// transition runs one state change in its own transaction.
func (s *Service) transition(
	ctx context.Context,
	exclusionID id.ExclusionID,
	action audit.Action,
	reason string,
	validate func(*models.Record) error,
	mutate func(context.Context, *models.Record),
) (*models.Exclusion, error) {
	var applied *change
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if action == audit.ActionExclusionActivated {
			current, err := s.store.FindByID(ctx, exclusionID)
			if err != nil {
				return wrapStoreErr(err, "failed to load exclusion")
			}
			if err := s.ensureNoOpenRecord(ctx, current.TokenID, current.ID); err != nil {
				return err
			}
		}
		var err error
		applied, err = s.applyInTx(ctx, exclusionID, action, reason, validate,
			func(r *models.Record) { mutate(ctx, r) })
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, *applied)
	return s.view(ctx, applied.record), nil
}

// applyInTx executes and audits one transition. Must run inside a transaction.
func (s *Service) applyInTx(
	ctx context.Context,
	exclusionID id.ExclusionID,
	action audit.Action,
	reason string,
	validate func(*models.Record) error,
	mutate func(*models.Record),
) (*change, error) {
	var before *models.Record
	updated, err := s.store.Execute(ctx, exclusionID,
		func(r *models.Record) error {
			snapshot := *r
			before = &snapshot
			return validate(r)
		},
		mutate,
	)
	if errors.Is(err, errSkip) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreErr(err, "failed to update exclusion")
	}
	if err := s.recordChange(ctx, action, reason, before, updated); err != nil {
		return nil, err
	}
	return &change{action: action, record: updated}, nil
}

// afterCommit runs the side effects of committed transitions: cache
// invalidation, metrics, events and propagation of the final state.
func (s *Service) afterCommit(ctx context.Context, changes ...change) {
	if len(changes) == 0 {
		return
	}
	for _, c := range changes {
		tokens := []id.TokenID{c.record.TokenID}
		if !c.previousToken.IsNil() {
			tokens = append(tokens, c.previousToken)
		}
		s.invalidate(ctx, tokens...)

		if s.metrics != nil {
			s.metrics.IncrementTransition(string(c.action))
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, string(c.action),
				"log_type", "audit",
				"exclusion_id", c.record.ID,
				"token_id", c.record.TokenID,
				"status", c.record.Status,
				"state_version", c.record.StateVersion,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		if s.publisher != nil {
			s.publisher.Publish(ctx, events.StateChanged{
				ExclusionID:  c.record.ID,
				Reference:    c.record.Reference,
				TokenID:      c.record.TokenID,
				Status:       string(c.record.Status),
				Action:       string(c.action),
				StateVersion: c.record.StateVersion,
				OccurredAt:   c.record.UpdatedAt,
			})
		}
	}
	s.dispatch(ctx, changes[len(changes)-1].record)
}

func (s *Service) dispatch(ctx context.Context, r *models.Record) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatchNotice(requestcontext.Detach(ctx), r)
	if err == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementDispatchFailure()
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to schedule propagation",
			"exclusion_id", r.ID,
			"state_version", r.StateVersion,
			"error", err,
		)
	}
}

func (s *Service) dispatchNotice(ctx context.Context, r *models.Record) error {
	token, err := s.tokens.Get(ctx, r.TokenID)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, propmodels.Notice{
		ExclusionID:  r.ID,
		Reference:    r.Reference,
		TokenID:      r.TokenID,
		TokenValue:   token.Value,
		Status:       string(r.Status),
		EffectiveAt:  r.EffectiveAt,
		ExpiresAt:    r.ExpiresAt,
		IsPermanent:  r.Period.IsPermanent(),
		StateVersion: r.StateVersion,
	})
}

// errSkip aborts a transition whose precondition no longer holds because a
// concurrent writer got there first.
var errSkip = errors.New("transition no longer applicable")
