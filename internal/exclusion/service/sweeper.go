package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"time"

	"nser/internal/exclusion/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/requestcontext"
)

// ProcessDue settles every active record whose window has closed at now:
// auto-renewable records roll forward, the rest expire. Returns the number
// of records settled.
func (s *Service) ProcessDue(ctx context.Context) (int, error) {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveSweep(start)
	}
	now := requestcontext.Now(ctx)
	due, err := s.store.ListDue(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due exclusions")
	}

	settled := 0
	var errs []error
	for _, r := range due {
		if _, err := s.settle(ctx, r.ID); err != nil {
			if errors.Is(err, errSkip) {
				continue
			}
			if s.metrics != nil {
				s.metrics.IncrementSweepError()
			}
			errs = append(errs, err)
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}

// RunSweeper calls ProcessDue every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx := requestcontext.WithTime(ctx, time.Now())
			n, err := s.ProcessDue(sweepCtx)
			if err != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "exclusion sweep failed", "error", err, "settled", n)
				continue
			}
			if n > 0 && s.logger != nil {
				s.logger.InfoContext(ctx, "exclusion sweep", "settled", n)
			}
		}
	}
}

// settleIfDue applies a pending expiry or renewal on the read path. A
// concurrent sweeper may win the race, in which case the record is reloaded.
func (s *Service) settleIfDue(ctx context.Context, r *models.Record) (*models.Record, error) {
	if !r.IsDue(requestcontext.Now(ctx)) {
		return r, nil
	}
	settled, err := s.settle(ctx, r.ID)
	if errors.Is(err, errSkip) {
		reloaded, err := s.store.FindByID(ctx, r.ID)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to reload exclusion")
		}
		return reloaded, nil
	}
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func (s *Service) settle(ctx context.Context, exclusionID id.ExclusionID) (*models.Record, error) {
	var applied *change
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		actor := requestcontext.Actor(ctx)
		current, err := s.store.FindByID(ctx, exclusionID)
		if err != nil {
			return wrapStoreErr(err, "failed to load exclusion")
		}
		action, reason := audit.ActionExclusionExpired, "window closed"
		if current.AutoRenewable {
			action, reason = audit.ActionExclusionRenewed, "auto-renewed"
		}
		applied, err = s.applyInTx(ctx, exclusionID, action, reason,
			func(r *models.Record) error {
				if !r.IsDue(now) {
					return errSkip
				}
				return nil
			},
			func(r *models.Record) {
				if r.AutoRenewable {
					r.Renew(now, actor)
					return
				}
				r.Expire(now, actor)
			},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, *applied)
	return applied.record, nil
}

var referenceEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newReference returns an unused SE-YYYYMMDD-XXXXXX reference.
func (s *Service) newReference(ctx context.Context, now time.Time) (string, error) {
	for range referenceAttempts {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate reference")
		}
		ref := "SE-" + now.UTC().Format("20060102") + "-" + referenceEncoding.EncodeToString(buf[:])[:6]
		_, err := s.store.FindByReference(ctx, ref)
		if errors.Is(err, sentinel.ErrNotFound) {
			return ref, nil
		}
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to check reference")
		}
	}
	return "", dErrors.New(dErrors.CodeInternal, "could not allocate a unique reference")
}
