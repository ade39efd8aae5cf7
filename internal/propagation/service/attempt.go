package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nser/internal/propagation/models"
	"nser/internal/propagation/queue"
	"nser/internal/propagation/sender"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/requestcontext"
)

const (
	channelSync     = "sync"
	channelCallback = "callback"
)

var (
	errNotAttemptable = errors.New("delivery is not awaiting an attempt")
	errSuperseded     = errors.New("delivery moved on to a newer state")
)

type deliveryKey struct {
	exclusionID id.ExclusionID
	operatorID  id.OperatorID
}

type inflightAttempt struct {
	stateVersion int
	cancel       context.CancelFunc
}

// keyedMutex serializes attempts for the same mapping. Locks are dropped
// once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[deliveryKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[deliveryKey]*refLock)}
}

func (k *keyedMutex) Lock(key deliveryKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (e *Engine) runJobs(ctx context.Context, jobs []queue.Job) {
	var g errgroup.Group
	g.SetLimit(e.cfg.FanOut)
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer e.slots.Release(1)
			e.attempt(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) track(key deliveryKey, stateVersion int, cancel context.CancelFunc) {
	e.inflightMu.Lock()
	e.inflight[key] = inflightAttempt{stateVersion: stateVersion, cancel: cancel}
	e.inflightMu.Unlock()
}

func (e *Engine) untrack(key deliveryKey, stateVersion int) {
	e.inflightMu.Lock()
	if cur, ok := e.inflight[key]; ok && cur.stateVersion == stateVersion {
		delete(e.inflight, key)
	}
	e.inflightMu.Unlock()
}

// cancelSuperseded aborts attempts still sending an older state of the
// same exclusion.
func (e *Engine) cancelSuperseded(exclusionID id.ExclusionID, stateVersion int) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	for key, a := range e.inflight {
		if key.exclusionID == exclusionID && a.stateVersion < stateVersion {
			a.cancel()
			delete(e.inflight, key)
			if e.metrics != nil {
				e.metrics.Superseded.Inc()
			}
		}
	}
}

// attempt delivers the job's notice to one operator once. Failures are
// recorded against the mapping and re-queued; nothing is returned.
func (e *Engine) attempt(ctx context.Context, job queue.Job) {
	key := deliveryKey{exclusionID: job.ExclusionID, operatorID: job.OperatorID}
	unlock := e.locks.Lock(key)
	defer unlock()

	if ctx.Err() != nil {
		return
	}

	notice, err := e.store.LatestNotice(ctx, job.ExclusionID)
	if err != nil {
		e.warn(ctx, "failed to load notice for attempt", job, err)
		return
	}
	if notice.StateVersion != job.StateVersion {
		if e.metrics != nil {
			e.metrics.Superseded.Inc()
		}
		return
	}

	// Tracked before the mapping is marked notified so a dispatch that
	// commits in between still finds this attempt to cancel.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(key, job.StateVersion, cancel)
	defer e.untrack(key, job.StateVersion)

	now := e.now()
	_, err = e.store.Execute(ctx, job.ExclusionID, job.OperatorID,
		func(d *models.Delivery) error {
			if !d.IsAttemptable(job.StateVersion) {
				return errNotAttemptable
			}
			if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
				return errNotAttemptable
			}
			return nil
		},
		func(d *models.Delivery) { d.BeginAttempt(now) },
	)
	if err != nil {
		if !errors.Is(err, errNotAttemptable) && !errors.Is(err, sentinel.ErrNotFound) {
			e.warn(ctx, "failed to begin delivery attempt", job, err)
		}
		return
	}
	if superseded, err := e.superseded(attemptCtx, job); superseded || err != nil {
		if err != nil {
			e.recordFailure(requestcontext.Detach(ctx), job, err)
		}
		return
	}

	if e.metrics != nil {
		e.metrics.InFlight.Inc()
		defer e.metrics.InFlight.Dec()
	}

	sendErr := e.deliver(attemptCtx, job, *notice)

	// The attempt context may be gone; outcomes are still recorded.
	recordCtx := requestcontext.Detach(ctx)
	if sendErr == nil {
		if e.metrics != nil {
			e.metrics.IncrementAttempt("acknowledged")
		}
		ack := models.Acknowledgement{ExclusionID: job.ExclusionID, OperatorID: job.OperatorID, StateVersion: job.StateVersion}
		if _, err := e.acknowledge(recordCtx, ack, channelSync); err != nil && !isBenignAckError(err) {
			e.warn(ctx, "failed to record acknowledgement", job, err)
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown. The mapping stays notified and the recovery scan
		// retries it on the next start.
		return
	}
	if attemptCtx.Err() == context.Canceled {
		// Cancelled by a newer dispatch.
		return
	}
	e.recordFailure(recordCtx, job, sendErr)
}

// superseded reports whether a newer state was dispatched after the job
// was queued, by this process (cancellation) or by another instance
// (the stored notice moved on).
func (e *Engine) superseded(attemptCtx context.Context, job queue.Job) (bool, error) {
	if attemptCtx.Err() != nil {
		return true, nil
	}
	latest, err := e.store.LatestNotice(attemptCtx, job.ExclusionID)
	if err != nil {
		if attemptCtx.Err() != nil {
			return true, nil
		}
		return false, err
	}
	if latest.StateVersion != job.StateVersion {
		if e.metrics != nil {
			e.metrics.Superseded.Inc()
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) deliver(ctx context.Context, job queue.Job, notice models.Notice) error {
	ctx, span := e.tracer.Start(ctx, "propagation.deliver", trace.WithAttributes(
		attribute.String("exclusion.id", job.ExclusionID.String()),
		attribute.String("operator.id", job.OperatorID.String()),
		attribute.Int("exclusion.state_version", job.StateVersion),
	))
	defer span.End()

	err := e.send(ctx, job, notice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
	return err
}

func (e *Engine) send(ctx context.Context, job queue.Job, notice models.Notice) error {
	op, err := e.directory.Get(ctx, job.OperatorID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return &sender.DeliveryError{Category: sender.CategoryRejected, OperatorID: job.OperatorID.String(), Err: err}
		}
		return &sender.DeliveryError{Category: sender.CategoryConnection, OperatorID: job.OperatorID.String(), Retryable: true, Err: err}
	}
	if !op.IsLicenseActive() {
		return &sender.DeliveryError{
			Category:   sender.CategoryRejected,
			OperatorID: job.OperatorID.String(),
			Err:        errors.New("operator license is " + string(op.LicenseStatus)),
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	err = e.sender.Send(sendCtx, op, notice)
	if e.metrics != nil {
		e.metrics.ObserveAttempt(start)
	}
	return err
}

// recordFailure counts the failed attempt. Retryable failures are
// re-queued with backoff until the budget runs out.
func (e *Engine) recordFailure(ctx context.Context, job queue.Job, sendErr error) {
	retryable := true
	outcome := string(sender.CategoryConnection)
	var de *sender.DeliveryError
	if errors.As(sendErr, &de) {
		retryable = de.Retryable
		outcome = string(de.Category)
	}
	if e.metrics != nil {
		e.metrics.IncrementAttempt(outcome)
	}

	now := e.now()
	updated, err := e.store.Execute(ctx, job.ExclusionID, job.OperatorID,
		func(d *models.Delivery) error {
			if d.StateVersion != job.StateVersion || d.Status != models.DeliveryNotified {
				return errSuperseded
			}
			return nil
		},
		func(d *models.Delivery) { d.RecordFailure(now, sendErr.Error(), retryable, e.cfg.BackoffCap) },
	)
	if err != nil {
		if !errors.Is(err, errSuperseded) {
			e.warn(ctx, "failed to record delivery failure", job, err)
		}
		return
	}
	e.afterFailure(ctx, job, updated, sendErr)
}

func (e *Engine) afterFailure(ctx context.Context, job queue.Job, updated *models.Delivery, cause error) {
	if updated.Status == models.DeliveryTimeout {
		if err := e.queue.Push(ctx, job, *updated.NextRetryAt); err != nil {
			e.warn(ctx, "failed to schedule retry", job, err)
		}
		if e.metrics != nil {
			e.metrics.RetriesScheduled.Inc()
		}
		e.debug(ctx, "delivery retry scheduled",
			"exclusion_id", job.ExclusionID,
			"operator_id", job.OperatorID,
			"retry_count", updated.RetryCount,
			"next_retry_at", updated.NextRetryAt,
		)
		return
	}

	if err := e.auditor.Record(ctx, audit.Change{
		EntityType: audit.EntityDelivery,
		EntityID:   deliveryEntityID(job.ExclusionID, job.OperatorID),
		Action:     audit.ActionDeliveryFailed,
		Reason:     updated.LastError,
		After:      updated,
	}); err != nil {
		e.warn(ctx, "failed to audit delivery failure", job, err)
	}
	if e.metrics != nil {
		e.metrics.DeliveriesFailed.Inc()
	}
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "delivery failed, manual intervention required",
			"exclusion_id", job.ExclusionID,
			"operator_id", job.OperatorID,
			"state_version", job.StateVersion,
			"retry_count", updated.RetryCount,
			"error", cause,
		)
	}
}

// Acknowledge records an operator's asynchronous confirmation. A repeated
// acknowledgement returns the stored mapping without a second audit entry.
func (e *Engine) Acknowledge(ctx context.Context, ack models.Acknowledgement) (*models.Delivery, error) {
	d, err := e.acknowledge(ctx, ack, channelCallback)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "delivery not found")
		}
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record acknowledgement")
	}
	return d, nil
}

func (e *Engine) acknowledge(ctx context.Context, ack models.Acknowledgement, channel string) (*models.Delivery, error) {
	now := e.now()
	var updated *models.Delivery
	err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var before models.Delivery
		d, err := e.store.Execute(txCtx, ack.ExclusionID, ack.OperatorID,
			func(d *models.Delivery) error {
				before = *d
				return d.CanAcknowledge(ack.StateVersion)
			},
			func(d *models.Delivery) { d.Acknowledge(now) },
		)
		if err != nil {
			return err
		}
		updated = d
		return e.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityDelivery,
			EntityID:   deliveryEntityID(ack.ExclusionID, ack.OperatorID),
			Action:     audit.ActionDeliveryAcknowledged,
			Reason:     channel,
			Before:     before,
			After:      d,
		})
	})
	switch {
	case err == nil:
		e.countAck(channel, "acknowledged")
		return updated, nil
	case dErrors.HasCode(err, dErrors.CodeAlreadyTerminal):
		e.countAck(channel, "duplicate")
		return e.store.FindDelivery(ctx, ack.ExclusionID, ack.OperatorID)
	case dErrors.HasCode(err, dErrors.CodeConflict):
		e.countAck(channel, "stale")
		return nil, err
	default:
		return nil, err
	}
}

func (e *Engine) countAck(channel, result string) {
	if e.metrics != nil {
		e.metrics.IncrementAcknowledgement(channel, result)
	}
}

// A synchronous acknowledgement can lose the race against an asynchronous
// one or against a newer dispatch.
func isBenignAckError(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeConflict) || errors.Is(err, sentinel.ErrNotFound)
}

// ResetForRetry moves a failed mapping back to pending and queues an
// immediate attempt. If a newer state exists the mapping restarts on it.
func (e *Engine) ResetForRetry(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, reason string) (*models.Delivery, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	latest, err := e.store.LatestNotice(ctx, exclusionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "delivery not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load notice")
	}

	now := e.now()
	var updated *models.Delivery
	err = e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var before models.Delivery
		d, err := e.store.Execute(txCtx, exclusionID, operatorID,
			func(d *models.Delivery) error {
				before = *d
				return d.CanReset()
			},
			func(d *models.Delivery) {
				if latest.StateVersion > d.StateVersion {
					d.Restart(latest.StateVersion, e.cfg.MaxRetries, now)
					return
				}
				d.ResetForRetry(now)
			},
		)
		if err != nil {
			return err
		}
		updated = d
		return e.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityDelivery,
			EntityID:   deliveryEntityID(exclusionID, operatorID),
			Action:     audit.ActionDeliveryReset,
			Reason:     reason,
			Before:     before,
			After:      d,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "delivery not found")
		case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset delivery")
	}

	job := queue.Job{ExclusionID: exclusionID, OperatorID: operatorID, StateVersion: updated.StateVersion}
	e.launch(requestcontext.RequestID(ctx), []queue.Job{job})
	if e.logger != nil {
		e.logger.InfoContext(ctx, "delivery reset for retry",
			"exclusion_id", exclusionID,
			"operator_id", operatorID,
			"state_version", updated.StateVersion,
			"actor", requestcontext.Actor(ctx),
		)
	}
	return updated, nil
}

func (e *Engine) warn(ctx context.Context, msg string, job queue.Job, err error) {
	if e.logger != nil {
		e.logger.WarnContext(ctx, msg,
			"exclusion_id", job.ExclusionID,
			"operator_id", job.OperatorID,
			"state_version", job.StateVersion,
			"error", err,
		)
	}
}

func deliveryEntityID(exclusionID id.ExclusionID, operatorID id.OperatorID) string {
	return exclusionID.String() + ":" + operatorID.String()
}
