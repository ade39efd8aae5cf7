package service

import (
	"context"
	"errors"
	"time"

	exclmodels "nser/internal/exclusion/models"
	opmodels "nser/internal/operator/models"
	"nser/internal/propagation/models"
	"nser/internal/propagation/queue"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
)

var errInterrupted = errors.New("attempt interrupted before an outcome was recorded")

// Run drives retries until ctx is cancelled: due jobs are popped from the
// queue every PollInterval and the store is rescanned every
// RecoverInterval so nothing depends on the queue surviving a restart.
func (e *Engine) Run(ctx context.Context) error {
	if e.logger != nil {
		e.logger.InfoContext(ctx, "propagation engine started",
			"max_retries", e.cfg.MaxRetries,
			"backoff_cap", e.cfg.BackoffCap,
			"max_in_flight", e.cfg.MaxInFlight,
		)
	}
	e.recover(ctx)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	rescan := time.NewTicker(e.cfg.RecoverInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Close()
			if e.logger != nil {
				e.logger.Info("propagation engine stopped")
			}
			return nil
		case <-poll.C:
			e.pollOnce(ctx)
		case <-rescan.C:
			e.recover(ctx)
		}
	}
}

// pollOnce launches every job due now, one batch at a time.
func (e *Engine) pollOnce(ctx context.Context) int {
	total := 0
	for {
		jobs, err := e.queue.PopDue(ctx, e.now(), e.cfg.BatchSize)
		if err != nil {
			if e.logger != nil {
				e.logger.WarnContext(ctx, "failed to pop due deliveries", "error", err)
			}
			return total
		}
		if len(jobs) == 0 {
			return total
		}
		total += len(jobs)
		e.launch("", jobs)
		if len(jobs) < e.cfg.BatchSize {
			return total
		}
	}
}

// recover re-queues mappings that are due soon and fails interrupted
// attempts so they are retried with backoff.
func (e *Engine) recover(ctx context.Context) int {
	now := e.now()
	rows, err := e.store.ListRecoverable(ctx, now.Add(e.cfg.BackoffCap), now.Add(-2*e.cfg.AttemptTimeout), e.cfg.RecoverBatch)
	if err != nil {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "propagation recovery scan failed", "error", err)
		}
		return 0
	}

	recovered := 0
	for _, d := range rows {
		job := queue.Job{ExclusionID: d.ExclusionID, OperatorID: d.OperatorID, StateVersion: d.StateVersion}
		if d.Status == models.DeliveryNotified {
			if e.failInterrupted(ctx, job) {
				recovered++
			}
			continue
		}
		at := now
		if d.NextRetryAt != nil {
			at = *d.NextRetryAt
		}
		if err := e.queue.Push(ctx, job, at); err != nil {
			e.warn(ctx, "failed to re-queue delivery", job, err)
			continue
		}
		recovered++
	}
	if e.metrics != nil {
		e.metrics.Recovered.Add(float64(recovered))
	}
	if recovered > 0 {
		e.debug(ctx, "propagation recovery scan", "requeued", recovered)
	}
	return recovered
}

func (e *Engine) failInterrupted(ctx context.Context, job queue.Job) bool {
	key := deliveryKey{exclusionID: job.ExclusionID, operatorID: job.OperatorID}
	e.inflightMu.Lock()
	_, running := e.inflight[key]
	e.inflightMu.Unlock()
	if running {
		return false
	}

	now := e.now()
	updated, err := e.store.Execute(ctx, job.ExclusionID, job.OperatorID,
		func(d *models.Delivery) error {
			if d.StateVersion != job.StateVersion || d.Status != models.DeliveryNotified {
				return errSuperseded
			}
			return nil
		},
		func(d *models.Delivery) { d.RecordFailure(now, errInterrupted.Error(), true, e.cfg.BackoffCap) },
	)
	if err != nil {
		if !errors.Is(err, errSuperseded) {
			e.warn(ctx, "failed to recover interrupted delivery", job, err)
		}
		return false
	}
	e.afterFailure(ctx, job, updated, errInterrupted)
	return true
}

// OnOperatorLicensed starts catching a newly licensed operator up on the
// register. It returns immediately.
func (e *Engine) OnOperatorLicensed(_ context.Context, op *opmodels.Operator) {
	operatorID := op.ID
	e.spawn(func(ctx context.Context) {
		if _, err := e.Backfill(ctx, operatorID); err != nil && e.logger != nil {
			e.logger.WarnContext(ctx, "operator backfill failed", "operator_id", operatorID, "error", err)
		}
	})
}

// Backfill creates the deliveries an operator is missing. Exclusions it
// already tracked are brought to their latest state; for the rest only
// active exclusions are sent.
func (e *Engine) Backfill(ctx context.Context, operatorID id.OperatorID) (int, error) {
	var (
		after    id.ExclusionID
		launched int
	)
	for {
		notices, err := e.store.ListNotices(ctx, after, e.cfg.BatchSize)
		if err != nil {
			return launched, err
		}
		if len(notices) == 0 {
			break
		}
		var jobs []queue.Job
		for _, n := range notices {
			after = n.ExclusionID
			if n.Status != string(exclmodels.StatusActive) {
				if _, err := e.store.FindDelivery(ctx, n.ExclusionID, operatorID); errors.Is(err, sentinel.ErrNotFound) {
					continue
				} else if err != nil {
					return launched, err
				}
			}
			_, due, err := e.store.EnsureForVersion(ctx, n.ExclusionID, operatorID, n.StateVersion, e.cfg.MaxRetries, e.now())
			if err != nil {
				return launched, err
			}
			if due {
				jobs = append(jobs, queue.Job{ExclusionID: n.ExclusionID, OperatorID: operatorID, StateVersion: n.StateVersion})
			}
		}
		e.launch("", jobs)
		launched += len(jobs)
		if len(notices) < e.cfg.BatchSize {
			break
		}
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "operator backfill complete", "operator_id", operatorID, "deliveries", launched)
	}
	return launched, nil
}
