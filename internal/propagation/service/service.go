// Package service is the propagation engine. It fans every exclusion state
// out to the licensed operators, retries failed deliveries from a delayed
// queue, and derives per-record compliance from the delivery mappings.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Directory,Sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	opmodels "nser/internal/operator/models"
	propmetrics "nser/internal/propagation/metrics"
	"nser/internal/propagation/models"
	"nser/internal/propagation/queue"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
	"nser/pkg/requestcontext"
)

const tracerName = "nser/internal/propagation"

type Store interface {
	SaveNotice(ctx context.Context, n models.Notice) (bool, error)
	LatestNotice(ctx context.Context, exclusionID id.ExclusionID) (*models.Notice, error)
	ListNotices(ctx context.Context, after id.ExclusionID, limit int) ([]*models.Notice, error)
	EnsureForVersion(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, stateVersion, maxRetries int, now time.Time) (*models.Delivery, bool, error)
	FindDelivery(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID) (*models.Delivery, error)
	ListByExclusion(ctx context.Context, exclusionID id.ExclusionID) ([]*models.Delivery, error)
	ListRecoverable(ctx context.Context, dueBefore, staleBefore time.Time, limit int) ([]*models.Delivery, error)
	Execute(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, validate func(*models.Delivery) error, mutate func(*models.Delivery)) (*models.Delivery, error)
}

// Directory is the operator directory collaborator.
type Directory interface {
	ListActive(ctx context.Context) ([]*opmodels.Operator, error)
	Get(ctx context.Context, operatorID id.OperatorID) (*opmodels.Operator, error)
}

// Sender performs one delivery attempt. A nil error is an acknowledgement.
type Sender interface {
	Send(ctx context.Context, op *opmodels.Operator, n models.Notice) error
}

type Queue interface {
	Push(ctx context.Context, job queue.Job, at time.Time) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]queue.Job, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, change audit.Change) error
}

// Config tunes delivery. Zero values take the defaults.
type Config struct {
	MaxRetries      int
	BackoffCap      time.Duration
	AttemptTimeout  time.Duration
	FanOut          int
	MaxInFlight     int64
	PollInterval    time.Duration
	RecoverInterval time.Duration
	BatchSize       int
	RecoverBatch    int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	if c.FanOut <= 0 {
		c.FanOut = 16
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.RecoverInterval <= 0 {
		c.RecoverInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RecoverBatch <= 0 {
		c.RecoverBatch = 5000
	}
	return c
}

type Engine struct {
	store     Store
	directory Directory
	sender    Sender
	queue     Queue
	tx        tx.Runner
	auditor   AuditRecorder
	cfg       Config
	logger    *slog.Logger
	metrics   *propmetrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	slots *semaphore.Weighted
	locks *keyedMutex

	inflightMu sync.Mutex
	inflight   map[deliveryKey]inflightAttempt

	root   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *propmetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

func WithQueue(q Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func New(store Store, directory Directory, sender Sender, txRunner tx.Runner, auditor AuditRecorder, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		directory: directory,
		sender:    sender,
		tx:        txRunner,
		auditor:   auditor,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		locks:     newKeyedMutex(),
		inflight:  make(map[deliveryKey]inflightAttempt),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	if e.queue == nil {
		e.queue = queue.NewMemory()
	}
	e.slots = semaphore.NewWeighted(e.cfg.MaxInFlight)
	e.root, e.cancel = context.WithCancel(context.Background())
	return e
}

// Dispatch records n as the state every licensed operator must learn and
// starts delivery. A notice older than the one already recorded is ignored.
// Returning means the obligation is durable; delivery continues in the
// background.
func (e *Engine) Dispatch(ctx context.Context, n models.Notice) error {
	now := e.now()
	var (
		jobs  []queue.Job
		stale bool
	)
	err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		jobs, stale = nil, false
		saved, err := e.store.SaveNotice(txCtx, n)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record notice")
		}
		if !saved {
			stale = true
			return nil
		}
		ops, err := e.directory.ListActive(txCtx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list operators")
		}
		for _, op := range ops {
			_, due, err := e.store.EnsureForVersion(txCtx, n.ExclusionID, op.ID, n.StateVersion, e.cfg.MaxRetries, now)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create delivery")
			}
			if due {
				jobs = append(jobs, queue.Job{ExclusionID: n.ExclusionID, OperatorID: op.ID, StateVersion: n.StateVersion})
			}
		}
		return e.auditor.Record(txCtx, audit.Change{
			EntityType: audit.EntityDelivery,
			EntityID:   n.ExclusionID.String(),
			Action:     audit.ActionDeliveryDispatched,
			After: map[string]any{
				"state_version": n.StateVersion,
				"status":        n.Status,
				"operators":     len(ops),
			},
		})
	})
	if err != nil {
		return err
	}
	if stale {
		e.debug(ctx, "stale notice ignored", "exclusion_id", n.ExclusionID, "state_version", n.StateVersion)
		return nil
	}

	e.cancelSuperseded(n.ExclusionID, n.StateVersion)
	if e.metrics != nil {
		e.metrics.Dispatches.Inc()
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "propagation dispatched",
			"exclusion_id", n.ExclusionID,
			"state_version", n.StateVersion,
			"status", n.Status,
			"deliveries", len(jobs),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	e.launch(requestcontext.RequestID(ctx), jobs)
	return nil
}

// Summary derives the compliance summary for stateVersion. When that
// version is the latest dispatched one, only the operators it was sent to
// count.
func (e *Engine) Summary(ctx context.Context, exclusionID id.ExclusionID, stateVersion int) (*models.ComplianceSummary, error) {
	rows, err := e.store.ListByExclusion(ctx, exclusionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deliveries")
	}
	latest, err := e.store.LatestNotice(ctx, exclusionID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load notice")
	}
	if latest != nil && latest.StateVersion == stateVersion {
		current := rows[:0]
		for _, d := range rows {
			if d.StateVersion == stateVersion {
				current = append(current, d)
			}
		}
		rows = current
	}
	return models.Summarize(exclusionID, stateVersion, rows), nil
}

// GetComplianceSummary summarizes the latest dispatched state. A record
// that was never dispatched is pending.
func (e *Engine) GetComplianceSummary(ctx context.Context, exclusionID id.ExclusionID) (*models.ComplianceSummary, error) {
	latest, err := e.store.LatestNotice(ctx, exclusionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Summarize(exclusionID, 0, nil), nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load notice")
	}
	return e.Summary(ctx, exclusionID, latest.StateVersion)
}

// launch runs jobs with per-dispatch fan-out bounded by cfg.FanOut and
// engine-wide concurrency bounded by cfg.MaxInFlight.
func (e *Engine) launch(requestID string, jobs []queue.Job) {
	if len(jobs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := requestcontext.WithRequestID(e.root, requestID)
		e.runJobs(ctx, jobs)
	}()
}

// spawn runs fn in the background until the engine closes.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.root)
	}()
}

// Wait blocks until every launched attempt has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels in-flight attempts and waits for them. Interrupted
// mappings are picked up by the recovery scan on the next start.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) debug(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.DebugContext(ctx, msg, args...)
	}
}
