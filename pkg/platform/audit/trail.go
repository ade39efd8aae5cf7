package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "nser/pkg/domain"
	"nser/pkg/requestcontext"
)

// Metrics counts trail writes.
type Metrics struct {
	recorded        *prometheus.CounterVec
	persistFailures prometheus.Counter
	persistLatency  prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_audit_entries_recorded_total",
			Help: "Audit entries written, by category",
		}, []string{"category"}),
		persistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_audit_persist_failures_total",
			Help: "Audit entries that failed to persist (the mutation was rejected)",
		}),
		persistLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nser_audit_persist_duration_seconds",
			Help:    "Time to append an audit entry",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

// Trail writes audit entries with fail-closed semantics: when the entry
// cannot be persisted the caller's transaction must fail.
type Trail struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Trail) {
		t.metrics = m
	}
}

func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{store: store}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends an entry for change. Actor, request id and timestamp come
// from the request context. Call it with the transaction context of the
// mutation it describes.
func (t *Trail) Record(ctx context.Context, change Change) error {
	if change.Action == "" || change.EntityType == "" || change.EntityID == "" {
		return fmt.Errorf("audit change requires entity and action")
	}
	start := time.Now()

	before, err := snapshot(change.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before snapshot: %w", err)
	}
	after, err := snapshot(change.After)
	if err != nil {
		return fmt.Errorf("marshal audit after snapshot: %w", err)
	}

	entry := Entry{
		ID:         id.NewAuditEntryID(),
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Action:     change.Action,
		Category:   change.Action.Category(),
		Actor:      requestcontext.Actor(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Reason:     change.Reason,
		Before:     before,
		After:      after,
		OccurredAt: requestcontext.Now(ctx),
	}

	if err := t.store.Append(ctx, entry); err != nil {
		if t.metrics != nil {
			t.metrics.persistFailures.Inc()
		}
		if t.logger != nil {
			t.logger.ErrorContext(ctx, "CRITICAL: audit entry failed to persist",
				"action", change.Action,
				"entity_type", change.EntityType,
				"entity_id", change.EntityID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	if t.metrics != nil {
		t.metrics.persistLatency.Observe(time.Since(start).Seconds())
		t.metrics.recorded.WithLabelValues(string(entry.Category)).Inc()
	}
	return nil
}

// ListByEntity returns the history of one entity, oldest first.
func (t *Trail) ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error) {
	return t.store.ListByEntity(ctx, entityType, entityID)
}

// ListByTimeRange returns entries with from <= OccurredAt < to, oldest first.
func (t *Trail) ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	return t.store.ListByTimeRange(ctx, from, to, limit)
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
