// Package outbox relays audit outbox rows to Kafka. Delivery is
// at-least-once: a row is marked published only after the broker
// acknowledged it, and consumers de-duplicate on the entry id key.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nser/internal/platform/kafka"
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Store hands out batches of unpublished rows. Process must keep the batch
// locked while fn runs and mark it published only when fn succeeds.
type Store interface {
	Process(ctx context.Context, limit int, fn func(ctx context.Context, batch []Entry) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

type Metrics struct {
	published prometheus.Counter
	failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_outbox_published_total",
			Help: "Outbox rows published to Kafka",
		}),
		failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_outbox_publish_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
	}
}

// Relay polls the outbox and publishes rows to the audit topic.
type Relay struct {
	store     Store
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(store Store, publisher Publisher, topic string, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another poll so a backlog drains without waiting for the ticker.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns the number of rows relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	n, err := r.store.Process(ctx, r.batchSize, func(ctx context.Context, batch []Entry) error {
		msgs := make([]kafka.Message, 0, len(batch))
		for _, e := range batch {
			msgs = append(msgs, kafka.Message{
				Topic: r.topic,
				Key:   []byte(e.AggregateType + ":" + e.AggregateID),
				Value: e.Payload,
				Headers: map[string]string{
					"outbox_id":  e.ID.String(),
					"event_type": e.EventType,
				},
			})
		}
		return r.publisher.Publish(ctx, msgs...)
	})
	if r.metrics != nil {
		if err != nil {
			r.metrics.failures.Inc()
		} else {
			r.metrics.published.Add(float64(n))
		}
	}
	return n, err
}
