// Package events fans exclusion state changes out to consumers that sit
// outside the register core: the notification hook and the Kafka topic read
// by compliance and analytics.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nser/internal/platform/kafka"
	id "nser/pkg/domain"
)

const defaultBuffer = 1024

// StateChanged is emitted after every committed exclusion transition.
type StateChanged struct {
	ExclusionID  id.ExclusionID `json:"exclusionId"`
	Reference    string         `json:"reference"`
	TokenID      id.TokenID     `json:"tokenId"`
	Status       string         `json:"status"`
	Action       string         `json:"action"`
	StateVersion int            `json:"stateVersion"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// Subscriber consumes state changes. Errors are logged and never reach the
// transition that produced the event.
type Subscriber interface {
	Name() string
	OnExclusionStateChanged(ctx context.Context, event StateChanged) error
}

type Metrics struct {
	published prometheus.Counter
	dropped   prometheus.Counter
	failures  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_events_published_total",
			Help: "Exclusion state-change events accepted by the bus",
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_events_dropped_total",
			Help: "Events dropped because the bus buffer was full",
		}),
		failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_events_subscriber_failures_total",
			Help: "Subscriber errors by subscriber name",
		}, []string{"subscriber"}),
	}
}

// Bus is an in-process, buffered fan-out. Publish never blocks; Run
// delivers to subscribers one event at a time.
type Bus struct {
	inbox       chan StateChanged
	subscribers []Subscriber
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Bus)

func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inbox = make(chan StateChanged, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{inbox: make(chan StateChanged, defaultBuffer)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe must be called before Run.
func (b *Bus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Publish enqueues event. A full buffer drops it with a warning.
func (b *Bus) Publish(ctx context.Context, event StateChanged) {
	select {
	case b.inbox <- event:
		if b.metrics != nil {
			b.metrics.published.Inc()
		}
	default:
		if b.metrics != nil {
			b.metrics.dropped.Inc()
		}
		if b.logger != nil {
			b.logger.WarnContext(ctx, "event bus full, dropping state change",
				"exclusion_id", event.ExclusionID,
				"state_version", event.StateVersion,
			)
		}
	}
}

// Run delivers events until ctx is done, then drains what is buffered.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case event := <-b.inbox:
					b.deliver(drainCtx, event)
				default:
					return nil
				}
			}
		case event := <-b.inbox:
			b.deliver(ctx, event)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, event StateChanged) {
	for _, s := range b.subscribers {
		if err := s.OnExclusionStateChanged(ctx, event); err != nil {
			if b.metrics != nil {
				b.metrics.failures.WithLabelValues(s.Name()).Inc()
			}
			if b.logger != nil {
				b.logger.WarnContext(ctx, "event subscriber failed",
					"subscriber", s.Name(),
					"exclusion_id", event.ExclusionID,
					"error", err,
				)
			}
		}
	}
}

type Producer interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSubscriber writes events to a topic keyed by exclusion id so one
// record's changes stay ordered within a partition.
type KafkaSubscriber struct {
	producer Producer
	topic    string
}

func NewKafkaSubscriber(producer Producer, topic string) *KafkaSubscriber {
	return &KafkaSubscriber{producer: producer, topic: topic}
}

func (k *KafkaSubscriber) Name() string { return "kafka" }

func (k *KafkaSubscriber) OnExclusionStateChanged(ctx context.Context, event StateChanged) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.producer.Publish(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(event.ExclusionID.String()),
		Value: value,
		Headers: map[string]string{
			"event_type": "exclusion_state_changed",
			"action":     event.Action,
		},
	})
}

// Notifier is the external notification channel (SMS, email, push). It is
// best-effort.
type Notifier interface {
	NotifyExclusionChange(ctx context.Context, event StateChanged) error
}

// NotificationHook adapts a Notifier to the bus.
type NotificationHook struct {
	notifier Notifier
}

func NewNotificationHook(n Notifier) *NotificationHook {
	return &NotificationHook{notifier: n}
}

func (h *NotificationHook) Name() string { return "notification" }

func (h *NotificationHook) OnExclusionStateChanged(ctx context.Context, event StateChanged) error {
	return h.notifier.NotifyExclusionChange(ctx, event)
}

// LogNotifier stands in for the notification service when none is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyExclusionChange(ctx context.Context, event StateChanged) error {
	n.logger.InfoContext(ctx, "exclusion notification",
		"exclusion_id", event.ExclusionID,
		"status", event.Status,
		"state_version", event.StateVersion,
	)
	return nil
}
