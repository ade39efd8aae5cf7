package service

import (
	"context"
	"log/slog"
	"time"

	tokenmetrics "nser/internal/token/metrics"
	"nser/internal/token/store"
	id "nser/pkg/domain"
)

type UsageStore interface {
	RecordUsage(ctx context.Context, usages []store.Usage) error
}

type usageHit struct {
	tokenID id.TokenID
	at      time.Time
}

// UsageRecorder coalesces validation hits and writes them in batches so the
// lookup path never waits on a counter update. When the buffer is full the
// hit is dropped and counted.
type UsageRecorder struct {
	store         UsageStore
	hits          chan usageHit
	flushInterval time.Duration
	maxBatch      int
	logger        *slog.Logger
	metrics       *tokenmetrics.Metrics
}

type UsageOption func(*UsageRecorder)

func WithUsageBuffer(n int) UsageOption {
	return func(u *UsageRecorder) {
		if n > 0 {
			u.hits = make(chan usageHit, n)
		}
	}
}

func WithFlushInterval(d time.Duration) UsageOption {
	return func(u *UsageRecorder) {
		if d > 0 {
			u.flushInterval = d
		}
	}
}

func WithUsageLogger(logger *slog.Logger) UsageOption {
	return func(u *UsageRecorder) {
		u.logger = logger
	}
}

func WithUsageMetrics(m *tokenmetrics.Metrics) UsageOption {
	return func(u *UsageRecorder) {
		u.metrics = m
	}
}

func NewUsageRecorder(s UsageStore, opts ...UsageOption) *UsageRecorder {
	u := &UsageRecorder{
		store:         s,
		hits:          make(chan usageHit, 4096),
		flushInterval: 2 * time.Second,
		maxBatch:      512,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Record queues one hit. It never blocks.
func (u *UsageRecorder) Record(tokenID id.TokenID, at time.Time) bool {
	select {
	case u.hits <- usageHit{tokenID: tokenID, at: at}:
		return true
	default:
		if u.metrics != nil {
			u.metrics.IncrementUsageDropped()
		}
		return false
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (u *UsageRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.flushInterval)
	defer ticker.Stop()

	pending := make(map[id.TokenID]*store.Usage)
	for {
		select {
		case <-ctx.Done():
			u.drain(pending)
			u.flush(context.WithoutCancel(ctx), pending)
			return nil
		case hit := <-u.hits:
			accumulate(pending, hit)
			if len(pending) >= u.maxBatch {
				u.flush(ctx, pending)
			}
		case <-ticker.C:
			u.flush(ctx, pending)
		}
	}
}

func (u *UsageRecorder) drain(pending map[id.TokenID]*store.Usage) {
	for {
		select {
		case hit := <-u.hits:
			accumulate(pending, hit)
		default:
			return
		}
	}
}

func (u *UsageRecorder) flush(ctx context.Context, pending map[id.TokenID]*store.Usage) {
	if len(pending) == 0 {
		return
	}
	batch := make([]store.Usage, 0, len(pending))
	for _, usage := range pending {
		batch = append(batch, *usage)
	}
	clear(pending)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := u.store.RecordUsage(ctx, batch); err != nil && u.logger != nil {
		u.logger.WarnContext(ctx, "failed to record token usage",
			"tokens", len(batch),
			"error", err,
		)
	}
}

func accumulate(pending map[id.TokenID]*store.Usage, hit usageHit) {
	usage, ok := pending[hit.tokenID]
	if !ok {
		pending[hit.tokenID] = &store.Usage{TokenID: hit.tokenID, UsedAt: hit.at, Count: 1}
		return
	}
	usage.Count++
	if hit.at.After(usage.UsedAt) {
		usage.UsedAt = hit.at
	}
}
