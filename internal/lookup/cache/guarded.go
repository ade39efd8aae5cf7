package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nser/pkg/platform/circuit"
)

// Guarded fronts a shared cache with a circuit breaker and a process-local
// fallback. Cache failures never reach callers: reads degrade to a miss and
// the caller goes to the store.
//
// When an invalidation cannot reach the shared cache, reads from it are
// suppressed for MaxTTL so an entry that missed its invalidation is never
// served.
type Guarded struct {
	primary  Cache
	fallback Cache
	breaker  *circuit.Breaker
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	staleUntil time.Time
}

type GuardedOption func(*Guarded)

func WithGuardLogger(logger *slog.Logger) GuardedOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

func WithGuardClock(now func() time.Time) GuardedOption {
	return func(g *Guarded) {
		g.now = now
	}
}

func NewGuarded(primary, fallback Cache, breaker *circuit.Breaker, opts ...GuardedOption) *Guarded {
	g := &Guarded{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if g.primaryReadable() {
		val, ok, err := g.primary.Get(ctx, key)
		if err == nil {
			g.recordSuccess(ctx)
			return val, ok, nil
		}
		g.recordFailure(ctx, "get", err)
	}
	val, ok, err := g.fallback.Get(ctx, key)
	if err != nil {
		return nil, false, nil
	}
	return val, ok, nil
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	_ = g.fallback.Set(ctx, key, value, ttl, tags...)
	if !g.breaker.Allow() {
		return nil
	}
	if err := g.primary.Set(ctx, key, value, ttl, tags...); err != nil {
		g.recordFailure(ctx, "set", err)
		return nil
	}
	g.recordSuccess(ctx)
	return nil
}

// Generation pairs the local generation with the shared one. The shared
// half is left off when the shared cache is unreachable, and SetIfCurrent
// then writes locally only.
func (g *Guarded) Generation(ctx context.Context) (Generation, error) {
	local, err := g.fallback.Generation(ctx)
	if err != nil {
		return nil, err
	}
	if !g.breaker.Allow() {
		return local, nil
	}
	shared, err := g.primary.Generation(ctx)
	if err != nil {
		g.recordFailure(ctx, "generation", err)
		return local, nil
	}
	g.recordSuccess(ctx)
	return append(local[:len(local):len(local)], shared...), nil
}

func (g *Guarded) SetIfCurrent(ctx context.Context, gen Generation, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	if len(gen) == 0 {
		return false, nil
	}
	stored, err := g.fallback.SetIfCurrent(ctx, gen[:1], key, value, ttl, tags...)
	if err != nil || !stored {
		return false, nil
	}
	if len(gen) == 1 || !g.breaker.Allow() {
		return true, nil
	}
	if _, err := g.primary.SetIfCurrent(ctx, gen[1:], key, value, ttl, tags...); err != nil {
		g.recordFailure(ctx, "set", err)
		return true, nil
	}
	g.recordSuccess(ctx)
	return true, nil
}

// InvalidateTag always attempts the shared cache, even with the breaker
// open, because a missed invalidation is worse than a slow one.
func (g *Guarded) InvalidateTag(ctx context.Context, tag string) error {
	_ = g.fallback.InvalidateTag(ctx, tag)
	if err := g.primary.InvalidateTag(ctx, tag); err != nil {
		g.mu.Lock()
		g.staleUntil = g.now().Add(MaxTTL)
		g.mu.Unlock()
		g.recordFailure(ctx, "invalidate", err)
		return nil
	}
	g.recordSuccess(ctx)
	return nil
}

func (g *Guarded) primaryReadable() bool {
	g.mu.Lock()
	suppressed := g.now().Before(g.staleUntil)
	g.mu.Unlock()
	if suppressed {
		return false
	}
	return g.breaker.Allow()
}

func (g *Guarded) recordFailure(ctx context.Context, op string, err error) {
	_, change := g.breaker.RecordFailure()
	if g.logger == nil {
		return
	}
	g.logger.WarnContext(ctx, "shared cache operation failed",
		"op", op,
		"breaker", g.breaker.Name(),
		"error", err,
	)
	if change.Opened {
		g.logger.ErrorContext(ctx, "shared cache circuit opened, using local cache",
			"breaker", g.breaker.Name(),
		)
	}
}

func (g *Guarded) recordSuccess(ctx context.Context) {
	_, change := g.breaker.RecordSuccess()
	if change.Closed && g.logger != nil {
		g.logger.InfoContext(ctx, "shared cache circuit closed",
			"breaker", g.breaker.Name(),
		)
	}
}
