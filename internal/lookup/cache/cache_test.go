package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "nser/pkg/domain"
	"nser/pkg/platform/circuit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_TTLAndTags(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))
	tokenA := TokenTag(id.NewTokenID())
	tokenB := TokenTag(id.NewTokenID())

	require.NoError(t, m.Set(ctx, "lookup:a", []byte("a"), 10*time.Second, tokenA))
	require.NoError(t, m.Set(ctx, "lookup:b", []byte("b"), 10*time.Second, tokenB))
	require.NoError(t, m.Set(ctx, "lookup:ab", []byte("ab"), 10*time.Second, tokenA, tokenB))

	t.Run("hit before expiry", func(t *testing.T) {
		val, ok, err := m.Get(ctx, "lookup:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("a"), val)
	})

	t.Run("invalidate tag drops every tagged key", func(t *testing.T) {
		require.NoError(t, m.InvalidateTag(ctx, tokenA))

		_, ok, _ := m.Get(ctx, "lookup:a")
		assert.False(t, ok)
		_, ok, _ = m.Get(ctx, "lookup:ab")
		assert.False(t, ok)
		_, ok, _ = m.Get(ctx, "lookup:b")
		assert.True(t, ok)
	})

	t.Run("expired entries miss", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		_, ok, _ := m.Get(ctx, "lookup:b")
		assert.False(t, ok)
		assert.Equal(t, 0, m.Len())
	})
}

func TestMemory_TTLIsClamped(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Hour))
	clock.Advance(MaxTTL)
	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 2*time.Second))
	require.NoError(t, m.Set(ctx, "other", []byte("v"), 30*time.Second))
	clock.Advance(3 * time.Second)
	assert.Equal(t, 1, m.Sweep())
}

func TestMemory_SetIfCurrentRejectsLoadThatRacedInvalidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tag := TokenTag(id.NewTokenID())

	gen, err := m.Generation(ctx)
	require.NoError(t, err)

	// The token changes while the caller is still reading the store.
	require.NoError(t, m.InvalidateTag(ctx, tag))

	stored, err := m.SetIfCurrent(ctx, gen, "lookup:a", []byte("not excluded"), 10*time.Second, tag)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := m.Get(ctx, "lookup:a")
	require.NoError(t, err)
	assert.False(t, ok, "a result loaded before the invalidation must not be cached")

	gen, err = m.Generation(ctx)
	require.NoError(t, err)
	stored, err = m.SetIfCurrent(ctx, gen, "lookup:a", []byte("excluded"), 10*time.Second, tag)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = m.SetIfCurrent(ctx, nil, "lookup:b", []byte("x"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, stored, "an empty generation never matches")
}

type brokenCache struct {
	mu    sync.Mutex
	fail  bool
	calls int
	inner *Memory
}

func (b *brokenCache) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (b *brokenCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := b.err(); err != nil {
		return nil, false, err
	}
	return b.inner.Get(ctx, key)
}

func (b *brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if err := b.err(); err != nil {
		return err
	}
	return b.inner.Set(ctx, key, value, ttl, tags...)
}

func (b *brokenCache) InvalidateTag(ctx context.Context, tag string) error {
	if err := b.err(); err != nil {
		return err
	}
	return b.inner.InvalidateTag(ctx, tag)
}

func (b *brokenCache) Generation(ctx context.Context) (Generation, error) {
	if err := b.err(); err != nil {
		return nil, err
	}
	return b.inner.Generation(ctx)
}

func (b *brokenCache) SetIfCurrent(ctx context.Context, gen Generation, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	if err := b.err(); err != nil {
		return false, err
	}
	return b.inner.SetIfCurrent(ctx, gen, key, value, ttl, tags...)
}

func (b *brokenCache) setFailing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func TestGuarded_DegradesToFallback(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	primary := &brokenCache{inner: NewMemory(WithClock(clock.Now))}
	fallback := NewMemory(WithClock(clock.Now))
	breaker := circuit.New("lookup-cache",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(clock.Now),
	)
	g := NewGuarded(primary, fallback, breaker, WithGuardClock(clock.Now))

	require.NoError(t, g.Set(ctx, "k", []byte("v"), 30*time.Second))

	primary.setFailing(true)
	for range 2 {
		val, ok, err := g.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "fallback should answer while the primary is down")
		assert.Equal(t, []byte("v"), val)
	}
	assert.True(t, breaker.IsOpen())

	primary.setFailing(false)
	clock.Advance(time.Second)
	_, _, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen(), "successful probe closes the breaker")
}

func TestGuarded_MissedInvalidationSuppressesPrimary(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	primary := &brokenCache{inner: NewMemory(WithClock(clock.Now))}
	fallback := NewMemory(WithClock(clock.Now))
	breaker := circuit.New("lookup-cache", circuit.WithFailureThreshold(5), circuit.WithClock(clock.Now))
	g := NewGuarded(primary, fallback, breaker, WithGuardClock(clock.Now))
	tag := TokenTag(id.NewTokenID())

	require.NoError(t, g.Set(ctx, "k", []byte("stale"), 30*time.Second, tag))

	primary.setFailing(true)
	require.NoError(t, g.InvalidateTag(ctx, tag), "invalidation failures are absorbed")
	primary.setFailing(false)

	_, ok, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "the primary still holds the stale entry and must not be read")

	clock.Advance(MaxTTL)
	callsBefore := primary.calls
	_, _, err = g.Get(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, primary.calls, callsBefore, "primary is read again once the window passes")
}

func TestGuarded_SetIfCurrentChecksBothLayers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	primary := &brokenCache{inner: NewMemory(WithClock(clock.Now))}
	fallback := NewMemory(WithClock(clock.Now))
	breaker := circuit.New("lookup-cache", circuit.WithFailureThreshold(5), circuit.WithClock(clock.Now))
	g := NewGuarded(primary, fallback, breaker, WithGuardClock(clock.Now))
	tag := TokenTag(id.NewTokenID())

	gen, err := g.Generation(ctx)
	require.NoError(t, err)
	require.Len(t, gen, 2)

	// Another instance invalidated the shared cache only.
	require.NoError(t, primary.InvalidateTag(ctx, tag))

	stored, err := g.SetIfCurrent(ctx, gen, "k", []byte("v"), 30*time.Second, tag)
	require.NoError(t, err)
	assert.True(t, stored, "the local layer has seen no invalidation")
	_, ok, err := primary.inner.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "the shared layer rejects the write")

	require.NoError(t, g.InvalidateTag(ctx, tag))
	stored, err = g.SetIfCurrent(ctx, gen, "k", []byte("v"), 30*time.Second, tag)
	require.NoError(t, err)
	assert.False(t, stored)

	primary.setFailing(true)
	gen, err = g.Generation(ctx)
	require.NoError(t, err)
	assert.Len(t, gen, 1, "an unreachable shared cache leaves only the local generation")
	stored, err = g.SetIfCurrent(ctx, gen, "k", []byte("v"), 30*time.Second, tag)
	require.NoError(t, err)
	assert.True(t, stored)
}
