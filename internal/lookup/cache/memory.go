package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

// Memory is a process-local cache. Expired entries are dropped lazily on
// read and by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byTag   map[string]map[string]struct{}
	gen     uint64
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && !m.now().Before(cur.expiresAt) {
			m.removeLocked(key, cur)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setLocked(key, value, ttl, tags)
	return nil
}

func (m *Memory) Generation(context.Context) (Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Generation{m.gen}, nil
}

// SetIfCurrent stores the entry only if no tag was invalidated since gen
// was taken.
func (m *Memory) SetIfCurrent(_ context.Context, gen Generation, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(gen) != 1 || gen[0] != m.gen {
		return false, nil
	}
	m.setLocked(key, value, ttl, tags)
	return true, nil
}

func (m *Memory) setLocked(key string, value []byte, ttl time.Duration, tags []string) {
	if old, ok := m.entries[key]; ok {
		m.removeLocked(key, old)
	}
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ClampTTL(ttl)),
		tags:      append([]string(nil), tags...),
	}
	for _, tag := range tags {
		keys, ok := m.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (m *Memory) InvalidateTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	for key := range m.byTag[tag] {
		if e, ok := m.entries[key]; ok {
			m.removeLocked(key, e)
		}
	}
	delete(m.byTag, tag)
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.removeLocked(key, e)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) removeLocked(key string, e memoryEntry) {
	delete(m.entries, key)
	for _, tag := range e.tags {
		keys := m.byTag[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.byTag, tag)
		}
	}
}
