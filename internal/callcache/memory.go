package callcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

type memEntry struct {
	value      model.CallResult
	insertedAt time.Time
	expiresAt  time.Time
}

// Memory is an in-process Store. It is not shared across processes; use
// Redis for multi-instance deployments.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	defaultTTL time.Duration
	now        func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// NewMemory creates an empty in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:    make(map[string]memEntry),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Set stores v under key. A non-positive ttl uses the default TTL.
func (m *Memory) Set(_ context.Context, key string, v model.CallResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = memEntry{value: v, insertedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

// Get returns the live entry for key.
func (m *Memory) Get(_ context.Context, key string) (model.CallResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return model.CallResult{}, false, nil
	}
	return e.value, true, nil
}

// Has reports whether key holds a live entry.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)
	return ok, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Stats lists live entries ordered by insertion time.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := Stats{Entries: make([]Entry, 0, len(m.entries))}
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			continue
		}
		out.Entries = append(out.Entries, Entry{
			Key:        k,
			Status:     string(e.value.Status),
			InsertedAt: e.insertedAt,
			ExpiresAt:  e.expiresAt,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		if out.Entries[i].InsertedAt.Equal(out.Entries[j].InsertedAt) {
			return out.Entries[i].Key < out.Entries[j].Key
		}
		return out.Entries[i].InsertedAt.Before(out.Entries[j].InsertedAt)
	})
	out.Size = len(out.Entries)
	return out, nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memEntry)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps on every tick until ctx is done.
func (m *Memory) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if n := m.Sweep(); n > 0 {
				zap.L().Debug("callcache: swept expired entries", zap.Int("removed", n))
			}
		}
	}
}

// Start runs the sweep loop on a ticker in the background.
func (m *Memory) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.Run(ctx, ticker.C)
	}()
}

// live must be called with mu held.
func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}
