package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is an in-process fixed-window limiter. Buckets whose window
// has passed are swept by Sweep; call it periodically on long-running
// servers.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryLimiter creates an empty MemoryLimiter. A nil clock selects
// time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// Allow implements Allower. It never fails.
func (m *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || now.Sub(b.windowStart) >= rule.Window {
		m.buckets[key] = &bucket{count: 1, windowStart: now}
		return rule.Limit >= 1, nil
	}
	b.count++
	return b.count <= rule.Limit, nil
}

// Sweep drops buckets older than window and returns how many were removed.
func (m *MemoryLimiter) Sweep(window time.Duration) int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, b := range m.buckets {
		if now.Sub(b.windowStart) >= window {
			delete(m.buckets, key)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (m *MemoryLimiter) RunSweeper(ctx context.Context, interval, window time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(window)
		}
	}
}
