// Package ban tracks time-bounded IP bans. A ban is written once by the
// session whose owner crossed the violation limit and read by every later
// join attempt from the same address.
package ban

import (
	"context"
	"sync"
	"time"
)

// DefaultDuration is how long an IP stays banned after repeated violations.
const DefaultDuration = 5 * time.Minute

// Store records and looks up IP bans.
type Store interface {
	// IsBanned reports whether ip is currently banned, the time left and the
	// recorded reason.
	IsBanned(ctx context.Context, ip string) (bool, time.Duration, string, error)
	// Ban bans ip for duration. A later Ban replaces the earlier one.
	Ban(ctx context.Context, ip string, duration time.Duration, reason string) error
}

type record struct {
	until  time.Time
	reason string
}

// MemoryStore is an in-process Store guarded by a single mutex. Expired
// records are ignored on lookup but never evicted.
type MemoryStore struct {
	mu   sync.RWMutex
	bans map[string]record
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil clock selects time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		bans: make(map[string]record),
		now:  now,
	}
}

// IsBanned implements Store.
func (s *MemoryStore) IsBanned(_ context.Context, ip string) (bool, time.Duration, string, error) {
	s.mu.RLock()
	rec, ok := s.bans[ip]
	s.mu.RUnlock()

	if !ok {
		return false, 0, "", nil
	}
	remaining := rec.until.Sub(s.now())
	if remaining <= 0 {
		return false, 0, "", nil
	}
	return true, remaining, rec.reason, nil
}

// Ban implements Store.
func (s *MemoryStore) Ban(_ context.Context, ip string, duration time.Duration, reason string) error {
	s.mu.Lock()
	s.bans[ip] = record{until: s.now().Add(duration), reason: reason}
	s.mu.Unlock()
	return nil
}
