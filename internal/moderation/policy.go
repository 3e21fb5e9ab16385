package moderation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/ban"
)

// ReasonViolations is the ban reason recorded when a nickname reaches the
// violation limit.
const ReasonViolations = "repeated_violations"

// Policy holds the posting policy parameters.
type Policy struct {
	SpamInterval   time.Duration // minimum gap between accepted messages
	MuteMin        time.Duration // shortest mute applied on a violation
	MuteMax        time.Duration // longest mute applied on a violation
	ViolationLimit int           // violations at which the sender's IP is banned
	BanDuration    time.Duration
}

// DefaultPolicy returns the standard posting policy.
func DefaultPolicy() Policy {
	return Policy{
		SpamInterval:   2 * time.Second,
		MuteMin:        10 * time.Second,
		MuteMax:        120 * time.Second,
		ViolationLimit: 3,
		BanDuration:    ban.DefaultDuration,
	}
}

type userState struct {
	lastMessageAt time.Time
	muteUntil     time.Time
	violations    int
}

// Moderator applies the posting policy. Per-nickname state is keyed by
// nickname and survives disconnects, so a returning nickname keeps its mute
// and violation count. IP bans live in the ban.Store.
type Moderator struct {
	mu     sync.Mutex
	users  map[string]*userState
	policy Policy
	filter *Filter
	bans   ban.Store
	now    func() time.Time
	randN  func(lo, hi int) int
}

// Option configures a Moderator.
type Option func(*Moderator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Moderator) { m.now = now }
}

// WithRand replaces the uniform integer draw used for mute lengths. fn must
// return a value in [lo, hi].
func WithRand(fn func(lo, hi int) int) Option {
	return func(m *Moderator) { m.randN = fn }
}

// NewModerator creates a Moderator. A nil filter selects NewFilter().
func NewModerator(policy Policy, filter *Filter, bans ban.Store, opts ...Option) *Moderator {
	if filter == nil {
		filter = NewFilter()
	}
	m := &Moderator{
		users:  make(map[string]*userState),
		policy: policy,
		filter: filter,
		bans:   bans,
		now:    time.Now,
		randN: func(lo, hi int) int {
			return lo + rand.IntN(hi-lo+1)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active policy.
func (m *Moderator) Policy() Policy {
	return m.policy
}

// Evaluate applies the posting policy to body, sent by nickname from ip.
// Checks run in a fixed order: rate limit, active mute, content. Rejected
// messages do not reset the rate-limit window. A content violation draws a
// fresh mute and increments the violation count; reaching the limit bans ip.
//
// The returned error is non-nil only when the ban could not be recorded; the
// verdict is still BannedForViolations in that case.
func (m *Moderator) Evaluate(ctx context.Context, nickname, ip, body string) (Verdict, error) {
	now := m.now()

	m.mu.Lock()
	st := m.users[nickname]
	if st != nil && !st.lastMessageAt.IsZero() && now.Sub(st.lastMessageAt) < m.policy.SpamInterval {
		m.mu.Unlock()
		return Verdict{Outcome: RateLimited}, nil
	}
	if st != nil && now.Before(st.muteUntil) {
		remaining := st.muteUntil.Sub(now)
		m.mu.Unlock()
		return Verdict{Outcome: Muted, Remaining: remaining}, nil
	}

	blocked := m.filter.ContainsProhibited(body)
	if st == nil {
		st = &userState{}
		m.users[nickname] = st
	}
	if !blocked {
		st.lastMessageAt = now
		m.mu.Unlock()
		return Verdict{Outcome: Accepted}, nil
	}

	mute := m.drawMute()
	st.muteUntil = now.Add(mute)
	st.violations++
	v := Verdict{
		Mute:       mute,
		Violations: st.violations,
		Limit:      m.policy.ViolationLimit,
	}
	m.mu.Unlock()

	if v.Violations < m.policy.ViolationLimit {
		v.Outcome = MutedForViolation
		return v, nil
	}

	v.Outcome = BannedForViolations
	v.BanUntil = now.Add(m.policy.BanDuration)
	if err := m.bans.Ban(ctx, ip, m.policy.BanDuration, ReasonViolations); err != nil {
		return v, fmt.Errorf("moderation: ban %s: %w", ip, err)
	}
	return v, nil
}

// CheckJoin returns an *IPBannedError when ip is currently banned. A failed
// ban lookup is logged and the join allowed.
func (m *Moderator) CheckJoin(ctx context.Context, ip string) error {
	banned, remaining, _, err := m.bans.IsBanned(ctx, ip)
	if err != nil {
		zap.S().Warnw("[moderation] ban lookup failed, allowing join", "ip", ip, "error", err)
		return nil
	}
	if banned {
		return &IPBannedError{Remaining: remaining}
	}
	return nil
}

// state returns a copy of nickname's moderation state.
func (m *Moderator) state(nickname string) (userState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[nickname]
	if !ok {
		return userState{}, false
	}
	return *st, true
}

// drawMute picks a mute length in whole seconds within the policy bounds.
func (m *Moderator) drawMute() time.Duration {
	lo := int(m.policy.MuteMin / time.Second)
	hi := int(m.policy.MuteMax / time.Second)
	if hi < lo {
		hi = lo
	}
	return time.Duration(m.randN(lo, hi)) * time.Second
}
