package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/lobby/internal/ban"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type failingBans struct{ ban.Store }

func (failingBans) IsBanned(context.Context, string) (bool, time.Duration, string, error) {
	return false, 0, "", errors.New("store down")
}

func (failingBans) Ban(context.Context, string, time.Duration, string) error {
	return errors.New("store down")
}

func newTestModerator(t *testing.T, mute int) (*Moderator, *fakeClock, *ban.MemoryStore) {
	t.Helper()
	clock := newFakeClock()
	bans := ban.NewMemoryStore(clock.Now)
	m := NewModerator(DefaultPolicy(), NewFilterWithTerms([]string{"badword"}), bans,
		WithClock(clock.Now),
		WithRand(func(lo, hi int) int { return mute }),
	)
	return m, clock, bans
}

func TestEvaluate_Accepted(t *testing.T) {
	m, clock, _ := newTestModerator(t, 10)
	ctx := context.Background()

	v, err := m.Evaluate(ctx, "alice", "10.0.0.1", "hello")
	require.NoError(t, err)
	assert.Equal(t, Accepted, v.Outcome)
	assert.NoError(t, v.Err())

	st, ok := m.state("alice")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), st.lastMessageAt)
	assert.Zero(t, st.violations)
}

func TestEvaluate_RateLimit(t *testing.T) {
	m, clock, _ := newTestModerator(t, 10)
	ctx := context.Background()

	v, _ := m.Evaluate(ctx, "alice", "10.0.0.1", "hi")
	require.Equal(t, Accepted, v.Outcome)

	clock.Advance(1500 * time.Millisecond)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "hi again")
	assert.Equal(t, RateLimited, v.Outcome)
	assert.ErrorIs(t, v.Err(), ErrRateLimited)

	// The rejected message did not restart the window.
	clock.Advance(600 * time.Millisecond)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "third")
	assert.Equal(t, Accepted, v.Outcome)
}

func TestEvaluate_RateLimitIsPerNickname(t *testing.T) {
	m, _, _ := newTestModerator(t, 10)
	ctx := context.Background()

	v, _ := m.Evaluate(ctx, "alice", "10.0.0.1", "hi")
	require.Equal(t, Accepted, v.Outcome)
	v, _ = m.Evaluate(ctx, "bob", "10.0.0.1", "hi")
	assert.Equal(t, Accepted, v.Outcome)
}

func TestEvaluate_ViolationMutes(t *testing.T) {
	m, clock, bans := newTestModerator(t, 30)
	ctx := context.Background()

	v, err := m.Evaluate(ctx, "alice", "10.0.0.1", "this is BADWORD")
	require.NoError(t, err)
	assert.Equal(t, MutedForViolation, v.Outcome)
	assert.Equal(t, 30*time.Second, v.Mute)
	assert.Equal(t, 1, v.Violations)
	assert.Equal(t, 3, v.Limit)

	var verr *ViolationError
	require.ErrorAs(t, v.Err(), &verr)
	assert.Equal(t, 1, verr.Count)

	// Violations do not count towards the rate limit window.
	clock.Advance(5 * time.Second)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "clean")
	assert.Equal(t, Muted, v.Outcome)
	assert.Equal(t, 25*time.Second, v.Remaining)

	var merr *MutedError
	require.ErrorAs(t, v.Err(), &merr)
	assert.Contains(t, merr.Error(), "25 seconds")

	clock.Advance(25 * time.Second)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "clean")
	assert.Equal(t, Accepted, v.Outcome)

	banned, _, _, _ := bans.IsBanned(ctx, "10.0.0.1")
	assert.False(t, banned)
}

func TestEvaluate_RateLimitCheckedBeforeMute(t *testing.T) {
	m, clock, _ := newTestModerator(t, 60)
	ctx := context.Background()

	v, _ := m.Evaluate(ctx, "alice", "10.0.0.1", "hello")
	require.Equal(t, Accepted, v.Outcome)
	clock.Advance(2 * time.Second)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "badword")
	require.Equal(t, MutedForViolation, v.Outcome)

	// Outside the rate window, so the mute is what rejects.
	clock.Advance(time.Second)
	v, _ = m.Evaluate(ctx, "alice", "10.0.0.1", "hello")
	assert.Equal(t, Muted, v.Outcome)
}

func TestEvaluate_EscalatesToBan(t *testing.T) {
	m, clock, bans := newTestModerator(t, 10)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		v, err := m.Evaluate(ctx, "mallory", "10.0.0.9", "badword")
		require.NoError(t, err)
		require.Equal(t, MutedForViolation, v.Outcome)
		require.Equal(t, i, v.Violations)
		clock.Advance(11 * time.Second)
	}

	v, err := m.Evaluate(ctx, "mallory", "10.0.0.9", "badword")
	require.NoError(t, err)
	assert.Equal(t, BannedForViolations, v.Outcome)
	assert.Equal(t, 3, v.Violations)
	assert.Equal(t, clock.Now().Add(5*time.Minute), v.BanUntil)
	assert.ErrorIs(t, v.Err(), ErrBannedForViolations)

	banned, remaining, reason, err := bans.IsBanned(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, 5*time.Minute, remaining)
	assert.Equal(t, ReasonViolations, reason)

	var ipErr *IPBannedError
	require.ErrorAs(t, m.CheckJoin(ctx, "10.0.0.9"), &ipErr)
	assert.Equal(t, 5*time.Minute, ipErr.Remaining)

	clock.Advance(5*time.Minute + time.Second)
	assert.NoError(t, m.CheckJoin(ctx, "10.0.0.9"))
}

func TestEvaluate_ViolationsSurviveRejoin(t *testing.T) {
	m, clock, _ := newTestModerator(t, 10)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Evaluate(ctx, "mallory", "10.0.0.9", "badword")
		clock.Advance(11 * time.Second)
	}

	// Same nickname from a new address keeps its count.
	v, _ := m.Evaluate(ctx, "mallory", "10.0.0.10", "badword")
	assert.Equal(t, BannedForViolations, v.Outcome)
	assert.Error(t, m.CheckJoin(ctx, "10.0.0.10"))
	assert.NoError(t, m.CheckJoin(ctx, "10.0.0.9"))
}

func TestEvaluate_BanStoreFailure(t *testing.T) {
	clock := newFakeClock()
	m := NewModerator(Policy{
		SpamInterval:   2 * time.Second,
		MuteMin:        10 * time.Second,
		MuteMax:        10 * time.Second,
		ViolationLimit: 1,
		BanDuration:    time.Minute,
	}, NewFilterWithTerms([]string{"badword"}), failingBans{}, WithClock(clock.Now))

	v, err := m.Evaluate(context.Background(), "mallory", "10.0.0.9", "badword")
	assert.Error(t, err)
	assert.Equal(t, BannedForViolations, v.Outcome)
	assert.Equal(t, 10*time.Second, v.Mute)
}

func TestCheckJoin_FailsOpen(t *testing.T) {
	m := NewModerator(DefaultPolicy(), nil, failingBans{})
	assert.NoError(t, m.CheckJoin(context.Background(), "10.0.0.1"))
}

func TestDrawMute_WithinBounds(t *testing.T) {
	m := NewModerator(DefaultPolicy(), nil, ban.NewMemoryStore(nil))
	for i := 0; i < 500; i++ {
		d := m.drawMute()
		require.GreaterOrEqual(t, d, 10*time.Second)
		require.LessOrEqual(t, d, 120*time.Second)
		require.Zero(t, d%time.Second)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	m, _, _ := newTestModerator(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := m.Evaluate(ctx, "alice", "10.0.0.1", "hello")
			if v.Outcome == Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// The clock never moves, so only the first message fits the window.
	assert.Equal(t, 1, accepted)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "banned_for_violations", BannedForViolations.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
