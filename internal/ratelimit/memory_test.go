package ratelimit

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func TestMemoryLimiter_Window(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewMemoryLimiter(clock.Now)
	ctx := context.Background()

	for i := 0; i < RuleConnect.Limit; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1", RuleConnect)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, _ := l.Allow(ctx, "10.0.0.1", RuleConnect)
	assert.False(t, ok, "request over the limit should be denied")

	ok, _ = l.Allow(ctx, "10.0.0.2", RuleConnect)
	assert.True(t, ok, "other identifiers are independent")

	clock.Advance(RuleConnect.Window)
	ok, _ = l.Allow(ctx, "10.0.0.1", RuleConnect)
	assert.True(t, ok, "a new window starts after the old one passes")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewMemoryLimiter(clock.Now)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", RuleConnect)
	clock.Advance(30 * time.Second)
	_, _ = l.Allow(ctx, "b", RuleConnect)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep(RuleConnect.Window))
	assert.Len(t, l.buckets, 1)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemoryLimiter(nil)
	rule := Rule{Key: "rl:test:", Limit: 10, Window: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(context.Background(), "x", rule); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestExtractIP(t *testing.T) {
	spoofed := map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.0.2.1:54321", nil, false, "192.0.2.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, false, "2001:db8::1"},
		{"remote addr without port", "192.0.2.1", nil, false, "192.0.2.1"},
		{"headers ignored by default", "192.0.2.1:1", spoofed, false, "192.0.2.1"},
		{"forwarded for single", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.7"}, true, "203.0.113.7"},
		{"forwarded for chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.2"}, true, "203.0.113.7"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.4"}, true, "198.51.100.4"},
		{"forwarded wins over real ip", "10.0.0.1:1", spoofed, true, "203.0.113.7"},
		{"trusted proxy without headers", "10.0.0.1:1", nil, true, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractIP(r, tt.trustProxy))
		})
	}
}
