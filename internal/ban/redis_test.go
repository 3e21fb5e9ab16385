package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisStore creates a RedisStore connected to a local Redis instance
// and removes leftover test keys. Tests that call this helper require a
// running Redis on localhost:6379.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	clean := func() {
		iter := client.Scan(ctx, 0, BanPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisStore(client)
}

func TestRedisStore_NotBanned(t *testing.T) {
	store := newTestRedisStore(t)

	banned, remaining, reason, err := store.IsBanned(context.Background(), "test_no_ban")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%s reason=%q)", remaining, reason)
	}
}

func TestRedisStore_BanAndCheck(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	ip := "test_ban_check"

	if err := store.Ban(ctx, ip, 30*time.Second, "violations"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, ip)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "violations" {
		t.Errorf("expected reason=%q, got %q", "violations", reason)
	}
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("expected remaining in (0,30s], got %s", remaining)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	ip := "test_expiry"

	if err := store.Ban(ctx, ip, 1*time.Second, "violations"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	banned, _, _, err := store.IsBanned(ctx, ip)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected ban to have expired")
	}
}
