package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for IP ban records:
//
//	Key:   ban:ip:<address>
//	Value: <reason>
//	TTL:   ban duration
const BanPrefix = "ban:ip:"

// RedisStore keeps bans in Redis so they survive a process restart. Expiry is
// delegated to key TTLs.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore using the provided client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// IsBanned implements Store. Redis errors are returned so callers can decide
// how to handle them (the lobby fails open).
func (s *RedisStore) IsBanned(ctx context.Context, ip string) (bool, time.Duration, string, error) {
	key := BanPrefix + ip

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)

	reason, getErr := getCmd.Result()
	if errors.Is(getErr, redis.Nil) {
		return false, 0, "", nil
	}
	if getErr != nil {
		return false, 0, "", fmt.Errorf("ban: lookup %s: %w", ip, getErr)
	}

	// The key exists; a failed TTL read still reports the ban.
	ttl, ttlErr := ttlCmd.Result()
	if err != nil && ttlErr != nil {
		return true, 0, reason, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, reason, nil
}

// Ban implements Store.
func (s *RedisStore) Ban(ctx context.Context, ip string, duration time.Duration, reason string) error {
	if err := s.client.Set(ctx, BanPrefix+ip, reason, duration).Err(); err != nil {
		return fmt.Errorf("ban: set %s: %w", ip, err)
	}
	return nil
}
