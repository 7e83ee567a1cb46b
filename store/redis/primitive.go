package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"
)

// releaseScript deletes the lock key only when the caller still owns it,
// so an expired-and-reacquired lock cannot be released by a stale token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ──────────────────────────────────────────────────
// Cache
// ──────────────────────────────────────────────────

// GetCache returns the cached value and whether the key was present.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("courier/redis: cache get: %w", err)
	}
	return val, true, nil
}

// SetCache stores value under key. A zero ttl stores without expiry.
func (s *Store) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, cacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("courier/redis: cache set: %w", err)
	}
	return nil
}

// DeleteCache removes key. Deleting a missing key is not an error.
func (s *Store) DeleteCache(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("courier/redis: cache delete: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

// AcquireLock attempts to take the advisory lock for resource with
// SET NX. The TTL makes expired locks implicitly free.
func (s *Store) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("courier/redis: acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases the lock via a compare-and-delete script so only
// the current owner's token succeeds.
func (s *Store) ReleaseLock(ctx context.Context, resource, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKey(resource)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("courier/redis: release lock: %w", err)
	}
	return n == 1, nil
}

// ──────────────────────────────────────────────────
// RateCounter
// ──────────────────────────────────────────────────

// IncrWindow increments the fixed-window counter for the window
// containing now and returns the new count. The window key carries the
// window's TTL so old windows expire on their own.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	start := time.Now().UTC().Truncate(window)
	wKey := windowKey(key, start.Unix())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, wKey)
	pipe.Expire(ctx, wKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("courier/redis: incr window: %w", err)
	}
	return incr.Val(), nil
}
