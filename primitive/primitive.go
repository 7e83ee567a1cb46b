// Package primitive defines the distributed coordination primitives
// shared by the queue and webhook subsystems and offered to collaborators:
// a TTL cache, an advisory mutual-exclusion lock, and a fixed-window rate
// counter. Backends implement these against the durable substrate.
package primitive

import (
	"context"
	"time"
)

// Cache is a byte-value cache with per-key TTL.
type Cache interface {
	// GetCache returns the cached value and whether the key was present.
	GetCache(ctx context.Context, key string) ([]byte, bool, error)

	// SetCache stores value under key, expiring after ttl. A zero ttl
	// stores the value without expiry.
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteCache removes key. Deleting a missing key is not an error.
	DeleteCache(ctx context.Context, key string) error
}

// Locker is an advisory mutual-exclusion lock keyed by resource name.
// The lock is token-guarded: release succeeds only when the caller
// presents the token returned by the acquire that took the lock.
// Expired locks are implicitly free.
type Locker interface {
	// AcquireLock attempts to take the lock for resource with the given
	// ttl. Returns the owner token and true on success, or "" and false
	// when the lock is already held.
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error)

	// ReleaseLock releases the lock if token matches the current owner.
	// Returns false when the token does not match or the lock expired.
	ReleaseLock(ctx context.Context, resource, token string) (bool, error)
}

// RateCounter is a fixed-window event counter. Each call increments the
// counter for the window containing now and returns the new count; the
// window key expires on its own. Callers compare the count against
// their limit.
type RateCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
