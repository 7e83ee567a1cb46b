package courier

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrStoreClosed = errors.New("courier: store closed")

	// Lifecycle errors.
	ErrNotBuilt = errors.New("courier: engine not built")

	// Submission errors.
	ErrUnknownQueueType = errors.New("courier: unknown queue type")
	ErrJobAlreadyExists = errors.New("courier: job already exists")

	// Not found errors.
	ErrJobNotFound          = errors.New("courier: job not found")
	ErrSubscriptionNotFound = errors.New("courier: webhook subscription not found")

	// State errors.
	ErrInvalidState     = errors.New("courier: invalid state transition")
	ErrQueuePaused      = errors.New("courier: queue paused")
	ErrRetriesExhausted = errors.New("courier: retries exhausted")

	// Primitive errors.
	ErrLockNotHeld = errors.New("courier: lock not held by caller")
)
