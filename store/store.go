// Package store defines the aggregate persistence interface. Each subsystem
// (job, webhook subscriptions, delivery log, coordination primitives)
// defines its own store interface. The composite Store composes them all.
// Backends: Memory, Redis, and Bun.
package store

import (
	"context"

	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/primitive"
	"github.com/openmeet/courier/webhook"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (memory, redis, bun) implements all of them.
type Store interface {
	job.Store
	webhook.SubscriptionStore
	webhook.LogStore
	primitive.Cache
	primitive.Locker
	primitive.RateCounter

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
