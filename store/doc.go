// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, webhook subscriptions, delivery log, coordination
// primitives) defines its own store interface. The composite [Store]
// composes them all. A single backend need only implement Store to
// satisfy every subsystem's persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    job.Store
//	    webhook.SubscriptionStore
//	    webhook.LogStore
//	    primitive.Cache
//	    primitive.Locker
//	    primitive.RateCounter
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/redis — Redis backend; the canonical production substrate
//   - store/bun — Bun ORM backend for SQL databases
//
// # Usage
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    redisstore "github.com/openmeet/courier/store/redis"
//	)
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//
//	c, err := courier.New(courier.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema. The
// memory and redis backends treat it as a no-op:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
