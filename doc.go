// Package courier provides an asynchronous job queue and webhook
// delivery engine. It offers typed, prioritized queues with bounded
// retry and exponential backoff, explicit dead-letter escalation, and
// a webhook fan-out pipeline with HMAC-signed deliveries, per-subscriber
// retry isolation, and a delivery audit log.
//
// Courier is designed as a library, not a service. Import it, configure
// a store, register job handlers, and submit work as ordinary Go calls.
//
// # Quick Start
//
//	c, err := courier.New(
//	    courier.WithStore(redisStore),
//	    courier.WithConfig(courier.DefaultConfig()),
//	)
//
// # Architecture
//
// Courier follows a composable store pattern where each subsystem (job,
// webhook subscription, delivery log, distributed primitives) defines
// its own store interface. A single backend implements all of them; the
// Redis backend is the canonical durable queue substrate, and the Bun
// backend covers the subscription and delivery-log collaborator stores.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package courier
