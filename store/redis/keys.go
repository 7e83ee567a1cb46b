package redis

import "strconv"

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// ── Job keys ──

// jobKey returns the key for a job entity: courier:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueReadyKey returns the Sorted Set of dispatchable jobs for a queue:
// courier:queue:{type}:ready. Score is priority plus a submission-time
// fraction, so lower priority values pop first and ties stay FIFO.
func queueReadyKey(queue string) string { return keyPrefix + "queue:" + queue + ":ready" }

// queueDelayedKey returns the Sorted Set of future jobs for a queue:
// courier:queue:{type}:delayed. Score is the RunAt unix milli; due
// members are promoted into the ready set on dequeue.
func queueDelayedKey(queue string) string { return keyPrefix + "queue:" + queue + ":delayed" }

// queueJobsKey is the Set tracking all job IDs in a queue for enumeration.
func queueJobsKey(queue string) string { return keyPrefix + "queue:" + queue + ":jobs" }

// queuePausedKey flags a paused queue: courier:queue:{type}:paused
func queuePausedKey(queue string) string { return keyPrefix + "queue:" + queue + ":paused" }

// ── Webhook keys ──

// subKey returns the key for a subscription entity: courier:hook:{id}
func subKey(id string) string { return keyPrefix + "hook:" + id }

// orgSubsKey is the Set tracking an organization's subscription IDs.
func orgSubsKey(orgID string) string { return keyPrefix + "org:" + orgID + ":hooks" }

// hookDeliveriesKey is the List of delivery log entries for one
// subscription, newest first.
func hookDeliveriesKey(id string) string { return keyPrefix + "hook:" + id + ":deliveries" }

// deliveriesKey is the List of all delivery log entries, newest first.
const deliveriesKey = keyPrefix + "deliveries"

// ── Primitive keys ──

// cacheKey namespaces TTL-cache entries: courier:cache:{key}
func cacheKey(key string) string { return keyPrefix + "cache:" + key }

// lockKey namespaces advisory locks: courier:lock:{resource}
func lockKey(resource string) string { return keyPrefix + "lock:" + resource }

// windowKey namespaces fixed-window counters: courier:window:{key}:{start}
func windowKey(key string, start int64) string {
	return keyPrefix + "window:" + key + ":" + strconv.FormatInt(start, 10)
}
