// Package queue provides the submission-side API of the job queue: the
// Manager validates and persists jobs, exposes status polling, cancel,
// retry, pause/resume, and drain operations, and enforces per-queue and
// per-org dispatch limits through the Limiter.
//
// A Manager is bound to a job.Store; all queue state lives in the store,
// so multiple Manager instances across processes stay consistent. The
// Limiter is local to the process and throttles how fast the worker
// pools of this process dequeue, not what the store admits.
//
// Example:
//
//	mgr := queue.NewManager(store, cfg, logger,
//		queue.WithHooks(hooks),
//		queue.WithLimits(queue.LimitConfig{
//			Queue:     job.TypeWebhookDelivery,
//			RateLimit: 50,
//			RateBurst: 10,
//		}),
//	)
//
//	j, err := mgr.Submit(ctx, job.TypeEmail, payload,
//		job.WithPriority(job.PriorityHigh),
//	)
package queue
