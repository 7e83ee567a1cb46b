package ext

import (
	"context"
	"time"

	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobStalled is called when a job stalls past its automatic requeue
// budget. This is the operator-attention signal for persistent stalling.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a running handler reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, pct int) error
}

// JobEscalated is called when the dead-letter escalator migrates a
// terminally failed job into a cleanup job.
type JobEscalated interface {
	OnJobEscalated(ctx context.Context, j *job.Job, cleanupJobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Webhook delivery hooks
// ──────────────────────────────────────────────────

// DeliverySucceeded is called after a webhook delivery attempt receives
// a 2xx response.
type DeliverySucceeded interface {
	OnDeliverySucceeded(ctx context.Context, webhookID id.HookID, event string, statusCode int, elapsed time.Duration) error
}

// DeliveryFailed is called after a webhook delivery attempt fails
// (non-2xx, timeout, or transport error).
type DeliveryFailed interface {
	OnDeliveryFailed(ctx context.Context, webhookID id.HookID, event string, attempt int, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
