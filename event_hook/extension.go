package eventhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobStalled   = (*Extension)(nil)
	_ ext.JobEscalated = (*Extension)(nil)
)

// Publisher fans an event out to an organization's webhook subscribers.
// webhook.Engine satisfies it.
type Publisher interface {
	Publish(ctx context.Context, name string, data json.RawMessage, orgID string) error
}

// Extension bridges job lifecycle events to webhook subscribers. Each
// lifecycle hook publishes a typed event through the [Publisher], so
// organizations can subscribe to their own jobs' progress.
type Extension struct {
	publisher Publisher
	enabled   map[string]bool // nil = all enabled
}

// New creates an Extension that publishes lifecycle events through the
// provided Publisher.
func New(p Publisher, opts ...Option) *Extension {
	h := &Extension{publisher: p}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "event-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (h *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobEnqueued, j, newJobPayload(j))
}

// OnJobStarted implements ext.JobStarted.
func (h *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobStarted, j, newJobPayload(j))
}

// OnJobCompleted implements ext.JobCompleted.
func (h *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.send(ctx, EventJobCompleted, j, &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobFailed implements ext.JobFailed.
func (h *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.send(ctx, EventJobFailed, j, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      jobErr.Error(),
	})
}

// OnJobRetrying implements ext.JobRetrying.
func (h *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return h.send(ctx, EventJobRetrying, j, &jobRetryingPayload{
		jobPayload: *newJobPayload(j),
		Attempt:    attempt,
		NextRunAt:  nextRunAt.Format(time.RFC3339),
	})
}

// OnJobStalled implements ext.JobStalled.
func (h *Extension) OnJobStalled(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobStalled, j, &jobStalledPayload{
		jobPayload: *newJobPayload(j),
		StallCount: j.StallCount,
	})
}

// OnJobEscalated implements ext.JobEscalated.
func (h *Extension) OnJobEscalated(ctx context.Context, j *job.Job, cleanupJobID id.JobID) error {
	return h.send(ctx, EventJobEscalated, j, &jobEscalatedPayload{
		jobPayload:   *newJobPayload(j),
		CleanupJobID: cleanupJobID.String(),
		Error:        j.LastError,
	})
}

// ── Internal helpers ────────────────────────────────

// send publishes an event if the event type is enabled. Jobs without an
// org have no subscribers and are skipped. Webhook delivery jobs are
// skipped too: publishing them would enqueue more delivery jobs, which
// would publish again.
func (h *Extension) send(ctx context.Context, eventType string, j *job.Job, payload any) error {
	if j.Type == job.TypeWebhookDelivery {
		return nil
	}
	if j.OrgID == "" {
		return nil
	}
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.publisher.Publish(ctx, eventType, data, j.OrgID)
}
