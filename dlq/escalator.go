// Package dlq migrates terminally failed jobs out of their queues and
// into cleanup jobs. Escalation is explicit: nothing in the runtime
// escalates on its own, an operator or a scheduled caller invokes
// Escalate per queue.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/job"
)

// escalateBatch bounds how many failed jobs one Escalate call drains.
const escalateBatch = 100

// Submitter enqueues the cleanup job that replaces an escalated one.
// *queue.Manager satisfies it.
type Submitter interface {
	Submit(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error)
}

// CleanupPayload is the body of a cleanup job produced by escalation.
// It preserves everything needed to inspect or replay the original.
type CleanupPayload struct {
	OriginalQueue       job.Type        `json:"original_queue"`
	OriginalJobID       string          `json:"original_job_id"`
	OriginalPayload     json.RawMessage `json:"original_payload"`
	FailureReason       string          `json:"failure_reason"`
	OriginalSubmittedAt time.Time       `json:"original_submitted_at"`
}

// Escalator moves failed jobs whose retry budget is spent into the
// cleanup queue and removes them from their original queue.
type Escalator struct {
	store     job.Store
	submitter Submitter
	hooks     *ext.Registry
	logger    *slog.Logger
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithHooks attaches an extension registry for escalation events.
func WithHooks(hooks *ext.Registry) Option {
	return func(e *Escalator) { e.hooks = hooks }
}

// NewEscalator creates an Escalator backed by the given store and
// submitter.
func NewEscalator(store job.Store, submitter Submitter, logger *slog.Logger, opts ...Option) *Escalator {
	e := &Escalator{
		store:     store,
		submitter: submitter,
		logger:    logger.With("component", "dlq"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Escalate drains failed jobs from the given queue whose attempt budget
// is exhausted. Each one becomes a cleanup job carrying the original
// payload and failure reason, and the original is deleted. Returns the
// number of jobs escalated.
//
// Escalating the cleanup queue into itself is rejected.
func (e *Escalator) Escalate(ctx context.Context, queue job.Type) (int, error) {
	if !queue.Valid() {
		return 0, fmt.Errorf("escalate %q: %w", queue, courier.ErrUnknownQueueType)
	}
	if queue == job.TypeCleanup {
		return 0, fmt.Errorf("escalate: cleanup queue cannot escalate into itself")
	}

	failed, err := e.store.ListJobsByState(ctx, queue, job.StateFailed, job.ListOpts{Limit: escalateBatch})
	if err != nil {
		return 0, fmt.Errorf("escalate %s: list failed jobs: %w", queue, err)
	}

	escalated := 0
	for _, j := range failed {
		if j.AttemptsMade < j.MaxAttempts {
			// Failed fatally with budget left; an operator may still
			// Retry it manually, so leave it in place.
			continue
		}
		cleanup, err := e.escalateOne(ctx, j)
		if err != nil {
			e.logger.Error("escalation failed",
				"queue", queue,
				"job_id", j.ID,
				"error", err)
			continue
		}
		escalated++
		e.logger.Info("job escalated to cleanup",
			"queue", queue,
			"job_id", j.ID,
			"cleanup_job_id", cleanup.ID,
			"failure_reason", j.LastError)
		if e.hooks != nil {
			e.hooks.EmitJobEscalated(ctx, j, cleanup.ID)
		}
	}
	return escalated, nil
}

// EscalateAll runs Escalate over every queue except cleanup and returns
// the total number of jobs escalated. Per-queue failures are logged and
// do not stop the sweep.
func (e *Escalator) EscalateAll(ctx context.Context) (int, error) {
	total := 0
	for _, queue := range job.Types() {
		if queue == job.TypeCleanup {
			continue
		}
		n, err := e.Escalate(ctx, queue)
		if err != nil {
			e.logger.Error("queue sweep failed", "queue", queue, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (e *Escalator) escalateOne(ctx context.Context, j *job.Job) (*job.Job, error) {
	payload, err := json.Marshal(CleanupPayload{
		OriginalQueue:       j.Type,
		OriginalJobID:       j.ID.String(),
		OriginalPayload:     j.Payload,
		FailureReason:       j.LastError,
		OriginalSubmittedAt: j.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cleanup payload: %w", err)
	}

	cleanup, err := e.submitter.Submit(ctx, job.TypeCleanup, payload,
		job.WithPriority(job.PriorityLow),
		job.WithCorrelationID(j.CorrelationID),
	)
	if err != nil {
		return nil, fmt.Errorf("submit cleanup job: %w", err)
	}

	// The cleanup job now owns the record; drop the original. A delete
	// failure leaves a duplicate-prone but never lossy state.
	if err := e.store.DeleteJob(ctx, j.Type, j.ID); err != nil {
		return cleanup, fmt.Errorf("delete original job: %w", err)
	}
	return cleanup, nil
}
