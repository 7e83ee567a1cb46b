package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobStalledEntry struct {
	name string
	hook JobStalled
}

type jobProgressEntry struct {
	name string
	hook JobProgress
}

type jobEscalatedEntry struct {
	name string
	hook JobEscalated
}

type deliverySucceededEntry struct {
	name string
	hook DeliverySucceeded
}

type deliveryFailedEntry struct {
	name string
	hook DeliveryFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued       []jobEnqueuedEntry
	jobStarted        []jobStartedEntry
	jobCompleted      []jobCompletedEntry
	jobFailed         []jobFailedEntry
	jobRetrying       []jobRetryingEntry
	jobStalled        []jobStalledEntry
	jobProgress       []jobProgressEntry
	jobEscalated      []jobEscalatedEntry
	deliverySucceeded []deliverySucceededEntry
	deliveryFailed    []deliveryFailedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobStalled); ok {
		r.jobStalled = append(r.jobStalled, jobStalledEntry{name, h})
	}
	if h, ok := e.(JobProgress); ok {
		r.jobProgress = append(r.jobProgress, jobProgressEntry{name, h})
	}
	if h, ok := e.(JobEscalated); ok {
		r.jobEscalated = append(r.jobEscalated, jobEscalatedEntry{name, h})
	}
	if h, ok := e.(DeliverySucceeded); ok {
		r.deliverySucceeded = append(r.deliverySucceeded, deliverySucceededEntry{name, h})
	}
	if h, ok := e.(DeliveryFailed); ok {
		r.deliveryFailed = append(r.deliveryFailed, deliveryFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobStalled notifies all extensions that implement JobStalled.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStalled {
		if err := e.hook.OnJobStalled(ctx, j); err != nil {
			r.logHookError("OnJobStalled", e.name, err)
		}
	}
}

// EmitJobProgress notifies all extensions that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, pct int) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, pct); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobEscalated notifies all extensions that implement JobEscalated.
func (r *Registry) EmitJobEscalated(ctx context.Context, j *job.Job, cleanupJobID id.JobID) {
	for _, e := range r.jobEscalated {
		if err := e.hook.OnJobEscalated(ctx, j, cleanupJobID); err != nil {
			r.logHookError("OnJobEscalated", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Delivery event emitters
// ──────────────────────────────────────────────────

// EmitDeliverySucceeded notifies all extensions that implement DeliverySucceeded.
func (r *Registry) EmitDeliverySucceeded(ctx context.Context, webhookID id.HookID, event string, statusCode int, elapsed time.Duration) {
	for _, e := range r.deliverySucceeded {
		if err := e.hook.OnDeliverySucceeded(ctx, webhookID, event, statusCode, elapsed); err != nil {
			r.logHookError("OnDeliverySucceeded", e.name, err)
		}
	}
}

// EmitDeliveryFailed notifies all extensions that implement DeliveryFailed.
func (r *Registry) EmitDeliveryFailed(ctx context.Context, webhookID id.HookID, event string, attempt int, deliveryErr error) {
	for _, e := range r.deliveryFailed {
		if err := e.hook.OnDeliveryFailed(ctx, webhookID, event, attempt, deliveryErr); err != nil {
			r.logHookError("OnDeliveryFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure without interrupting the event fan-out.
func (r *Registry) logHookError(hook, extension string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
