// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling one queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmeet/courier/backoff"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/middleware"
)

// Retention bounds the terminal job history kept per queue. The
// executor trims the oldest completed/failed jobs beyond each cap after
// every terminal transition.
type Retention struct {
	Completed int
	Failed    int
}

// Executor runs a single job through middleware and the registered
// handler, then applies the retry policy, state updates, history
// trimming, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	retention  Retention
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	retention Retention,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		retention:  retention,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed, emits JobCompleted.
// On retryable failure with budget remaining: marks delayed with
// exponential backoff, emits JobRetrying.
// On fatal failure or exhausted budget: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("no consumer registered for queue %q", j.Type)
		return e.handleFailure(ctx, j, job.Fatal(err), time.Now().UTC())
	}

	// Handlers publish progress and results through the context.
	ctx = job.WithReporter(ctx, &storeReporter{executor: e, j: j})

	start := time.Now()

	// The terminal handler that calls the registered consumer.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.Touch()

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.Progress = 100

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Type.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.trimHistory(ctx, j.Type)
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure records the attempt and either schedules a retry or
// fails the job. Fatal errors and an exhausted attempt budget both end
// in the failed state.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.AttemptsMade++
	j.LastError = handlerErr.Error()

	if job.IsFatal(handlerErr) || j.AttemptsMade >= j.MaxAttempts {
		return e.failJob(ctx, j, handlerErr, now)
	}

	return e.scheduleRetry(ctx, j, now)
}

// scheduleRetry sets the job to StateDelayed with an exponential
// backoff delay derived from the job's backoff base.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := backoff.ForBase(j.BackoffBase).Delay(j.AttemptsMade)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateDelayed

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.AttemptsMade, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Type.String()),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("%s job attempt %d/%d: %s", j.Type, j.AttemptsMade, j.MaxAttempts, j.LastError)
}

// failJob marks the job as failed and emits events. Failed jobs stay in
// the queue's failed set for inspection and explicit escalation.
func (e *Executor) failJob(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.State = job.StateFailed
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.trimHistory(ctx, j.Type)
	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Type.String()),
		slog.Int("attempts", j.AttemptsMade),
		slog.Bool("fatal", job.IsFatal(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// trimHistory bounds the retained terminal history for the queue.
func (e *Executor) trimHistory(ctx context.Context, queue job.Type) {
	if e.retention.Completed <= 0 && e.retention.Failed <= 0 {
		return
	}
	if err := e.store.TrimJobHistory(ctx, queue, e.retention.Completed, e.retention.Failed); err != nil {
		e.logger.Warn("failed to trim job history",
			slog.String("queue", queue.String()),
			slog.String("error", err.Error()),
		)
	}
}

// storeReporter implements job.Reporter against the executor's store.
type storeReporter struct {
	executor *Executor
	j        *job.Job
}

func (r *storeReporter) Progress(ctx context.Context, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	r.j.Progress = pct
	r.j.Touch()
	if err := r.executor.store.UpdateJob(ctx, r.j); err != nil {
		r.executor.logger.Warn("failed to persist job progress",
			slog.String("job_id", r.j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.executor.extensions.EmitJobProgress(ctx, r.j, pct)
}

func (r *storeReporter) Result(ctx context.Context, result []byte) {
	r.j.Result = result
	r.j.Touch()
	if err := r.executor.store.UpdateJob(ctx, r.j); err != nil {
		r.executor.logger.Warn("failed to persist job result",
			slog.String("job_id", r.j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
