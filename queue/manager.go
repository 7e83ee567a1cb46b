package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/scope"
)

// Manager is the submission-side API of the job queue. It validates
// jobs against the closed queue-type enumeration, applies per-queue
// retry defaults, persists through the job.Store, and exposes the
// operational surface (status, cancel, retry, pause, drain).
type Manager struct {
	store  job.Store
	config courier.Config
	logger *slog.Logger
	hooks  *ext.Registry
	limits *Limiter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHooks attaches an extension registry; enqueue events are emitted
// through it.
func WithHooks(hooks *ext.Registry) ManagerOption {
	return func(m *Manager) { m.hooks = hooks }
}

// WithLimits installs per-queue dispatch limits.
func WithLimits(configs ...LimitConfig) ManagerOption {
	return func(m *Manager) { m.limits = NewLimiter(configs...) }
}

// NewManager creates a Manager bound to the given store.
func NewManager(store job.Store, config courier.Config, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.limits == nil {
		m.limits = NewLimiter()
	}
	return m
}

// Limits returns the Manager's dispatch limiter, shared with the worker
// pools that dequeue on its behalf.
func (m *Manager) Limits() *Limiter { return m.limits }

// Submit validates and persists a new job on the given queue. The
// payload is opaque; only the consumer registered for the queue type
// interprets it. Returns the persisted job.
func (m *Manager) Submit(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error) {
	j, err := m.build(ctx, queue, payload, opts...)
	if err != nil {
		return nil, err
	}

	if err := m.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue job on %q: %w", queue, err)
	}

	m.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", queue.String()),
		slog.Int("priority", j.Priority),
		slog.String("state", string(j.State)),
	)
	if m.hooks != nil {
		m.hooks.EmitJobEnqueued(ctx, j)
	}
	return j, nil
}

// SubmitBulk validates and persists a batch of jobs on the given queue
// with shared options. The batch either fully persists or fails as a
// whole.
func (m *Manager) SubmitBulk(ctx context.Context, queue job.Type, payloads [][]byte, opts ...job.Option) ([]*job.Job, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	jobs := make([]*job.Job, 0, len(payloads))
	for _, p := range payloads {
		j, err := m.build(ctx, queue, p, opts...)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	if err := m.store.EnqueueJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("enqueue %d jobs on %q: %w", len(jobs), queue, err)
	}

	m.logger.Debug("jobs submitted",
		slog.String("queue", queue.String()),
		slog.Int("count", len(jobs)),
	)
	if m.hooks != nil {
		for _, j := range jobs {
			m.hooks.EmitJobEnqueued(ctx, j)
		}
	}
	return jobs, nil
}

// build assembles a job from the payload and options, applying queue
// defaults from the config.
func (m *Manager) build(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("%w: %q", courier.ErrUnknownQueueType, queue)
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.MaxAttempts <= 0 {
		o.MaxAttempts = m.config.DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = m.config.BackoffBase(queue.String())
	}
	if o.CorrelationID == "" {
		o.CorrelationID = uuid.NewString()
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:        courier.NewEntity(),
		ID:            id.NewJobID(),
		Type:          queue,
		Payload:       payload,
		Priority:      o.Priority,
		CorrelationID: o.CorrelationID,
		MaxAttempts:   o.MaxAttempts,
		BackoffBase:   o.BackoffBase,
		State:         job.StateWaiting,
		OrgID:         scope.Capture(ctx),
		RunAt:         now,
		Timeout:       o.Timeout,
	}
	if o.Delay > 0 {
		j.State = job.StateDelayed
		j.RunAt = now.Add(o.Delay)
	}
	return j, nil
}

// GetStatus returns the polling view of a job: state, progress, result,
// and last error. Unknown or purged jobs return nil without an error;
// absence is an answer, not a failure.
func (m *Manager) GetStatus(ctx context.Context, queue job.Type, jobID id.JobID) (*job.Status, error) {
	j, err := m.store.GetJob(ctx, queue, jobID)
	if errors.Is(err, courier.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job.Status{
		State:    j.State,
		Progress: j.Progress,
		Result:   j.Result,
		Error:    j.LastError,
	}, nil
}

// Cancel removes a job that has not started running. Best-effort: it
// returns false (without an error) when the job is missing or already
// past the waiting/delayed states.
func (m *Manager) Cancel(ctx context.Context, queue job.Type, jobID id.JobID) (bool, error) {
	j, err := m.store.GetJob(ctx, queue, jobID)
	if errors.Is(err, courier.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return false, nil
	}
	if err := m.store.DeleteJob(ctx, queue, jobID); err != nil {
		if errors.Is(err, courier.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	m.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("queue", queue.String()),
	)
	return true, nil
}

// Retry re-admits a failed or stalled job for one more run. The attempt
// count is preserved: the retry budget is cumulative, so a retried job
// that fails again goes straight back to failed. Returns false when the
// job is missing or not in a retryable state.
func (m *Manager) Retry(ctx context.Context, queue job.Type, jobID id.JobID) (bool, error) {
	j, err := m.store.GetJob(ctx, queue, jobID)
	if errors.Is(err, courier.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if j.State != job.StateFailed && j.State != job.StateStalled {
		return false, nil
	}

	j.State = job.StateWaiting
	j.StallCount = 0
	j.LastError = ""
	j.Progress = 0
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil
	j.RunAt = time.Now().UTC()
	j.Touch()

	if err := m.store.UpdateJob(ctx, j); err != nil {
		return false, err
	}
	m.logger.Info("job retried",
		slog.String("job_id", jobID.String()),
		slog.String("queue", queue.String()),
		slog.Int("attempts_made", j.AttemptsMade),
	)
	return true, nil
}

// Stats returns the per-state job counts for the queue.
func (m *Manager) Stats(ctx context.Context, queue job.Type) (job.Stats, error) {
	return m.store.QueueStats(ctx, queue)
}

// List returns jobs in the queue matching the given state.
func (m *Manager) List(ctx context.Context, queue job.Type, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return m.store.ListJobsByState(ctx, queue, state, opts)
}

// Pause stops dispatch for the queue. Submissions still land; workers
// stop receiving jobs until Resume.
func (m *Manager) Pause(ctx context.Context, queue job.Type) error {
	if err := m.store.PauseQueue(ctx, queue); err != nil {
		return err
	}
	m.logger.Info("queue paused", slog.String("queue", queue.String()))
	return nil
}

// Resume re-enables dispatch for the queue.
func (m *Manager) Resume(ctx context.Context, queue job.Type) error {
	if err := m.store.ResumeQueue(ctx, queue); err != nil {
		return err
	}
	m.logger.Info("queue resumed", slog.String("queue", queue.String()))
	return nil
}

// IsPaused reports the queue's admission-control flag.
func (m *Manager) IsPaused(ctx context.Context, queue job.Type) (bool, error) {
	return m.store.IsQueuePaused(ctx, queue)
}

// DrainExpired removes completed jobs that finished more than olderThan
// ago. Returns the number removed.
func (m *Manager) DrainExpired(ctx context.Context, queue job.Type, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := m.store.DrainExpiredJobs(ctx, queue, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("drained expired jobs",
			slog.String("queue", queue.String()),
			slog.Int64("removed", n),
		)
	}
	return n, nil
}
