package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// DispatchLimiter throttles how fast the pool dequeues. The pool calls
// Acquire before executing a dequeued job and Release after execution
// completes. queue.Limiter satisfies this.
type DispatchLimiter interface {
	// Acquire checks rate limits and concurrency for the queue/org
	// combination. Returns true if the job is allowed to proceed.
	Acquire(queue job.Type, orgID string) bool
	// Release decrements the active count for the queue/org pair.
	Release(queue job.Type, orgID string)
}

// Pool manages a set of concurrent worker goroutines polling one queue
// and executing its jobs through the Executor. Each queue type gets its
// own pool so a slow queue cannot starve the others.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	queue        job.Type
	size         int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	stalledThreshold  time.Duration

	// Dispatch limiter (optional).
	limiter DispatchLimiter

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of concurrent worker goroutines.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStalledThreshold sets the threshold after which active jobs
// without a heartbeat are considered stalled and reclaimed. A zero
// value disables the reaper.
func WithStalledThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.stalledThreshold = d }
}

// WithDispatchLimiter sets the limiter for rate limiting and
// concurrency control.
func WithDispatchLimiter(l DispatchLimiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool for one queue.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	queue job.Type,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		queue:        queue,
		size:         5,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queue returns the queue type this pool serves.
func (p *Pool) Queue() job.Type { return p.queue }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	// A previous Stop closed stopCh; a restart needs a fresh one or the
	// new workers exit immediately.
	select {
	case <-p.stopCh:
		p.stopCh = make(chan struct{})
	default:
	}

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queue.String()),
		slog.Int("size", p.size),
	)

	for range p.size {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch reaper goroutine if configured.
	if p.stalledThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queue.String()),
	)

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", slog.String("queue", p.queue.String()))
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs",
			slog.String("queue", p.queue.String()),
		)
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.DequeueJobs(context.Background(), p.queue, 1)
		if err != nil {
			p.logger.Error("dequeue error",
				slog.String("queue", p.queue.String()),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]

		// Check queue/org rate limit and concurrency.
		if p.limiter != nil && !p.limiter.Acquire(j.Type, j.OrgID) {
			// Rate limited — return the job to waiting with a small delay.
			j.State = job.StateWaiting
			j.WorkerID = id.Nil
			j.StartedAt = nil
			j.RunAt = time.Now().UTC().Add(p.pollInterval)
			if updateErr := p.store.UpdateJob(context.Background(), j); updateErr != nil {
				p.logger.Error("failed to re-enqueue rate-limited job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", updateErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.claim(j)
		p.extensions.EmitJobStarted(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		execErr := p.executor.Execute(ctx, j)
		if execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Type.String()),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		// Release the queue/org slot.
		if p.limiter != nil {
			p.limiter.Release(j.Type, j.OrgID)
		}
	}
}

// claim stamps the job with this pool's worker identity. The store has
// already set it active; the worker assignment makes heartbeats and
// stall attribution possible.
func (p *Pool) claim(j *job.Job) {
	now := time.Now().UTC()
	j.WorkerID = p.workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Warn("failed to stamp worker on job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), p.queue, parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reclaims jobs whose worker stopped heartbeating.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.stalledThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

// reapStaleJobs resets abandoned jobs. A job is requeued at most once:
// the first stall sends it back to waiting, a second stall parks it in
// the stalled state for operator attention.
func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.queue, p.stalledThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error",
			slog.String("queue", p.queue.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, j := range stale {
		j.StallCount++
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.StartedAt = nil
		j.Touch()

		if j.StallCount > 1 {
			j.State = job.StateStalled
		} else {
			j.State = job.StateWaiting
			j.RunAt = time.Now().UTC()
		}

		if updateErr := p.store.UpdateJob(context.Background(), j); updateErr != nil {
			p.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		if j.State == job.StateStalled {
			p.extensions.EmitJobStalled(context.Background(), j)
			p.logger.Warn("job stalled twice, parked for operator attention",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Type.String()),
			)
			continue
		}

		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Type.String()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
