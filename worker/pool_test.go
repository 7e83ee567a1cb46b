package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/middleware"
	"github.com/openmeet/courier/store/memory"
	"github.com/openmeet/courier/worker"
)

func setupTestPool(t *testing.T, queue job.Type, size int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := testLogger()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(
		reg, extensions, s, worker.Retention{}, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, extensions, queue, logger,
		worker.WithPoolSize(size),
		worker.WithPollInterval(pollInterval),
	)

	return pool, s, reg
}

func newWaitingJob(queue job.Type, priority, maxAttempts int) *job.Job {
	return &job.Job{
		Entity:      courier.NewEntity(),
		ID:          id.NewJobID(),
		Type:        queue,
		Priority:    priority,
		State:       job.StateWaiting,
		MaxAttempts: maxAttempts,
		BackoffBase: 10 * time.Millisecond,
		RunAt:       time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, job.TypeEmail, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)

	// Double stop should be no-op.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_RestartProcessesJobs(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeEmail, 1, 10*time.Millisecond)

	var processed atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeEmail, func(_ context.Context, _ struct{}) error {
		processed.Add(1)
		return nil
	}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	stopPool(t, pool)

	// Workers launched after a stop must still dequeue.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	defer stopPool(t, pool)

	j := newWaitingJob(job.TypeEmail, job.PriorityNormal, 3)
	j.Payload = []byte(`{}`)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	waitFor(t, func() bool { return processed.Load() == 1 })
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeEmail, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeEmail, func(_ context.Context, p struct{ To string }) error {
		if p.To != "user@example.com" {
			t.Errorf("payload.To = %q, want %q", p.To, "user@example.com")
		}
		processed.Store(true)
		return nil
	}))

	j := newWaitingJob(job.TypeEmail, job.PriorityNormal, 3)
	j.Payload, _ = json.Marshal(struct{ To string }{To: "user@example.com"})

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, processed.Load)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), job.TypeEmail, j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got.WorkerID != pool.WorkerID() {
		t.Errorf("worker id = %s, want %s", got.WorkerID, pool.WorkerID())
	}
}

func TestPool_FailedJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeSMS, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeSMS, func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return context.DeadlineExceeded
	}))

	j := newWaitingJob(job.TypeSMS, job.PriorityNormal, 1)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, processed.Load)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), job.TypeSMS, j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("job state = %q, want %q", got.State, job.StateFailed)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeExport, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeExport, func(_ context.Context, _ struct{}) error {
		if attempts.Add(1) < 3 {
			return context.DeadlineExceeded
		}
		return nil
	}))

	j := newWaitingJob(job.TypeExport, job.PriorityNormal, 5)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool { return attempts.Load() >= 3 })
	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), job.TypeExport, j.ID)
		return err == nil && got.State == job.StateCompleted
	})
	stopPool(t, pool)

	got, _ := s.GetJob(context.Background(), job.TypeExport, j.ID)
	if got.AttemptsMade != 2 {
		// Two failures recorded; the third attempt succeeded.
		t.Errorf("attempts made = %d, want 2", got.AttemptsMade)
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeAnalytics, 1, 10*time.Millisecond)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	job.RegisterDefinition(reg, job.NewDefinition(job.TypeAnalytics, func(_ context.Context, p struct{ Tag string }) error {
		mu.Lock()
		order = append(order, p.Tag)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}))

	low := newWaitingJob(job.TypeAnalytics, job.PriorityLow, 1)
	low.Payload, _ = json.Marshal(struct{ Tag string }{Tag: "low"})
	critical := newWaitingJob(job.TypeAnalytics, job.PriorityCritical, 1)
	critical.Payload, _ = json.Marshal(struct{ Tag string }{Tag: "critical"})

	// Submit the low-priority job first; the critical one must still run first.
	for _, j := range []*job.Job{low, critical} {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	stopPool(t, pool)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "critical" {
		t.Errorf("processing order = %v, want critical first", order)
	}
}

func TestPool_PausedQueueDoesNotDispatch(t *testing.T) {
	pool, s, reg := setupTestPool(t, job.TypeBackup, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeBackup, func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))

	if err := s.PauseQueue(context.Background(), job.TypeBackup); err != nil {
		t.Fatalf("pause error: %v", err)
	}
	j := newWaitingJob(job.TypeBackup, job.PriorityNormal, 1)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if processed.Load() {
		t.Fatal("paused queue must not dispatch")
	}

	// Resuming releases the backlog.
	if err := s.ResumeQueue(context.Background(), job.TypeBackup); err != nil {
		t.Fatalf("resume error: %v", err)
	}
	waitFor(t, processed.Load)
	stopPool(t, pool)
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, job.TypeEmail, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := testLogger()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, worker.Retention{}, logger)
	pool := worker.NewPool(s, executor, extensions, job.TypeRecording, logger,
		worker.WithPoolSize(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeRecording, func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))

	j := newWaitingJob(job.TypeRecording, job.PriorityNormal, 3)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, processed.Load)
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
}

func TestPool_ReapsStalledJobOnce(t *testing.T) {
	logger := testLogger()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, worker.Retention{}, logger)
	pool := worker.NewPool(s, executor, extensions, job.TypeFileProcessing, logger,
		worker.WithPoolSize(1),
		worker.WithPollInterval(time.Hour), // dequeue stays idle
		worker.WithStalledThreshold(20*time.Millisecond),
	)

	// An active job abandoned by a crashed worker.
	abandoned := newWaitingJob(job.TypeFileProcessing, job.PriorityNormal, 3)
	abandoned.State = job.StateActive
	staleBeat := time.Now().UTC().Add(-time.Minute)
	abandoned.HeartbeatAt = &staleBeat
	abandoned.WorkerID = id.NewWorkerID()
	if err := s.EnqueueJob(context.Background(), abandoned); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// First reap requeues the job.
	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), job.TypeFileProcessing, abandoned.ID)
		return err == nil && got.State == job.StateWaiting && got.StallCount == 1
	})

	// The second stall parks it for operator attention.
	got, _ := s.GetJob(context.Background(), job.TypeFileProcessing, abandoned.ID)
	got.State = job.StateActive
	got.HeartbeatAt = &staleBeat
	if err := s.UpdateJob(context.Background(), got); err != nil {
		t.Fatalf("update error: %v", err)
	}

	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), job.TypeFileProcessing, abandoned.ID)
		return err == nil && got.State == job.StateStalled
	})
	stopPool(t, pool)

	if !tracker.stalled.Load() {
		t.Error("expected OnJobStalled to fire")
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
	retrying  atomic.Bool
	stalled   atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}

func (e *trackingExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.retrying.Store(true)
	return nil
}

func (e *trackingExt) OnJobStalled(_ context.Context, _ *job.Job) error {
	e.stalled.Store(true)
	return nil
}
