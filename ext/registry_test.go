package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder implements every hook and records the order of calls.
type recorder struct {
	name  string
	calls []string
	err   error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	r.calls = append(r.calls, "enqueued")
	return r.err
}

func (r *recorder) OnJobStarted(ctx context.Context, j *job.Job) error {
	r.calls = append(r.calls, "started")
	return r.err
}

func (r *recorder) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	r.calls = append(r.calls, "completed")
	return r.err
}

func (r *recorder) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	r.calls = append(r.calls, "failed")
	return r.err
}

func (r *recorder) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	r.calls = append(r.calls, "retrying")
	return r.err
}

func (r *recorder) OnJobStalled(ctx context.Context, j *job.Job) error {
	r.calls = append(r.calls, "stalled")
	return r.err
}

func (r *recorder) OnJobProgress(ctx context.Context, j *job.Job, pct int) error {
	r.calls = append(r.calls, "progress")
	return r.err
}

func (r *recorder) OnJobEscalated(ctx context.Context, j *job.Job, cleanupJobID id.JobID) error {
	r.calls = append(r.calls, "escalated")
	return r.err
}

func (r *recorder) OnDeliverySucceeded(ctx context.Context, webhookID id.HookID, event string, statusCode int, elapsed time.Duration) error {
	r.calls = append(r.calls, "delivery-ok")
	return r.err
}

func (r *recorder) OnDeliveryFailed(ctx context.Context, webhookID id.HookID, event string, attempt int, deliveryErr error) error {
	r.calls = append(r.calls, "delivery-fail")
	return r.err
}

func (r *recorder) OnShutdown(ctx context.Context) error {
	r.calls = append(r.calls, "shutdown")
	return r.err
}

// startedOnly implements a single hook.
type startedOnly struct {
	count int
}

func (s *startedOnly) Name() string { return "started-only" }

func (s *startedOnly) OnJobStarted(ctx context.Context, j *job.Job) error {
	s.count++
	return nil
}

func TestRegistryFanOut(t *testing.T) {
	t.Parallel()

	reg := ext.NewRegistry(testLogger())
	rec := &recorder{name: "rec"}
	reg.Register(rec)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Type: job.TypeEmail}

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitJobFailed(ctx, j, errors.New("boom"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobStalled(ctx, j)
	reg.EmitJobProgress(ctx, j, 50)
	reg.EmitJobEscalated(ctx, j, id.NewJobID())
	reg.EmitDeliverySucceeded(ctx, id.NewHookID(), "meeting.created", 200, time.Millisecond)
	reg.EmitDeliveryFailed(ctx, id.NewHookID(), "meeting.created", 1, errors.New("503"))
	reg.EmitShutdown(ctx)

	want := []string{
		"enqueued", "started", "completed", "failed", "retrying",
		"stalled", "progress", "escalated", "delivery-ok", "delivery-fail", "shutdown",
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}

func TestRegistryPartialImplementation(t *testing.T) {
	t.Parallel()

	reg := ext.NewRegistry(testLogger())
	s := &startedOnly{}
	reg.Register(s)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Type: job.TypeEmail}

	// Only OnJobStarted should fire; other emits must be no-ops.
	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitShutdown(ctx)

	if s.count != 1 {
		t.Errorf("OnJobStarted fired %d times, want 1", s.count)
	}
}

func TestRegistryHookErrorDoesNotStopFanOut(t *testing.T) {
	t.Parallel()

	reg := ext.NewRegistry(testLogger())
	failing := &recorder{name: "failing", err: errors.New("hook broke")}
	healthy := &recorder{name: "healthy"}
	reg.Register(failing)
	reg.Register(healthy)

	reg.EmitJobStarted(context.Background(), &job.Job{ID: id.NewJobID()})

	if len(failing.calls) != 1 || len(healthy.calls) != 1 {
		t.Errorf("fan-out stopped early: failing=%v healthy=%v", failing.calls, healthy.calls)
	}
}

func TestRegistryTracksExtensions(t *testing.T) {
	t.Parallel()

	reg := ext.NewRegistry(testLogger())
	reg.Register(&recorder{name: "a"})
	reg.Register(&startedOnly{})

	if got := len(reg.Extensions()); got != 2 {
		t.Errorf("Extensions() len = %d, want 2", got)
	}
}
