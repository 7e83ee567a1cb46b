package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/webhook"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(queue job.Type, state job.State, priority int) *job.Job {
	return &job.Job{
		Entity:      courier.NewEntity(),
		ID:          id.NewJobID(),
		Type:        queue,
		Payload:     []byte(`{"test":true}`),
		State:       state,
		Priority:    priority,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC().Add(-time.Second), // eligible immediately
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "enqueue new job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "enqueue duplicate job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: courier.ErrJobAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Verify Get.
	got, err := s.GetJob(ctx, job.TypeEmail, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Priority != j.Priority {
		t.Fatalf("got priority %d, want %d", got.Priority, j.Priority)
	}

	// Get non-existent.
	_, err = s.GetJob(ctx, job.TypeEmail, id.NewJobID())
	if !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	// Wrong queue is also not found.
	_, err = s.GetJob(ctx, job.TypeSMS, j.ID)
	if !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for wrong queue, got %v", err)
	}
}

func TestJobEnqueueBatch(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j1 := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)
	j2 := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)

	if err := s.EnqueueJobs(ctx, []*job.Job{j1, j2}); err != nil {
		t.Fatalf("EnqueueJobs: %v", err)
	}

	// A batch containing a duplicate is rejected wholesale.
	j3 := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)
	err := s.EnqueueJobs(ctx, []*job.Job{j3, j1})
	if !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
	if _, err := s.GetJob(ctx, job.TypeEmail, j3.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatal("no job from a rejected batch should persist")
	}
}

func TestJobDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	// Lower priority value dequeues first; ties break on submission order.
	critical := newJob(job.TypeEmail, job.StateWaiting, job.PriorityCritical)
	normal := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)
	otherQueue := newJob(job.TypeSMS, job.StateWaiting, job.PriorityNormal)
	future := newJob(job.TypeEmail, job.StateDelayed, job.PriorityCritical)
	future.RunAt = time.Now().UTC().Add(time.Hour)

	for _, j := range []*job.Job{normal, critical, otherQueue, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, job.TypeEmail, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != critical.ID {
		t.Fatalf("first dequeued job = %s, want the critical one", jobs[0].ID)
	}
	for _, j := range jobs {
		if j.State != job.StateActive {
			t.Fatalf("dequeued job state = %s, want active", j.State)
		}
	}

	// Already claimed; nothing left.
	jobs, err = s.DequeueJobs(ctx, job.TypeEmail, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("second dequeue got %d jobs, want 0", len(jobs))
	}
}

func TestJobDequeueDelayedBecomesReady(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeExport, job.StateDelayed, job.PriorityNormal)
	j.RunAt = time.Now().UTC().Add(-time.Minute) // backoff already elapsed
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	jobs, err := s.DequeueJobs(ctx, job.TypeExport, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
}

func TestJobDequeuePausedQueue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.PauseQueue(ctx, job.TypeEmail); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}

	jobs, err := s.DequeueJobs(ctx, job.TypeEmail, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("paused queue dequeued %d jobs, want 0", len(jobs))
	}

	// Submissions still land while paused.
	j2 := newJob(job.TypeEmail, job.StateWaiting, job.PriorityNormal)
	if err := s.EnqueueJob(ctx, j2); err != nil {
		t.Fatalf("EnqueueJob while paused: %v", err)
	}

	if err := s.ResumeQueue(ctx, job.TypeEmail); err != nil {
		t.Fatalf("ResumeQueue: %v", err)
	}
	jobs, err = s.DequeueJobs(ctx, job.TypeEmail, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("resumed queue dequeued %d jobs, want 2", len(jobs))
	}
}

func TestJobUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeBackup, job.StateWaiting, job.PriorityNormal)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j.State = job.StateCompleted
	j.Progress = 100
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, err := s.GetJob(ctx, job.TypeBackup, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted || got.Progress != 100 {
		t.Fatalf("got state=%s progress=%d", got.State, got.Progress)
	}

	if err := s.DeleteJob(ctx, job.TypeBackup, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, job.TypeBackup, j.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	// Update after delete.
	if err := s.UpdateJob(ctx, j); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobListByState(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 5 {
		if err := s.EnqueueJob(ctx, newJob(job.TypeAnalytics, job.StateFailed, job.PriorityNormal)); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, newJob(job.TypeAnalytics, job.StateWaiting, job.PriorityNormal)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	failed, err := s.ListJobsByState(ctx, job.TypeAnalytics, job.StateFailed, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(failed) != 5 {
		t.Fatalf("got %d failed jobs, want 5", len(failed))
	}

	limited, err := s.ListJobsByState(ctx, job.TypeAnalytics, job.StateFailed, job.ListOpts{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d jobs with offset 4, want 1", len(limited))
	}
}

func TestQueueStats(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	states := []job.State{
		job.StateWaiting, job.StateWaiting,
		job.StateActive,
		job.StateCompleted,
		job.StateFailed,
		job.StateDelayed,
	}
	for _, st := range states {
		if err := s.EnqueueJob(ctx, newJob(job.TypeRecording, st, job.PriorityNormal)); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.PauseQueue(ctx, job.TypeRecording); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}

	stats, err := s.QueueStats(ctx, job.TypeRecording)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	want := job.Stats{Waiting: 2, Active: 1, Completed: 1, Failed: 1, Delayed: 1, Paused: true}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestDrainExpiredJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := newJob(job.TypeCleanup, job.StateCompleted, job.PriorityNormal)
	oldDone := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &oldDone

	fresh := newJob(job.TypeCleanup, job.StateCompleted, job.PriorityNormal)
	freshDone := time.Now().UTC().Add(-time.Minute)
	fresh.CompletedAt = &freshDone

	stillFailed := newJob(job.TypeCleanup, job.StateFailed, job.PriorityNormal)
	stillFailed.CompletedAt = &oldDone

	for _, j := range []*job.Job{old, fresh, stillFailed} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	n, err := s.DrainExpiredJobs(ctx, job.TypeCleanup, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DrainExpiredJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("drained %d jobs, want 1", n)
	}
	if _, err := s.GetJob(ctx, job.TypeCleanup, old.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatal("old completed job should be drained")
	}
	if _, err := s.GetJob(ctx, job.TypeCleanup, fresh.ID); err != nil {
		t.Fatal("fresh completed job should survive")
	}
	if _, err := s.GetJob(ctx, job.TypeCleanup, stillFailed.ID); err != nil {
		t.Fatal("failed jobs are not drained")
	}
}

func TestTrimJobHistory(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	var newest *job.Job
	for i := range 5 {
		j := newJob(job.TypeExport, job.StateCompleted, job.PriorityNormal)
		done := now.Add(time.Duration(i) * time.Second)
		j.CompletedAt = &done
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
		newest = j
	}

	if err := s.TrimJobHistory(ctx, job.TypeExport, 2, 2); err != nil {
		t.Fatalf("TrimJobHistory: %v", err)
	}

	completed, err := s.ListJobsByState(ctx, job.TypeExport, job.StateCompleted, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("got %d completed after trim, want 2", len(completed))
	}
	if _, err := s.GetJob(ctx, job.TypeExport, newest.ID); err != nil {
		t.Fatal("trim must keep the newest terminal jobs")
	}
}

func TestHeartbeatAndReap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	active := newJob(job.TypeTranscription, job.StateActive, job.PriorityNormal)
	staleBeat := time.Now().UTC().Add(-10 * time.Minute)
	active.HeartbeatAt = &staleBeat
	if err := s.EnqueueJob(ctx, active); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, job.TypeTranscription, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != active.ID {
		t.Fatalf("stale = %v, want the active job", stale)
	}

	// A fresh heartbeat takes it off the reap list.
	if err := s.HeartbeatJob(ctx, job.TypeTranscription, active.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, job.TypeTranscription, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale jobs after heartbeat, want 0", len(stale))
	}

	if err := s.HeartbeatJob(ctx, job.TypeTranscription, id.NewJobID(), id.NewWorkerID()); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Webhook Subscription tests
// ──────────────────────────────────────────────────

func newSubscription(orgID string, active bool) *webhook.Subscription {
	return &webhook.Subscription{
		Entity:   courier.NewEntity(),
		ID:       id.NewHookID(),
		OrgID:    orgID,
		URL:      "https://hooks.example.com/in",
		Secret:   webhook.NewSecret(),
		Events:   []string{"*"},
		IsActive: active,
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	sub := newSubscription("org_1", true)
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.URL != sub.URL || got.Secret != sub.Secret {
		t.Fatalf("got %+v", got)
	}

	got.IsActive = false
	if err := s.UpdateSubscription(ctx, got); err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	got, _ = s.GetSubscription(ctx, sub.ID)
	if got.IsActive {
		t.Fatal("update did not persist")
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if _, err := s.GetSubscription(ctx, sub.ID); !errors.Is(err, courier.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.DeleteSubscription(ctx, sub.ID); !errors.Is(err, courier.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscriptionListByOrg(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	active := newSubscription("org_1", true)
	inactive := newSubscription("org_1", false)
	otherOrg := newSubscription("org_2", true)

	for _, sub := range []*webhook.Subscription{active, inactive, otherOrg} {
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription: %v", err)
		}
	}

	all, err := s.ListSubscriptionsByOrg(ctx, "org_1", false)
	if err != nil {
		t.Fatalf("ListSubscriptionsByOrg: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d subscriptions, want 2", len(all))
	}

	activeOnly, err := s.ListSubscriptionsByOrg(ctx, "org_1", true)
	if err != nil {
		t.Fatalf("ListSubscriptionsByOrg: %v", err)
	}
	if len(activeOnly) != 1 || activeOnly[0].ID != active.ID {
		t.Fatalf("activeOnly = %v", activeOnly)
	}
}

// ──────────────────────────────────────────────────
// Delivery Log tests
// ──────────────────────────────────────────────────

func TestDeliveryLog(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	hookA := id.NewHookID()
	hookB := id.NewHookID()
	now := time.Now().UTC()

	for i, hook := range []id.HookID{hookA, hookA, hookB} {
		entry := &webhook.DeliveryEntry{
			ID:        id.NewDeliveryID(),
			WebhookID: hook,
			Event:     "meeting.created",
			Success:   true,
			Attempt:   1,
		}
		entry.CreatedAt = now.Add(time.Duration(i) * time.Second)
		entry.UpdatedAt = entry.CreatedAt
		if err := s.AppendDelivery(ctx, entry); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	forA, err := s.ListDeliveries(ctx, webhook.LogQuery{WebhookID: hookA})
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(forA) != 2 {
		t.Fatalf("got %d entries for hook A, want 2", len(forA))
	}
	if forA[0].CreatedAt.Before(forA[1].CreatedAt) {
		t.Fatal("entries must be newest-first")
	}

	since, err := s.ListDeliveries(ctx, webhook.LogQuery{Since: now.Add(1500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(since) != 1 {
		t.Fatalf("got %d entries since cutoff, want 1", len(since))
	}

	limited, err := s.ListDeliveries(ctx, webhook.LogQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d entries with limit 1, want 1", len(limited))
	}
}

// ──────────────────────────────────────────────────
// Primitive tests
// ──────────────────────────────────────────────────

func TestCache(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.SetCache(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("SetCache: %v", err)
	}
	v, ok, err := s.GetCache(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("GetCache = %q, %v, %v", v, ok, err)
	}

	// Missing key.
	_, ok, err = s.GetCache(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	// Expiry.
	if err := s.SetCache(ctx, "ttl", []byte("x"), time.Millisecond); err != nil {
		t.Fatalf("SetCache: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	_, ok, _ = s.GetCache(ctx, "ttl")
	if ok {
		t.Fatal("expired key should be gone")
	}

	// Delete.
	if err := s.DeleteCache(ctx, "k"); err != nil {
		t.Fatalf("DeleteCache: %v", err)
	}
	_, ok, _ = s.GetCache(ctx, "k")
	if ok {
		t.Fatal("deleted key should be gone")
	}
	if err := s.DeleteCache(ctx, "k"); err != nil {
		t.Fatalf("double delete should be fine: %v", err)
	}
}

func TestLocker(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "res", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("AcquireLock = %q, %v, %v", token, ok, err)
	}

	// Second acquire while held fails.
	_, ok, err = s.AcquireLock(ctx, "res", time.Minute)
	if err != nil || ok {
		t.Fatalf("contended acquire: ok=%v err=%v", ok, err)
	}

	// Wrong token does not release.
	released, err := s.ReleaseLock(ctx, "res", "bogus")
	if err != nil || released {
		t.Fatalf("wrong-token release: %v, %v", released, err)
	}

	released, err = s.ReleaseLock(ctx, "res", token)
	if err != nil || !released {
		t.Fatalf("ReleaseLock: %v, %v", released, err)
	}

	// Free after release.
	_, ok, err = s.AcquireLock(ctx, "res", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire: ok=%v err=%v", ok, err)
	}
}

func TestLockerExpiry(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "exp", time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: ok=%v err=%v", ok, err)
	}
	time.Sleep(10 * time.Millisecond)

	// Expired lock is implicitly free.
	_, ok, err = s.AcquireLock(ctx, "exp", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}

	// The stale token cannot release the new hold.
	released, _ := s.ReleaseLock(ctx, "exp", token)
	if released {
		t.Fatal("stale token must not release")
	}
}

func TestRateCounter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrWindow(ctx, "hook:deliveries", time.Hour)
		if err != nil {
			t.Fatalf("IncrWindow: %v", err)
		}
		if n != want {
			t.Fatalf("count = %d, want %d", n, want)
		}
	}

	// Independent keys count independently.
	n, err := s.IncrWindow(ctx, "other", time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("other key count = %d, %v", n, err)
	}
}
