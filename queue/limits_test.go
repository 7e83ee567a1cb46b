package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmeet/courier/job"
)

// ---------------------------------------------------------------------------
// Limiter basics
// ---------------------------------------------------------------------------

func TestNewLimiter_Empty(t *testing.T) {
	l := NewLimiter()
	// No configs; Acquire/Release should always succeed.
	if !l.Acquire(job.TypeEmail, "") {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	l.Release(job.TypeEmail, "")
}

func TestNewLimiter_WithConfig(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeEmail,
		MaxConcurrency: 2,
	})
	if l.ActiveCount(job.TypeEmail) != 0 {
		t.Fatal("expected 0 active jobs initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestLimiter_MaxConcurrency(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeEmail,
		MaxConcurrency: 2,
	})

	if !l.Acquire(job.TypeEmail, "") {
		t.Fatal("first Acquire should succeed")
	}
	if !l.Acquire(job.TypeEmail, "") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if l.Acquire(job.TypeEmail, "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	l.Release(job.TypeEmail, "")
	if !l.Acquire(job.TypeEmail, "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestLimiter_AcquireRelease_ActiveCount(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeExport,
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !l.Acquire(job.TypeExport, "") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if l.ActiveCount(job.TypeExport) != 3 {
		t.Fatalf("expected 3 active, got %d", l.ActiveCount(job.TypeExport))
	}

	l.Release(job.TypeExport, "")
	l.Release(job.TypeExport, "")
	if l.ActiveCount(job.TypeExport) != 1 {
		t.Fatalf("expected 1 active, got %d", l.ActiveCount(job.TypeExport))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestLimiter_RateLimit_Throttles(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:     job.TypeWebhookDelivery,
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	if !l.Acquire(job.TypeWebhookDelivery, "") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	l.Release(job.TypeWebhookDelivery, "")

	// Immediately after, token bucket is empty.
	if l.Acquire(job.TypeWebhookDelivery, "") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	if !l.Acquire(job.TypeWebhookDelivery, "") {
		t.Fatal("Acquire should succeed after token refill")
	}
	l.Release(job.TypeWebhookDelivery, "")
}

func TestLimiter_RateLimit_BurstAllows(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:     job.TypeAnalytics,
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		if !l.Acquire(job.TypeAnalytics, "") {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		l.Release(job.TypeAnalytics, "")
	}
}

// ---------------------------------------------------------------------------
// Per-org isolation
// ---------------------------------------------------------------------------

func TestLimiter_OrgLimit(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeTranscription,
		MaxConcurrency: 100, // high queue limit
	})

	l.SetOrgLimit(OrgLimitConfig{
		Queue:          job.TypeTranscription,
		OrgID:          "orgA",
		MaxConcurrency: 1,
	})

	// Org A: first job succeeds.
	if !l.Acquire(job.TypeTranscription, "orgA") {
		t.Fatal("orgA first Acquire should succeed")
	}
	// Org A: second job blocked.
	if l.Acquire(job.TypeTranscription, "orgA") {
		t.Fatal("orgA second Acquire should fail (org max 1)")
	}

	// Org B (no config): should still succeed.
	if !l.Acquire(job.TypeTranscription, "orgB") {
		t.Fatal("orgB Acquire should succeed (no org limit)")
	}

	l.Release(job.TypeTranscription, "orgA")
	l.Release(job.TypeTranscription, "orgB")
}

func TestLimiter_OrgIsolation(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeRecording,
		MaxConcurrency: 100,
	})

	l.SetOrgLimit(OrgLimitConfig{
		Queue:          job.TypeRecording,
		OrgID:          "orgA",
		MaxConcurrency: 2,
	})
	l.SetOrgLimit(OrgLimitConfig{
		Queue:          job.TypeRecording,
		OrgID:          "orgB",
		MaxConcurrency: 2,
	})

	// Fill orgA slots.
	l.Acquire(job.TypeRecording, "orgA")
	l.Acquire(job.TypeRecording, "orgA")

	// orgA is maxed.
	if l.Acquire(job.TypeRecording, "orgA") {
		t.Fatal("orgA should be blocked at max concurrency")
	}

	// orgB is unaffected.
	if !l.Acquire(job.TypeRecording, "orgB") {
		t.Fatal("orgB should not be affected by orgA's limits")
	}

	l.Release(job.TypeRecording, "orgA")
	l.Release(job.TypeRecording, "orgA")
	l.Release(job.TypeRecording, "orgB")
}

func TestLimiter_OrgDenialKeepsQueueToken(t *testing.T) {
	// Two queue tokens, org capped at one concurrent job.
	l := NewLimiter(LimitConfig{
		Queue:     job.TypeTranscription,
		RateLimit: 0.0001,
		RateBurst: 2,
	})
	l.SetOrgLimit(OrgLimitConfig{
		Queue:          job.TypeTranscription,
		OrgID:          "orgA",
		MaxConcurrency: 1,
	})

	if !l.Acquire(job.TypeTranscription, "orgA") {
		t.Fatal("orgA first Acquire should succeed")
	}
	// Denied by orgA's concurrency cap. The remaining queue token must
	// survive the denial.
	if l.Acquire(job.TypeTranscription, "orgA") {
		t.Fatal("orgA second Acquire should fail (org max 1)")
	}
	if !l.Acquire(job.TypeTranscription, "orgB") {
		t.Fatal("orgB Acquire should succeed: orgA's denial must not burn a queue token")
	}

	l.Release(job.TypeTranscription, "orgA")
	l.Release(job.TypeTranscription, "orgB")
}

func TestLimiter_QueueDenialKeepsOrgToken(t *testing.T) {
	// One queue token, two org tokens.
	l := NewLimiter(LimitConfig{
		Queue:     job.TypeRecording,
		RateLimit: 0.0001,
		RateBurst: 1,
	})
	l.SetOrgLimit(OrgLimitConfig{
		Queue:     job.TypeRecording,
		OrgID:     "orgA",
		RateLimit: 0.0001,
		RateBurst: 2,
	})

	// Drain the queue token with an unrelated org.
	if !l.Acquire(job.TypeRecording, "orgB") {
		t.Fatal("orgB Acquire should succeed")
	}
	// Queue-level denial: orgA's reserved token must be returned.
	if l.Acquire(job.TypeRecording, "orgA") {
		t.Fatal("Acquire should fail once the queue tokens are spent")
	}

	// Refresh the queue bucket; orgA must still hold both of its tokens.
	l.SetLimit(LimitConfig{
		Queue:     job.TypeRecording,
		RateLimit: 0.0001,
		RateBurst: 2,
	})
	if !l.Acquire(job.TypeRecording, "orgA") {
		t.Fatal("orgA first Acquire should succeed after queue refresh")
	}
	if !l.Acquire(job.TypeRecording, "orgA") {
		t.Fatal("orgA second Acquire should succeed: the earlier queue denial must not burn an org token")
	}
}

func TestLimiter_OrgActiveCount(t *testing.T) {
	l := NewLimiter(LimitConfig{Queue: job.TypeBackup, MaxConcurrency: 10})
	l.SetOrgLimit(OrgLimitConfig{
		Queue:          job.TypeBackup,
		OrgID:          "t1",
		MaxConcurrency: 5,
	})

	l.Acquire(job.TypeBackup, "t1")
	l.Acquire(job.TypeBackup, "t1")

	if got := l.OrgActiveCount(job.TypeBackup, "t1"); got != 2 {
		t.Fatalf("expected org active 2, got %d", got)
	}

	l.Release(job.TypeBackup, "t1")
	if got := l.OrgActiveCount(job.TypeBackup, "t1"); got != 1 {
		t.Fatalf("expected org active 1, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestLimiter_SetLimit(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeSMS,
		MaxConcurrency: 1,
	})

	l.Acquire(job.TypeSMS, "")
	if l.Acquire(job.TypeSMS, "") {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically.
	l.SetLimit(LimitConfig{
		Queue:          job.TypeSMS,
		MaxConcurrency: 3,
	})

	// Now should succeed.
	if !l.Acquire(job.TypeSMS, "") {
		t.Fatal("should succeed after raising concurrency")
	}
	l.Release(job.TypeSMS, "")
	l.Release(job.TypeSMS, "")
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeFileProcessing,
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire(job.TypeFileProcessing, "") {
				acquired.Add(1)
				// Simulate work.
				time.Sleep(time.Millisecond)
				l.Release(job.TypeFileProcessing, "")
			}
		}()
	}

	wg.Wait()

	// At least some should have succeeded.
	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}

	// Active should be back to 0.
	if l.ActiveCount(job.TypeFileProcessing) != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", l.ActiveCount(job.TypeFileProcessing))
	}
}

func TestLimiter_ReleaseUnderflow(t *testing.T) {
	l := NewLimiter(LimitConfig{
		Queue:          job.TypeCleanup,
		MaxConcurrency: 5,
	})

	// Release without Acquire should not go negative.
	l.Release(job.TypeCleanup, "")
	if l.ActiveCount(job.TypeCleanup) != 0 {
		t.Fatal("active count should not go below 0")
	}
}
