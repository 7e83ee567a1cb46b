package cron_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmeet/courier/cron"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSubmitter captures submitted jobs.
type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (r *recordingSubmitter) Submit(_ context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := &job.Job{Type: queue, Payload: payload}
	r.jobs = append(r.jobs, j)
	return j, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// refusingLocker never grants a lock.
type refusingLocker struct{}

func (refusingLocker) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (refusingLocker) ReleaseLock(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestAdd_Validation(t *testing.T) {
	s := cron.NewScheduler(memory.New(), &recordingSubmitter{}, testLogger())

	tests := []struct {
		name  string
		entry cron.Entry
	}{
		{"missing name", cron.Entry{Schedule: "@hourly", Queue: job.TypeBackup}},
		{"missing schedule", cron.Entry{Name: "a", Queue: job.TypeBackup}},
		{"bad schedule", cron.Entry{Name: "a", Schedule: "not a schedule", Queue: job.TypeBackup}},
		{"unknown queue", cron.Entry{Name: "a", Schedule: "@hourly", Queue: job.Type("bogus")}},
		{"neither queue nor run", cron.Entry{Name: "a", Schedule: "@hourly"}},
		{"both queue and run", cron.Entry{
			Name: "a", Schedule: "@hourly", Queue: job.TypeBackup,
			Run: func(context.Context) error { return nil },
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Add(tt.entry); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAdd_DuplicateName(t *testing.T) {
	s := cron.NewScheduler(memory.New(), &recordingSubmitter{}, testLogger())

	e := cron.Entry{Name: "dup", Schedule: "@hourly", Queue: job.TypeBackup}
	if err := s.Add(e); err != nil {
		t.Fatalf("first add error: %v", err)
	}
	if err := s.Add(e); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestScheduler_FiresQueueEntry(t *testing.T) {
	sub := &recordingSubmitter{}
	s := cron.NewScheduler(memory.New(), sub, testLogger(),
		cron.WithTickInterval(5*time.Millisecond),
	)

	err := s.Add(cron.Entry{
		Name:     "fast",
		Schedule: "@every 10ms",
		Queue:    job.TypeCleanup,
		Payload:  []byte(`{"kind":"sweep"}`),
	})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if sub.count() < 2 {
		t.Errorf("submissions = %d, want >= 2", sub.count())
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	for _, j := range sub.jobs {
		if j.Type != job.TypeCleanup {
			t.Errorf("queue = %q, want cleanup", j.Type)
		}
		if string(j.Payload) != `{"kind":"sweep"}` {
			t.Errorf("payload = %s", j.Payload)
		}
	}
}

func TestScheduler_FiresRunEntry(t *testing.T) {
	var fired atomic.Int32
	s := cron.NewScheduler(memory.New(), &recordingSubmitter{}, testLogger(),
		cron.WithTickInterval(5*time.Millisecond),
	)

	err := s.Add(cron.Entry{
		Name:     "local",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			fired.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if fired.Load() < 2 {
		t.Errorf("fires = %d, want >= 2", fired.Load())
	}
}

func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	var fired atomic.Int32
	s := cron.NewScheduler(refusingLocker{}, &recordingSubmitter{}, testLogger(),
		cron.WithTickInterval(5*time.Millisecond),
	)

	err := s.Add(cron.Entry{
		Name:     "contended",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			fired.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if fired.Load() != 0 {
		t.Errorf("fires = %d, want 0 when every lock is refused", fired.Load())
	}
}

func TestScheduler_Entries(t *testing.T) {
	s := cron.NewScheduler(memory.New(), &recordingSubmitter{}, testLogger())
	if err := s.Add(cron.Entry{Name: "one", Schedule: "@daily", Queue: job.TypeBackup}); err != nil {
		t.Fatalf("add error: %v", err)
	}
	names := s.Entries()
	if len(names) != 1 || names[0] != "one" {
		t.Errorf("entries = %v", names)
	}
}
