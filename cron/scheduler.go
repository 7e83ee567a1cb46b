package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/primitive"
)

// Submitter enqueues jobs for fired entries. queue.Manager satisfies it.
type Submitter interface {
	Submit(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-occurrence distributed locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// entryState tracks one registered entry and its next due time.
type entryState struct {
	entry     Entry
	schedule  cronlib.Schedule
	nextRunAt time.Time
	lastRunAt time.Time
}

// Scheduler fires registered entries on a tick loop. Each occurrence is
// guarded by a distributed lock keyed on entry name plus the scheduled
// fire time, so an entry fires at most once per occurrence even when
// several replicas run the same schedule.
type Scheduler struct {
	locker    primitive.Locker
	submitter Submitter
	logger    *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	mu      sync.Mutex
	entries map[string]*entryState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The locker coordinates replicas;
// the submitter serves Queue entries.
func NewScheduler(locker primitive.Locker, submitter Submitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		locker:       locker,
		submitter:    submitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		entries:      make(map[string]*entryState),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. Adding a duplicate name is an error.
func (s *Scheduler) Add(e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("courier/cron: parse schedule %q for %q: %w", e.Schedule, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("courier/cron: entry %q already registered", e.Name)
	}
	s.entries[e.Name] = &entryState{
		entry:     e,
		schedule:  sched,
		nextRunAt: sched.Next(time.Now().UTC()),
	}
	return nil
}

// Entries returns the names of all registered entries.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.Entries())),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*entryState
	for _, st := range s.entries {
		if !st.nextRunAt.After(now) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.fire(ctx, st, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, st *entryState, now time.Time) {
	occurrence := st.nextRunAt

	s.mu.Lock()
	st.lastRunAt = now
	st.nextRunAt = st.schedule.Next(now)
	s.mu.Unlock()

	// One lock per occurrence. The lock is never released: it holds for
	// its TTL so a replica whose clock lags cannot re-fire the same
	// occurrence after we finish.
	lockKey := fmt.Sprintf("cron:%s:%d", st.entry.Name, occurrence.UnixNano())
	_, acquired, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		s.logger.Error("cron lock error",
			slog.String("entry", st.entry.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another replica fired this occurrence.
	}

	if st.entry.Run != nil {
		if runErr := st.entry.Run(ctx); runErr != nil {
			s.logger.Error("cron entry error",
				slog.String("entry", st.entry.Name),
				slog.String("error", runErr.Error()),
			)
		} else {
			s.logger.Debug("cron entry ran", slog.String("entry", st.entry.Name))
		}
		return
	}

	j, submitErr := s.submitter.Submit(ctx, st.entry.Queue, st.entry.Payload, st.entry.Opts...)
	if submitErr != nil {
		s.logger.Error("cron submit error",
			slog.String("entry", st.entry.Name),
			slog.String("queue", st.entry.Queue.String()),
			slog.String("error", submitErr.Error()),
		)
		return
	}
	s.logger.Info("cron fired",
		slog.String("entry", st.entry.Name),
		slog.String("queue", st.entry.Queue.String()),
		slog.String("job_id", j.ID.String()),
	)
}
