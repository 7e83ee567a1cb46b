package job

import "time"

// Options configures per-job behavior such as priority, delay, and the
// retry budget.
type Options struct {
	// Priority determines dequeue ordering. Lower values are served
	// first (PriorityCritical=1 .. PriorityLow=100).
	Priority int

	// Delay postpones the first attempt by the given duration.
	Delay time.Duration

	// MaxAttempts is the total attempt budget including the first run.
	// Zero means use the queue's configured default.
	MaxAttempts int

	// BackoffBase overrides the exponential backoff base delay for this
	// job. Zero means use the queue's configured default.
	BackoffBase time.Duration

	// CorrelationID threads log and event entries for one logical unit
	// of work across retries. Generated if empty.
	CorrelationID string

	// Timeout is the maximum duration one attempt may run. Zero means
	// no per-attempt deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with the canonical defaults: normal
// priority, no delay, and queue-level retry settings.
func DefaultOptions() Options {
	return Options{
		Priority: PriorityNormal,
	}
}

// Option is a functional option for job submission.
type Option func(*Options)

// WithPriority sets the job priority. Lower values are served first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay postpones the first attempt by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithMaxAttempts sets the total attempt budget for the job.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithBackoffBase overrides the exponential backoff base delay.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Options) { o.BackoffBase = d }
}

// WithCorrelationID threads an existing correlation ID through the job.
func WithCorrelationID(cid string) Option {
	return func(o *Options) { o.CorrelationID = cid }
}

// WithTimeout sets the maximum duration one attempt may run.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
