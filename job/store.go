package job

import (
	"context"
	"time"

	"github.com/openmeet/courier/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Stats is the per-queue state breakdown returned by QueueStats.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// Store defines the persistence contract for jobs. The durable substrate
// behind it is the single source of truth for queue state; manager
// instances across processes serialize through it.
type Store interface {
	// EnqueueJob persists a new job in waiting (or delayed) state.
	EnqueueJob(ctx context.Context, j *Job) error

	// EnqueueJobs persists a batch of jobs. The batch either fully
	// persists or fails as a whole; no partial silent success.
	EnqueueJobs(ctx context.Context, jobs []*Job) error

	// DequeueJobs atomically claims up to limit ready jobs from the
	// given queue, sets them active, and returns them. Ready jobs are
	// ordered by priority ascending, then submission order. Paused
	// queues return no jobs.
	DequeueJobs(ctx context.Context, queue Type, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID within a queue.
	GetJob(ctx context.Context, queue Type, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID. Returns courier.ErrJobNotFound if
	// the job does not exist.
	DeleteJob(ctx context.Context, queue Type, jobID id.JobID) error

	// ListJobsByState returns jobs in the queue matching the given state.
	ListJobsByState(ctx context.Context, queue Type, state State, opts ListOpts) ([]*Job, error)

	// QueueStats returns the per-state job counts for the queue.
	QueueStats(ctx context.Context, queue Type) (Stats, error)

	// PauseQueue stops dispatch for the queue; submissions still land.
	PauseQueue(ctx context.Context, queue Type) error

	// ResumeQueue re-enables dispatch for the queue.
	ResumeQueue(ctx context.Context, queue Type) error

	// IsQueuePaused reports the queue's admission-control flag.
	IsQueuePaused(ctx context.Context, queue Type) (bool, error)

	// DrainExpiredJobs removes completed jobs finished before the cutoff.
	// Returns the number removed.
	DrainExpiredJobs(ctx context.Context, queue Type, before time.Time) (int64, error)

	// TrimJobHistory bounds the retained completed/failed history for
	// the queue, evicting the oldest terminal jobs beyond each cap.
	TrimJobHistory(ctx context.Context, queue Type, completedMax, failedMax int) error

	// HeartbeatJob updates the heartbeat timestamp for an active job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, queue Type, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs in the queue whose last
	// heartbeat is older than the threshold, indicating the worker may
	// have crashed.
	ReapStaleJobs(ctx context.Context, queue Type, threshold time.Duration) ([]*Job, error)
}
