package eventhook

import "github.com/openmeet/courier/job"

// Event names published for job lifecycle transitions. Subscribers can
// match them individually, with the "job.*" prefix pattern, or with "*".
const (
	EventJobEnqueued  = "job.enqueued"
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobRetrying  = "job.retrying"
	EventJobStalled   = "job.stalled"
	EventJobEscalated = "job.escalated"
)

// AllEvents returns every event this extension can publish.
func AllEvents() []string {
	return []string{
		EventJobEnqueued,
		EventJobStarted,
		EventJobCompleted,
		EventJobFailed,
		EventJobRetrying,
		EventJobStalled,
		EventJobEscalated,
	}
}

// ── Payload types ───────────────────────────────────

type jobPayload struct {
	JobID         string `json:"job_id"`
	Queue         string `json:"queue"`
	Priority      int    `json:"priority"`
	CorrelationID string `json:"correlation_id,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:         j.ID.String(),
		Queue:         j.Type.String(),
		Priority:      j.Priority,
		CorrelationID: j.CorrelationID,
		OrgID:         j.OrgID,
	}
}

type jobCompletedPayload struct {
	jobPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type jobFailedPayload struct {
	jobPayload
	Error string `json:"error"`
}

type jobRetryingPayload struct {
	jobPayload
	Attempt   int    `json:"attempt"`
	NextRunAt string `json:"next_run_at"`
}

type jobStalledPayload struct {
	jobPayload
	StallCount int `json:"stall_count"`
}

type jobEscalatedPayload struct {
	jobPayload
	CleanupJobID string `json:"cleanup_job_id"`
	Error        string `json:"error,omitempty"`
}
