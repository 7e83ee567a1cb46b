// Package job defines the job entity, the fixed queue type enumeration,
// the handler registry, and the persistence contract for the job queue.
package job

import (
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready and waiting for a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts (or hit a fatal
	// error) and will not be retried automatically.
	StateFailed State = "failed"
	// StateDelayed means the job is scheduled for the future, either by
	// an initial delay or by retry backoff.
	StateDelayed State = "delayed"
	// StateStalled means the job was picked up but its worker stopped
	// heartbeating more than once; operator attention is required.
	StateStalled State = "stalled"
)

// Type is the fixed queue category that determines which worker pool
// and retry policy apply to a job. The enumeration is closed:
// submission to any other value is rejected.
type Type string

const (
	TypeTranscription     Type = "transcription"
	TypeSummaryGeneration Type = "summary-generation"
	TypeAnalytics         Type = "analytics"
	TypeEmail             Type = "email"
	TypeSMS               Type = "sms"
	TypeWebhookDelivery   Type = "webhook-delivery"
	TypeFileProcessing    Type = "file-processing"
	TypeMeetingBotJoin    Type = "meeting-bot-join"
	TypeRecording         Type = "recording"
	TypeExport            Type = "export"
	TypeBackup            Type = "backup"
	TypeCleanup           Type = "cleanup"
)

// Types returns all known queue types in a stable order.
func Types() []Type {
	return []Type{
		TypeTranscription,
		TypeSummaryGeneration,
		TypeAnalytics,
		TypeEmail,
		TypeSMS,
		TypeWebhookDelivery,
		TypeFileProcessing,
		TypeMeetingBotJoin,
		TypeRecording,
		TypeExport,
		TypeBackup,
		TypeCleanup,
	}
}

// Valid reports whether t is one of the known queue types.
func (t Type) Valid() bool {
	switch t {
	case TypeTranscription, TypeSummaryGeneration, TypeAnalytics,
		TypeEmail, TypeSMS, TypeWebhookDelivery, TypeFileProcessing,
		TypeMeetingBotJoin, TypeRecording, TypeExport, TypeBackup,
		TypeCleanup:
		return true
	}
	return false
}

// String returns the queue type as a plain string.
func (t Type) String() string { return string(t) }

// Priority tiers. Lower values are served first; ties within a tier are
// broken by submission order.
const (
	PriorityCritical = 1
	PriorityHigh     = 10
	PriorityNormal   = 50
	PriorityLow      = 100
)

// Job represents one unit of asynchronous work submitted to a typed queue.
// The payload is opaque to the queue runtime; only the consumer for the
// job's Type interprets it.
type Job struct {
	courier.Entity

	ID            id.JobID      `json:"id"`
	Type          Type          `json:"type"`
	Payload       []byte        `json:"payload"`
	Priority      int           `json:"priority"`
	CorrelationID string        `json:"correlation_id"`
	AttemptsMade  int           `json:"attempts_made"`
	MaxAttempts   int           `json:"max_attempts"`
	BackoffBase   time.Duration `json:"backoff_base"`
	State         State         `json:"state"`
	Progress      int           `json:"progress,omitempty"`
	Result        []byte        `json:"result,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	OrgID         string        `json:"org_id,omitempty"`
	WorkerID      id.WorkerID   `json:"worker_id,omitempty"`
	StallCount    int           `json:"stall_count,omitempty"`
	RunAt         time.Time     `json:"run_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt   *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Ready reports whether the job is eligible for dequeue at the given time.
func (j *Job) Ready(now time.Time) bool {
	if j.State != StateWaiting && j.State != StateDelayed {
		return false
	}
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Status is the polling view of a job returned by GetStatus.
type Status struct {
	State    State  `json:"state"`
	Progress int    `json:"progress,omitempty"`
	Result   []byte `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}
