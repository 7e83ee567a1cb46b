package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.JobEnqueued       = (*Extension)(nil)
	_ ext.JobStarted        = (*Extension)(nil)
	_ ext.JobCompleted      = (*Extension)(nil)
	_ ext.JobFailed         = (*Extension)(nil)
	_ ext.JobRetrying       = (*Extension)(nil)
	_ ext.JobStalled        = (*Extension)(nil)
	_ ext.JobEscalated      = (*Extension)(nil)
	_ ext.DeliverySucceeded = (*Extension)(nil)
	_ ext.DeliveryFailed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so the package carries no backend dependency;
// callers inject whatever trail they write to at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one structured audit trail entry.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events through a structured logger. Useful
// when the audit trail is the log stream itself.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Courier lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"priority", j.Priority,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"queue", j.Type.String(),
		"attempts_made", j.AttemptsMade,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobStalled implements ext.JobStalled.
func (e *Extension) OnJobStalled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStalled, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"stall_count", j.StallCount,
	)
}

// OnJobEscalated implements ext.JobEscalated.
func (e *Extension) OnJobEscalated(ctx context.Context, j *job.Job, cleanupJobID id.JobID) error {
	return e.record(ctx, ActionJobEscalated, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Type.String(),
		"cleanup_job_id", cleanupJobID.String(),
		"last_error", j.LastError,
	)
}

// ── Webhook delivery hooks ──────────────────────────

// OnDeliverySucceeded implements ext.DeliverySucceeded.
func (e *Extension) OnDeliverySucceeded(ctx context.Context, webhookID id.HookID, event string, statusCode int, elapsed time.Duration) error {
	return e.record(ctx, ActionDeliverySucceeded, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, webhookID.String(), CategoryWebhook, nil,
		"event", event,
		"status_code", statusCode,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnDeliveryFailed implements ext.DeliveryFailed.
func (e *Extension) OnDeliveryFailed(ctx context.Context, webhookID id.HookID, event string, attempt int, deliveryErr error) error {
	return e.record(ctx, ActionDeliveryFailed, SeverityWarning, OutcomeFailure,
		ResourceWebhook, webhookID.String(), CategoryWebhook, deliveryErr,
		"event", event,
		"attempt", attempt,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
