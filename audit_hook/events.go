package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobEnqueued       = "job.enqueued"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetrying       = "job.retrying"
	ActionJobStalled        = "job.stalled"
	ActionJobEscalated      = "job.escalated"
	ActionDeliverySucceeded = "delivery.succeeded"
	ActionDeliveryFailed    = "delivery.failed"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "courier.job"
	CategoryWebhook = "courier.webhook"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob     = "job"
	ResourceWebhook = "webhook"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobStalled,
		ActionJobEscalated,
		ActionDeliverySucceeded,
		ActionDeliveryFailed,
	}
}
