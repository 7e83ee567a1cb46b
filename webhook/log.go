package webhook

import (
	"context"
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
)

// DeliveryEntry records one delivery attempt: the exact payload sent,
// the outcome, and timing. Every attempt gets its own entry, including
// retries and synchronous test sends.
type DeliveryEntry struct {
	courier.Entity

	ID        id.DeliveryID `json:"id"`
	WebhookID id.HookID     `json:"webhook_id"`
	OrgID     string        `json:"org_id"`
	Event     string        `json:"event"`

	// Payload is the exact envelope bytes sent over the wire.
	Payload []byte `json:"payload"`

	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`

	// Attempt is the 1-based delivery attempt number for the job.
	Attempt int `json:"attempt"`
}

// LogQuery filters the delivery log.
type LogQuery struct {
	// WebhookID restricts entries to one subscription.
	WebhookID id.HookID

	// Since excludes entries created before it. Zero means no lower bound.
	Since time.Time

	// Limit caps the number of returned entries. Zero means no limit.
	Limit int
}

// LogStore defines persistence for the delivery audit log.
type LogStore interface {
	// AppendDelivery records one delivery attempt.
	AppendDelivery(ctx context.Context, e *DeliveryEntry) error

	// ListDeliveries returns matching entries, newest first.
	ListDeliveries(ctx context.Context, q LogQuery) ([]*DeliveryEntry, error)
}

// DeliveryStats aggregates delivery outcomes for one subscription over
// a window. AvgResponseTimeMs covers successful attempts only.
type DeliveryStats struct {
	Total             int64   `json:"total"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}
