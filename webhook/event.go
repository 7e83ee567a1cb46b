package webhook

import (
	"encoding/json"
	"time"
)

// Event is one occurrence published into the webhook system. Events are
// ephemeral; only the deliveries they fan into are persisted.
type Event struct {
	// Name identifies the event kind, e.g. "meeting.created".
	Name string `json:"name"`

	// Data is the event body, passed through to receivers verbatim.
	Data json.RawMessage `json:"data"`

	// OrganizationID scopes the fan-out to one org's subscriptions.
	OrganizationID string `json:"organization_id"`

	// Timestamp is when the event occurred. Zero means publish time.
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the JSON body POSTed to subscription endpoints. The
// signature header is computed over these exact bytes.
type Envelope struct {
	ID             string          `json:"id"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	OrganizationID string          `json:"organizationId"`
	Timestamp      time.Time       `json:"timestamp"`
	WebhookID      string          `json:"webhookId"`
}

// deliveryTask is the payload of a webhook-delivery job: one event
// bound for one subscription.
type deliveryTask struct {
	WebhookID      string          `json:"webhook_id"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	OrganizationID string          `json:"organization_id"`
	Timestamp      time.Time       `json:"timestamp"`
}
