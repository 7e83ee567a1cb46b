package webhook

import (
	"context"
	"strings"
	"time"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
)

// Subscription registers an HTTP endpoint to receive signed event
// deliveries for one organization.
type Subscription struct {
	courier.Entity

	ID    id.HookID `json:"id"`
	OrgID string    `json:"org_id"`

	// URL is the delivery endpoint.
	URL string `json:"url"`

	// Secret signs delivery payloads. Prefixed "whsec_".
	Secret string `json:"secret"`

	// Events lists the event names this subscription receives. "*"
	// matches everything; a trailing ".*" matches a name prefix
	// ("meeting.*" matches "meeting.created").
	Events []string `json:"events"`

	// IsActive gates delivery. Inactive subscriptions are skipped at
	// fan-out and again at delivery time.
	IsActive bool `json:"is_active"`

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
}

// Matches reports whether the subscription receives the given event.
func (s *Subscription) Matches(event string) bool {
	for _, pattern := range s.Events {
		if pattern == "*" || pattern == event {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if strings.HasPrefix(event, prefix+".") {
				return true
			}
		}
	}
	return false
}

// SubscriptionStore defines persistence for webhook subscriptions.
type SubscriptionStore interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, s *Subscription) error

	// GetSubscription retrieves a subscription by ID. Returns
	// courier.ErrSubscriptionNotFound when absent.
	GetSubscription(ctx context.Context, hookID id.HookID) (*Subscription, error)

	// UpdateSubscription persists changes to an existing subscription.
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// DeleteSubscription removes a subscription by ID.
	DeleteSubscription(ctx context.Context, hookID id.HookID) error

	// ListSubscriptionsByOrg returns an organization's subscriptions,
	// optionally restricted to active ones.
	ListSubscriptionsByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*Subscription, error)
}
