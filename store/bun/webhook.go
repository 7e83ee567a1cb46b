package bunstore

import (
	"context"
	"fmt"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/webhook"
)

// CreateSubscription persists a new webhook subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, hookID id.HookID) (*webhook.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", hookID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("courier/bun: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription persists changes to an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: update subscription: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription by ID. Its delivery log is
// kept for auditing.
func (s *Store) DeleteSubscription(ctx context.Context, hookID id.HookID) error {
	res, err := s.db.NewDelete().
		TableExpr("courier_webhook_subscriptions").
		Where("id = ?", hookID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: delete subscription: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptionsByOrg returns an organization's subscriptions,
// optionally restricted to active ones.
func (s *Store) ListSubscriptionsByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*webhook.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models).
		Where("org_id = ?", orgID).
		Order("created_at ASC")

	if activeOnly {
		q = q.Where("is_active = TRUE")
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: list subscriptions: %w", err)
	}

	subs := make([]*webhook.Subscription, 0, len(models))
	for i := range models {
		sub, convErr := fromSubscriptionModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: list subscriptions convert: %w", convErr)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// AppendDelivery records one delivery attempt in the audit log.
func (s *Store) AppendDelivery(ctx context.Context, e *webhook.DeliveryEntry) error {
	m := toDeliveryModel(e)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: append delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns matching delivery log entries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, q webhook.LogQuery) ([]*webhook.DeliveryEntry, error) {
	var models []deliveryModel
	sel := s.db.NewSelect().Model(&models).
		Order("created_at DESC")

	if !q.WebhookID.IsNil() {
		sel = sel.Where("webhook_id = ?", q.WebhookID.String())
	}
	if !q.Since.IsZero() {
		sel = sel.Where("created_at >= ?", q.Since)
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	err := sel.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: list deliveries: %w", err)
	}

	entries := make([]*webhook.DeliveryEntry, 0, len(models))
	for i := range models {
		e, convErr := fromDeliveryModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: list deliveries convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
