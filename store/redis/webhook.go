package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/webhook"
)

// deliveryLogMax bounds the per-subscription and global delivery lists.
const deliveryLogMax = 10000

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

// CreateSubscription stores the subscription as a Hash and indexes it
// under its organization.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sID := sub.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, subKey(sID), subToMap(sub))
	pipe.SAdd(ctx, orgSubsKey(sub.OrgID), sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, hookID id.HookID) (*webhook.Subscription, error) {
	vals, err := s.client.HGetAll(ctx, subKey(hookID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get subscription: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrSubscriptionNotFound
	}
	return mapToSub(vals)
}

// UpdateSubscription persists changes to an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	key := subKey(sub.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: update subscription exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrSubscriptionNotFound
	}

	fields := subToMap(sub)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("courier/redis: update subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription and its org index entry.
// The delivery log is kept for auditing.
func (s *Store) DeleteSubscription(ctx context.Context, hookID id.HookID) error {
	sID := hookID.String()
	key := subKey(sID)

	orgID, err := s.client.HGet(ctx, key, "org_id").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: delete subscription get org: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, orgSubsKey(orgID), sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete subscription: %w", err)
	}
	return nil
}

// ListSubscriptionsByOrg returns an organization's subscriptions.
func (s *Store) ListSubscriptionsByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*webhook.Subscription, error) {
	ids, err := s.client.SMembers(ctx, orgSubsKey(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list subscriptions smembers: %w", err)
	}

	subs := make([]*webhook.Subscription, 0, len(ids))
	for _, sID := range ids {
		vals, getErr := s.client.HGetAll(ctx, subKey(sID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		sub, mapErr := mapToSub(vals)
		if mapErr != nil {
			continue
		}
		if activeOnly && !sub.IsActive {
			continue
		}
		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, k int) bool {
		return subs[i].CreatedAt.Before(subs[k].CreatedAt)
	})
	return subs, nil
}

// ──────────────────────────────────────────────────
// Delivery Log
// ──────────────────────────────────────────────────

// AppendDelivery records one delivery attempt. Entries are pushed to the
// head of the per-subscription and global lists, so both read
// newest-first; LTrim bounds their growth.
func (s *Store) AppendDelivery(ctx context.Context, entry *webhook.DeliveryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("courier/redis: marshal delivery entry: %w", err)
	}

	hookList := hookDeliveriesKey(entry.WebhookID.String())

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, hookList, raw)
	pipe.LTrim(ctx, hookList, 0, deliveryLogMax-1)
	pipe.LPush(ctx, deliveriesKey, raw)
	pipe.LTrim(ctx, deliveriesKey, 0, deliveryLogMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: append delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns delivery log entries newest-first.
func (s *Store) ListDeliveries(ctx context.Context, q webhook.LogQuery) ([]*webhook.DeliveryEntry, error) {
	listKey := deliveriesKey
	if !q.WebhookID.IsNil() {
		listKey = hookDeliveriesKey(q.WebhookID.String())
	}

	raws, err := s.client.LRange(ctx, listKey, 0, deliveryLogMax-1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list deliveries: %w", err)
	}

	var entries []*webhook.DeliveryEntry
	for _, raw := range raws {
		var entry webhook.DeliveryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue // skip corrupt entries
		}
		if !q.Since.IsZero() && entry.CreatedAt.Before(q.Since) {
			// The list is newest-first; everything past this point is older.
			break
		}
		entries = append(entries, &entry)
		if q.Limit > 0 && len(entries) >= q.Limit {
			break
		}
	}
	return entries, nil
}

// ── helpers ──

func subToMap(sub *webhook.Subscription) map[string]interface{} {
	m := map[string]interface{}{
		"id":            sub.ID.String(),
		"org_id":        sub.OrgID,
		"url":           sub.URL,
		"secret":        sub.Secret,
		"events":        marshalJSON(sub.Events),
		"is_active":     strconv.FormatBool(sub.IsActive),
		"success_count": strconv.FormatInt(sub.SuccessCount, 10),
		"failure_count": strconv.FormatInt(sub.FailureCount, 10),
		"created_at":    sub.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    sub.UpdatedAt.Format(time.RFC3339Nano),
	}
	if sub.LastTriggeredAt != nil {
		m["last_triggered_at"] = sub.LastTriggeredAt.Format(time.RFC3339Nano)
	} else {
		m["last_triggered_at"] = ""
	}
	return m
}

func mapToSub(m map[string]string) (*webhook.Subscription, error) {
	hookID, err := id.ParseHookID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse subscription id: %w", err)
	}

	isActive, _ := strconv.ParseBool(m["is_active"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	successCount, _ := strconv.ParseInt(m["success_count"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	failureCount, _ := strconv.ParseInt(m["failure_count"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])    //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])    //nolint:errcheck // best-effort parse from trusted Redis data

	sub := &webhook.Subscription{
		Entity: courier.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           hookID,
		OrgID:        m["org_id"],
		URL:          m["url"],
		Secret:       m["secret"],
		Events:       unmarshalStrings(m["events"]),
		IsActive:     isActive,
		SuccessCount: successCount,
		FailureCount: failureCount,
	}
	if v := m["last_triggered_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		sub.LastTriggeredAt = &t
	}
	return sub, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
