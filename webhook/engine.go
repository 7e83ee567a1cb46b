package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/primitive"
)

// TestEventName is the synthetic event sent by Test.
const TestEventName = "webhook.test"

// Submitter enqueues delivery jobs. queue.Manager satisfies this.
type Submitter interface {
	Submit(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error)
}

// DeliveryError wraps a failed delivery attempt. It is retryable: the
// queue reschedules the job with the webhook backoff schedule.
type DeliveryError struct {
	WebhookID  id.HookID
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s delivery: %v", e.WebhookID, e.Err)
	}
	return fmt.Sprintf("webhook %s delivery: endpoint returned %d", e.WebhookID, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TestResult is the outcome of a synchronous test send.
type TestResult struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Engine fans events out to subscriptions and delivers signed payloads.
type Engine struct {
	subs      SubscriptionStore
	log       LogStore
	submitter Submitter
	hooks     *ext.Registry
	logger    *slog.Logger

	client  *http.Client
	timeout time.Duration

	// Optional per-subscription delivery rate limit.
	counter      primitive.RateCounter
	maxPerMinute int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHTTPClient replaces the delivery HTTP client.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

// WithDeliveryTimeout bounds each outbound delivery call.
func WithDeliveryTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithHooks attaches an extension registry for delivery events.
func WithHooks(hooks *ext.Registry) EngineOption {
	return func(e *Engine) { e.hooks = hooks }
}

// WithRateCounter limits deliveries per subscription to maxPerMinute
// using a fixed-window counter. Over-limit attempts fail retryably so
// they land in the next window.
func WithRateCounter(rc primitive.RateCounter, maxPerMinute int64) EngineOption {
	return func(e *Engine) {
		e.counter = rc
		e.maxPerMinute = maxPerMinute
	}
}

// NewEngine creates a webhook delivery engine.
func NewEngine(subs SubscriptionStore, log LogStore, submitter Submitter, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		subs:      subs,
		log:       log,
		submitter: submitter,
		logger:    logger,
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Subscribe creates a subscription for the org with a fresh ID and
// signing secret. The secret is available on the returned value; it is
// shown to the caller once and verified thereafter.
func (e *Engine) Subscribe(ctx context.Context, orgID, url string, events []string) (*Subscription, error) {
	s := &Subscription{
		ID:       id.NewHookID(),
		OrgID:    orgID,
		URL:      url,
		Secret:   NewSecret(),
		Events:   events,
		IsActive: true,
	}
	s.Entity = courier.NewEntity()
	if err := e.subs.CreateSubscription(ctx, s); err != nil {
		return nil, err
	}
	e.logger.Info("webhook subscription created",
		slog.String("webhook_id", s.ID.String()),
		slog.String("org_id", orgID),
		slog.String("url", url),
	)
	return s, nil
}

// Publish fans the event out: one webhook-delivery job per matching
// active subscription. Zero matches is a no-op. A submit failure for
// one subscription does not block the others.
func (e *Engine) Publish(ctx context.Context, name string, data json.RawMessage, orgID string) error {
	subs, err := e.subs.ListSubscriptionsByOrg(ctx, orgID, true)
	if err != nil {
		return fmt.Errorf("list subscriptions for org %q: %w", orgID, err)
	}

	now := time.Now().UTC()
	var errs []error
	matched := 0
	for _, s := range subs {
		if !s.Matches(name) {
			continue
		}
		matched++

		payload, marshalErr := json.Marshal(deliveryTask{
			WebhookID:      s.ID.String(),
			Event:          name,
			Data:           data,
			OrganizationID: orgID,
			Timestamp:      now,
		})
		if marshalErr != nil {
			errs = append(errs, fmt.Errorf("marshal delivery for %s: %w", s.ID, marshalErr))
			continue
		}

		if _, submitErr := e.submitter.Submit(ctx, job.TypeWebhookDelivery, payload); submitErr != nil {
			errs = append(errs, fmt.Errorf("submit delivery for %s: %w", s.ID, submitErr))
		}
	}

	e.logger.Debug("event published",
		slog.String("event", name),
		slog.String("org_id", orgID),
		slog.Int("deliveries", matched),
	)
	return errors.Join(errs...)
}

// Handler returns the consumer for the webhook-delivery queue.
func (e *Engine) Handler() job.HandlerFunc {
	return func(ctx context.Context, j *job.Job) error {
		var task deliveryTask
		if err := json.Unmarshal(j.Payload, &task); err != nil {
			return job.Fatal(fmt.Errorf("unmarshal delivery task: %w", err))
		}
		return e.deliver(ctx, &task, j.AttemptsMade+1)
	}
}

// deliver performs one signed delivery attempt.
func (e *Engine) deliver(ctx context.Context, task *deliveryTask, attempt int) error {
	hookID, err := id.ParseHookID(task.WebhookID)
	if err != nil {
		return job.Fatal(fmt.Errorf("parse webhook id %q: %w", task.WebhookID, err))
	}

	// Refetch: the subscription may have been deactivated or deleted
	// between fan-out and delivery. Only a confirmed absence makes the
	// delivery moot; a store error must surface so the attempt is
	// retried rather than silently dropped.
	sub, err := e.subs.GetSubscription(ctx, hookID)
	if errors.Is(err, courier.ErrSubscriptionNotFound) {
		e.logger.Debug("skipping delivery for missing subscription",
			slog.String("webhook_id", task.WebhookID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refetch subscription %s: %w", task.WebhookID, err)
	}
	if !sub.IsActive {
		return nil
	}

	if e.counter != nil && e.maxPerMinute > 0 {
		count, rcErr := e.counter.IncrWindow(ctx, "webhook:deliveries:"+hookID.String(), time.Minute)
		if rcErr != nil {
			e.logger.Warn("delivery rate counter error",
				slog.String("webhook_id", hookID.String()),
				slog.String("error", rcErr.Error()),
			)
		} else if count > e.maxPerMinute {
			return &DeliveryError{
				WebhookID: hookID,
				Err:       fmt.Errorf("delivery rate limit exceeded (%d/min)", e.maxPerMinute),
			}
		}
	}

	timestamp := task.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(Envelope{
		ID:             uuid.NewString(),
		Event:          task.Event,
		Data:           task.Data,
		OrganizationID: task.OrganizationID,
		Timestamp:      timestamp,
		WebhookID:      sub.ID.String(),
	})
	if err != nil {
		return job.Fatal(fmt.Errorf("marshal envelope: %w", err))
	}

	statusCode, elapsed, sendErr := e.send(ctx, sub, task.Event, body)

	e.recordAttempt(ctx, sub, task.Event, body, statusCode, elapsed, attempt, sendErr)

	if sendErr != nil {
		if e.hooks != nil {
			e.hooks.EmitDeliveryFailed(ctx, sub.ID, task.Event, attempt, sendErr)
		}
		return sendErr
	}

	if e.hooks != nil {
		e.hooks.EmitDeliverySucceeded(ctx, sub.ID, task.Event, statusCode, elapsed)
	}
	return nil
}

// send POSTs the signed envelope. A non-2xx response or transport error
// comes back as a *DeliveryError.
func (e *Engine) send(ctx context.Context, sub *Subscription, event string, body []byte) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, &DeliveryError{WebhookID: sub.ID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, body))
	req.Header.Set("X-Webhook-Id", sub.ID.String())
	req.Header.Set("X-Webhook-Event", event)

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, &DeliveryError{WebhookID: sub.ID, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, elapsed, &DeliveryError{WebhookID: sub.ID, StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, elapsed, nil
}

// recordAttempt appends the audit log entry and updates the
// subscription's counters. Both are best-effort: an audit write failure
// must not fail a delivery that reached the endpoint.
func (e *Engine) recordAttempt(
	ctx context.Context,
	sub *Subscription,
	event string,
	payload []byte,
	statusCode int,
	elapsed time.Duration,
	attempt int,
	sendErr error,
) {
	entry := &DeliveryEntry{
		ID:             id.NewDeliveryID(),
		WebhookID:      sub.ID,
		OrgID:          sub.OrgID,
		Event:          event,
		Payload:        payload,
		StatusCode:     statusCode,
		ResponseTimeMs: elapsed.Milliseconds(),
		Success:        sendErr == nil,
		Attempt:        attempt,
	}
	entry.Entity = courier.NewEntity()
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := e.log.AppendDelivery(ctx, entry); err != nil {
		e.logger.Warn("failed to append delivery log entry",
			slog.String("webhook_id", sub.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now().UTC()
	sub.LastTriggeredAt = &now
	if sendErr == nil {
		sub.SuccessCount++
	} else {
		sub.FailureCount++
	}
	sub.Touch()
	if err := e.subs.UpdateSubscription(ctx, sub); err != nil {
		e.logger.Warn("failed to update subscription counters",
			slog.String("webhook_id", sub.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Test sends a synthetic webhook.test event synchronously, bypassing
// the queue. The attempt is logged like any other delivery.
func (e *Engine) Test(ctx context.Context, hookID id.HookID) (*TestResult, error) {
	sub, err := e.subs.GetSubscription(ctx, hookID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(Envelope{
		ID:             uuid.NewString(),
		Event:          TestEventName,
		Data:           json.RawMessage(`{"test":true}`),
		OrganizationID: sub.OrgID,
		Timestamp:      time.Now().UTC(),
		WebhookID:      sub.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal test envelope: %w", err)
	}

	statusCode, elapsed, sendErr := e.send(ctx, sub, TestEventName, body)
	e.recordAttempt(ctx, sub, TestEventName, body, statusCode, elapsed, 1, sendErr)

	result := &TestResult{
		Success:        sendErr == nil,
		StatusCode:     statusCode,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	if sendErr != nil {
		result.Error = sendErr.Error()
	}
	return result, nil
}

// Subscription returns one subscription by ID.
func (e *Engine) Subscription(ctx context.Context, hookID id.HookID) (*Subscription, error) {
	return e.subs.GetSubscription(ctx, hookID)
}

// Subscriptions returns an organization's subscriptions, optionally
// restricted to active ones.
func (e *Engine) Subscriptions(ctx context.Context, orgID string, activeOnly bool) ([]*Subscription, error) {
	return e.subs.ListSubscriptionsByOrg(ctx, orgID, activeOnly)
}

// Unsubscribe removes a subscription. The delivery log is kept.
func (e *Engine) Unsubscribe(ctx context.Context, hookID id.HookID) error {
	if err := e.subs.DeleteSubscription(ctx, hookID); err != nil {
		return err
	}
	e.logger.Info("webhook subscription removed", slog.String("webhook_id", hookID.String()))
	return nil
}

// Deliveries returns delivery log entries matching the query, newest
// first.
func (e *Engine) Deliveries(ctx context.Context, q LogQuery) ([]*DeliveryEntry, error) {
	return e.log.ListDeliveries(ctx, q)
}

// RotateSecret replaces the subscription's signing secret and returns
// the new value. In-flight deliveries signed with the old secret will
// fail verification at the receiver; rotate during a quiet window.
func (e *Engine) RotateSecret(ctx context.Context, hookID id.HookID) (string, error) {
	sub, err := e.subs.GetSubscription(ctx, hookID)
	if err != nil {
		return "", err
	}
	sub.Secret = NewSecret()
	sub.Touch()
	if err := e.subs.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}
	e.logger.Info("webhook secret rotated", slog.String("webhook_id", hookID.String()))
	return sub.Secret, nil
}

// Stats aggregates the delivery log for one subscription over the last
// windowDays days.
func (e *Engine) Stats(ctx context.Context, hookID id.HookID, windowDays int) (*DeliveryStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	entries, err := e.log.ListDeliveries(ctx, LogQuery{WebhookID: hookID, Since: since})
	if err != nil {
		return nil, err
	}

	stats := &DeliveryStats{}
	var totalMs int64
	for _, entry := range entries {
		stats.Total++
		if entry.Success {
			stats.Succeeded++
			totalMs += entry.ResponseTimeMs
		} else {
			stats.Failed++
		}
	}
	if stats.Succeeded > 0 {
		stats.AvgResponseTimeMs = float64(totalMs) / float64(stats.Succeeded)
	}
	return stats, nil
}
