package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/openmeet/courier/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobStalled        = (*MetricsExtension)(nil)
	_ ext.JobEscalated      = (*MetricsExtension)(nil)
	_ ext.DeliverySucceeded = (*MetricsExtension)(nil)
	_ ext.DeliveryFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics through OTel
// counters. Register it as an extension to track enqueue rates, completion
// and failure counts, retries, stalls, dead-letter escalations, and webhook
// delivery outcomes per queue.
type MetricsExtension struct {
	jobEnqueued       metric.Int64Counter
	jobCompleted      metric.Int64Counter
	jobFailed         metric.Int64Counter
	jobRetried        metric.Int64Counter
	jobStalled        metric.Int64Counter
	jobEscalated      metric.Int64Counter
	deliverySucceeded metric.Int64Counter
	deliveryFailed    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}

	return &MetricsExtension{
		jobEnqueued:       counter("courier.job.enqueued", "Jobs submitted to a queue"),
		jobCompleted:      counter("courier.job.completed", "Jobs completed successfully"),
		jobFailed:         counter("courier.job.failed", "Jobs that reached the failed state"),
		jobRetried:        counter("courier.job.retried", "Retry attempts scheduled"),
		jobStalled:        counter("courier.job.stalled", "Jobs parked after repeated stalls"),
		jobEscalated:      counter("courier.job.escalated", "Failed jobs escalated to cleanup"),
		deliverySucceeded: counter("courier.delivery.succeeded", "Webhook deliveries acknowledged by the endpoint"),
		deliveryFailed:    counter("courier.delivery.failed", "Webhook delivery attempts that failed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Type.String()))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.jobStalled.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobEscalated implements ext.JobEscalated.
func (m *MetricsExtension) OnJobEscalated(ctx context.Context, j *job.Job, _ id.JobID) error {
	m.jobEscalated.Add(ctx, 1, queueAttr(j))
	return nil
}

// ── Delivery lifecycle hooks ────────────────────────

// OnDeliverySucceeded implements ext.DeliverySucceeded.
func (m *MetricsExtension) OnDeliverySucceeded(ctx context.Context, webhookID id.HookID, event string, _ int, _ time.Duration) error {
	m.deliverySucceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook_id", webhookID.String()),
		attribute.String("event", event),
	))
	return nil
}

// OnDeliveryFailed implements ext.DeliveryFailed.
func (m *MetricsExtension) OnDeliveryFailed(ctx context.Context, webhookID id.HookID, event string, _ int, _ error) error {
	m.deliveryFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook_id", webhookID.String()),
		attribute.String("event", event),
	))
	return nil
}
