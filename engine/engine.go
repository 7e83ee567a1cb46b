// Package engine wires all Courier subsystems together. It creates the
// extension registry, consumer registry, middleware chain, per-queue
// worker pools, the webhook delivery engine, and the dead-letter
// escalator, and provides Register/Submit operations.
//
// This package exists to break the import cycle: the root courier
// package defines Entity (imported by job, webhook, etc.) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/cron"
	"github.com/openmeet/courier/dlq"
	"github.com/openmeet/courier/ext"
	"github.com/openmeet/courier/job"
	mw "github.com/openmeet/courier/middleware"
	"github.com/openmeet/courier/observability"
	"github.com/openmeet/courier/queue"
	"github.com/openmeet/courier/store"
	"github.com/openmeet/courier/webhook"
	"github.com/openmeet/courier/worker"
)

// Engine wraps a Courier with fully wired subsystems: the queue manager,
// one worker pool per queue type, the webhook delivery engine, and the
// dead-letter escalator. Use Build() to create one.
type Engine struct {
	c          *courier.Courier
	extensions *ext.Registry
	registry   *job.Registry
	store      store.Store
	manager    *queue.Manager
	webhooks   *webhook.Engine
	escalator  *dlq.Escalator
	cron       *cron.Scheduler
	pools      map[job.Type]*worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Queue dispatch limits.
	limitConfigs []queue.LimitConfig

	// Extra webhook engine options (rate counter, HTTP client, ...).
	webhookOpts []webhook.EngineOption

	// Cron entries registered at build time.
	cronEntries []cron.Entry

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's execution chain, after
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithDispatchLimits registers per-queue rate limiting and concurrency
// configurations. Queues not listed have no limits beyond pool size.
func WithDispatchLimits(configs ...queue.LimitConfig) Option {
	return func(eng *Engine) {
		eng.limitConfigs = append(eng.limitConfigs, configs...)
	}
}

// WithWebhookOptions forwards options to the webhook delivery engine,
// such as webhook.WithRateCounter or webhook.WithHTTPClient.
func WithWebhookOptions(opts ...webhook.EngineOption) Option {
	return func(eng *Engine) {
		eng.webhookOpts = append(eng.webhookOpts, opts...)
	}
}

// WithCron registers recurring schedules. The scheduler starts and
// stops with the engine; occurrences are deduplicated across replicas
// through the store's distributed lock.
func WithCron(entries ...cron.Entry) Option {
	return func(eng *Engine) {
		eng.cronEntries = append(eng.cronEntries, entries...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Courier. The Courier's store
// must implement the composite store.Store interface.
func Build(c *courier.Courier, opts ...Option) (*Engine, error) {
	logger := c.Logger()

	if c.Store() == nil {
		return nil, courier.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("courier: store does not implement store.Store")
	}

	eng := &Engine{
		c:          c,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		store:      st,
		pools:      make(map[job.Type]*worker.Pool, len(job.Types())),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := c.Config()

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/openmeet/courier/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Submission-side queue manager with dispatch limits.
	managerOpts := []queue.ManagerOption{queue.WithHooks(eng.extensions)}
	if len(eng.limitConfigs) > 0 {
		managerOpts = append(managerOpts, queue.WithLimits(eng.limitConfigs...))
	}
	eng.manager = queue.NewManager(st, config, logger, managerOpts...)

	// Webhook delivery engine, consuming the webhook-delivery queue.
	whOpts := []webhook.EngineOption{
		webhook.WithDeliveryTimeout(config.DeliveryTimeout),
		webhook.WithHooks(eng.extensions),
	}
	whOpts = append(whOpts, eng.webhookOpts...)
	eng.webhooks = webhook.NewEngine(st, st, eng.manager, logger, whOpts...)
	eng.registry.Register(job.TypeWebhookDelivery, eng.webhooks.Handler())

	// Dead-letter escalator. Escalation is explicit: call Escalate (or
	// EscalateAll) from an operational surface or a scheduled job.
	eng.escalator = dlq.NewEscalator(st, eng.manager, logger, dlq.WithHooks(eng.extensions))

	// Cron scheduler, started and stopped with the worker pools.
	eng.cron = cron.NewScheduler(st, eng.manager, logger)
	for _, entry := range eng.cronEntries {
		if err := eng.cron.Add(entry); err != nil {
			return nil, err
		}
	}
	c.AddPool(eng.cron)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/openmeet/courier")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/openmeet/courier")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	retention := worker.Retention{
		Completed: config.RetentionCompleted,
		Failed:    config.RetentionFailed,
	}
	executor := worker.NewExecutor(eng.registry, eng.extensions, st, retention, logger, allMws...)

	// One pool per queue type so a slow queue cannot starve the others.
	for _, q := range job.Types() {
		pool := worker.NewPool(st, executor, eng.extensions, q, logger,
			worker.WithPoolSize(config.PoolSize(q.String())),
			worker.WithPollInterval(config.PollInterval),
			worker.WithHeartbeatInterval(config.HeartbeatInterval),
			worker.WithStalledThreshold(config.StalledThreshold),
			worker.WithDispatchLimiter(eng.manager.Limits()),
		)
		eng.pools[q] = pool
		c.AddPool(pool)
	}

	c.SetHooks(eng.extensions)

	return eng, nil
}

// Register registers a typed consumer definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Submit marshals a typed payload and submits it to the queue.
func Submit[T any](ctx context.Context, eng *Engine, queue job.Type, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for queue %q: %w", queue, err)
	}
	return eng.manager.Submit(ctx, queue, data, opts...)
}

// SubmitRaw submits a job with a pre-serialized payload.
func (eng *Engine) SubmitRaw(ctx context.Context, queue job.Type, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.manager.Submit(ctx, queue, payload, opts...)
}

// Start begins job processing on all worker pools.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine within the configured shutdown
// timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if timeout := eng.c.Config().ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return eng.c.Stop(ctx)
}

// ScheduleMaintenance registers routine upkeep on the given schedule:
// dead-letter escalation across all queues and draining of completed
// jobs older than grace.
func (eng *Engine) ScheduleMaintenance(schedule string, grace time.Duration) error {
	if err := eng.cron.Add(cron.Entry{
		Name:     "maintenance-escalate",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := eng.escalator.EscalateAll(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	return eng.cron.Add(cron.Entry{
		Name:     "maintenance-drain",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, q := range job.Types() {
				if _, err := eng.manager.DrainExpired(ctx, q, grace); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})
}

// Queues returns the queue manager for submission and operational calls.
func (eng *Engine) Queues() *queue.Manager { return eng.manager }

// Webhooks returns the webhook delivery engine.
func (eng *Engine) Webhooks() *webhook.Engine { return eng.webhooks }

// Escalator returns the dead-letter escalator.
func (eng *Engine) Escalator() *dlq.Escalator { return eng.escalator }

// Cron returns the cron scheduler.
func (eng *Engine) Cron() *cron.Scheduler { return eng.cron }

// Store returns the composite store backing the engine.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the consumer registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Pool returns the worker pool serving the given queue, or nil for an
// unknown queue type.
func (eng *Engine) Pool(queue job.Type) *worker.Pool { return eng.pools[queue] }

// Courier returns the underlying coordinator.
func (eng *Engine) Courier() *courier.Courier { return eng.c }
