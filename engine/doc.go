// Package engine wires all Courier subsystems together and provides
// the primary application-level API for registering consumers and
// submitting work.
//
// The engine package exists to break a fundamental import cycle: the root
// courier package defines Entity (imported by job, webhook, etc.) and
// therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	c, err := courier.New(
//	    courier.WithStore(memstore),
//	    courier.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithDispatchLimits(queue.LimitConfig{
//	        Queue:     job.TypeWebhookDelivery,
//	        RateLimit: 100,
//	    }),
//	)
//
// # Registering Consumers
//
//	engine.Register(eng, job.NewDefinition(job.TypeEmail,
//	    func(ctx context.Context, p EmailPayload) error {
//	        return mailer.Send(ctx, p)
//	    }))
//
// # Submitting Jobs
//
//	engine.Submit(ctx, eng, job.TypeEmail, EmailPayload{To: "user@example.com"})
//
//	// With options
//	engine.Submit(ctx, eng, job.TypeEmail, p, job.WithPriority(job.PriorityCritical))
//	engine.Submit(ctx, eng, job.TypeEmail, p, job.WithDelay(5*time.Minute))
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithDispatchLimits] — configure per-queue rate limits and concurrency
//   - [WithWebhookOptions] — forward options to the webhook delivery engine
//   - [WithCron] — register recurring schedules
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
