// Package ext defines the extension system for courier.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, writing audit logs, alerting on stalled jobs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. This is the engine's subscription model
// for lifecycle events: register an extension instead of attaching
// framework-specific event emitter callbacks.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was accepted into a queue
//   - [JobStarted] — worker began executing the job
//   - [JobCompleted] — job finished successfully
//   - [JobFailed] — job failed with no retries remaining
//   - [JobRetrying] — job failed but will be retried after backoff
//   - [JobStalled] — job stalled repeatedly and needs operator attention
//   - [JobProgress] — handler reported a progress update
//   - [JobEscalated] — a terminally failed job was migrated to a cleanup job
//
// # Delivery Hooks
//
//   - [DeliverySucceeded] — a webhook delivery attempt got a 2xx response
//   - [DeliveryFailed] — a webhook delivery attempt failed
//
// # Other Hooks
//
//   - [Shutdown] — the coordinator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
