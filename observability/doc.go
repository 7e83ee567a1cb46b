// Package observability provides an OpenTelemetry-based metrics extension.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, failure, retry, stall, dead-letter
// escalation, and webhook delivery events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
