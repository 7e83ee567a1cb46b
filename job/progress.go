package job

import "context"

// Reporter lets a running handler publish progress and a result for its
// job. The queue runtime injects one into the handler context; both
// methods are best-effort and safe to call from the handler goroutine.
type Reporter interface {
	// Progress records a 0-100 completion percentage.
	Progress(ctx context.Context, pct int)
	// Result records the job's result bytes, surfaced via GetStatus.
	Result(ctx context.Context, result []byte)
}

type reporterKey struct{}

// WithReporter attaches a progress reporter to the context.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// ReporterFrom extracts the progress reporter from the context.
// Returns false when the handler is running outside the queue runtime.
func ReporterFrom(ctx context.Context) (Reporter, bool) {
	r, ok := ctx.Value(reporterKey{}).(Reporter)
	return r, ok
}
