// Package scope provides helpers to capture and restore the organization
// scope of an operation from/to context.Context. Producers submit jobs
// and publish events under an org scope; workers restore it before
// invoking handlers so downstream calls stay tenant-aware.
package scope

import "context"

type orgKey struct{}

// WithOrg attaches an organization identifier to the context.
func WithOrg(ctx context.Context, orgID string) context.Context {
	if orgID == "" {
		return ctx
	}
	return context.WithValue(ctx, orgKey{}, orgID)
}

// Capture extracts the organization identifier from the context.
// Returns an empty string if no scope is present.
func Capture(ctx context.Context) string {
	v, _ := ctx.Value(orgKey{}).(string)
	return v
}

// Restore attaches an org scope to the context. If orgID is empty, the
// context is returned unchanged (no-op).
func Restore(ctx context.Context, orgID string) context.Context {
	return WithOrg(ctx, orgID)
}
