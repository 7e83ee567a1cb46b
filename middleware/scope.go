package middleware

import (
	"context"

	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/scope"
)

// Scope returns middleware that restores the org scope from the job's
// OrgID field into the context. This ensures handlers see the same
// tenant scope as the original submit caller.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.Restore(ctx, j.OrgID)
		return next(ctx)
	}
}
