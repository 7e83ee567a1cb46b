package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmeet/courier/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("queue", j.Type.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("correlation_id", j.CorrelationID),
			slog.Int("attempt", j.AttemptsMade+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("queue", j.Type.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("correlation_id", j.CorrelationID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("queue", j.Type.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("correlation_id", j.CorrelationID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
