package tasks

import (
	"context"
	"fmt"
	"time"
)

// newVectorizationTask creates the scheduled task that runs the daily
// vectorization job. The job ledger makes re-runs for the same day no-ops,
// so an aggressive schedule is safe.
func newVectorizationTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "vectorization")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled vectorization task...")
		startTime := time.Now()

		runCtx, cancel := context.WithTimeout(ctx, deps.Config.Vectorizer.MaxRunDuration+time.Minute)
		defer cancel()

		err := deps.Vectorizer.RunDaily(runCtx, startTime)

		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Vectorization task failed", "error", err, "duration", duration)
			return fmt.Errorf("vectorization failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled vectorization task completed successfully", "duration", duration)
		return nil
	}
}
