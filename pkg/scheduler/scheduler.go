package scheduler

import (
	"context"
	"time"

	"github.com/wozorio/regclean/pkg/log"
)

// Task is a unit of work the scheduler runs on every tick.
type Task interface {
	Name() string
	DoWork(ctx context.Context) error
}

// RunPeriodically runs the task once immediately and then on every
// interval tick until the context is canceled. Task errors are logged
// and do not stop the loop; the last error is returned when the loop
// exits so callers can surface an unclean final state.
func RunPeriodically(ctx context.Context, interval time.Duration, task Task, logger log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error

	for {
		logger.Info().Str("task", task.Name()).Msg("running scheduled task")

		if err := task.DoWork(ctx); err != nil {
			logger.Error().Err(err).Str("task", task.Name()).Msg("scheduled task failed")

			lastErr = err
		} else {
			lastErr = nil
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-ticker.C:
		}
	}
}
