package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSyncTimeout bounds one background task.
const DefaultSyncTimeout = 2 * time.Minute

// Runner executes work after the delivery has been acknowledged. Tasks run
// on a context detached from the request and are never cancelled early.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Go starts fn in the background and returns its run id.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) string {
	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Error("background task failed", "task", name, "run_id", runID, "err", err)
			return
		}
		r.logger.Debug("background task finished", "task", name, "run_id", runID, "took", time.Since(start))
	}()
	return runID
}

// Wait blocks until every started task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
