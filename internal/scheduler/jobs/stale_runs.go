package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/altquant/pkg/logger"
)

// RunSweeper fails runs left RUNNING before the cutoff
type RunSweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
}

// StaleRunSweepJob marks abandoned optimization runs as failed
type StaleRunSweepJob struct {
	sweeper RunSweeper
	after   time.Duration
	logger  *logger.Logger
	now     func() time.Time
}

// NewStaleRunSweepJob creates a new stale run sweep job
func NewStaleRunSweepJob(sweeper RunSweeper, after time.Duration, log *logger.Logger) *StaleRunSweepJob {
	return &StaleRunSweepJob{
		sweeper: sweeper,
		after:   after,
		logger:  log,
		now:     time.Now,
	}
}

// Name returns the job name
func (j *StaleRunSweepJob) Name() string {
	return "stale_run_sweep"
}

// Schedule returns the cron schedule (every 15 minutes)
func (j *StaleRunSweepJob) Schedule() string {
	return "0 */15 * * * *"
}

// Run executes the sweep
func (j *StaleRunSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.after)
	n, err := j.sweeper.SweepStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep stale runs: %w", err)
	}
	if n > 0 {
		j.logger.WithFields(map[string]interface{}{
			"swept":  n,
			"cutoff": cutoff,
		}).Info("Stale runs marked failed")
	}
	return nil
}
