package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/altquant/internal/altdata"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/logger"
)

// QualityRefresher re-scores one indicator
type QualityRefresher interface {
	RefreshQuality(ctx context.Context, id string, r contracts.DateRange) (*altdata.QualityReport, error)
}

// QualityRefreshJob re-scores the watchlist and reports stale indicators
type QualityRefreshJob struct {
	refresher QualityRefresher
	watchlist []string
	lookback  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewQualityRefreshJob creates a new quality refresh job
func NewQualityRefreshJob(refresher QualityRefresher, watchlist []string, lookback time.Duration, log *logger.Logger) *QualityRefreshJob {
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	return &QualityRefreshJob{
		refresher: refresher,
		watchlist: watchlist,
		lookback:  lookback,
		logger:    log,
		now:       time.Now,
	}
}

// Name returns the job name
func (j *QualityRefreshJob) Name() string {
	return "quality_refresh"
}

// Schedule returns the cron schedule (daily at 07:30)
func (j *QualityRefreshJob) Schedule() string {
	return "0 30 7 * * *"
}

// Run re-scores every indicator. It fails only when no indicator could be scored.
func (j *QualityRefreshJob) Run(ctx context.Context) error {
	if len(j.watchlist) == 0 {
		j.logger.Debug("Quality refresh skipped: empty watchlist")
		return nil
	}

	end := contracts.Day(j.now())
	r, err := contracts.NewDateRange(end.Add(-j.lookback), end)
	if err != nil {
		return err
	}

	var failed, stale int
	var lastErr error
	for _, id := range j.watchlist {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := j.refresher.RefreshQuality(ctx, id, r)
		if err != nil {
			failed++
			lastErr = err
			j.logger.WithError(err).WithField("indicator", id).Warn("Quality refresh failed")
			continue
		}
		if report.Warning != nil {
			stale++
			j.logger.WithFields(map[string]interface{}{
				"indicator":      id,
				"overall":        report.Current.Overall,
				"recommendation": report.Warning.Recommendation,
			}).Warn("Stale alternative data")
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"indicators": len(j.watchlist),
		"stale":      stale,
		"failed":     failed,
	}).Info("Quality refresh completed")

	if failed == len(j.watchlist) {
		return fmt.Errorf("quality refresh failed for all %d indicators: %w", failed, lastErr)
	}
	return nil
}
