package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/altdata"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/logger"
)

type fakeRefresher struct {
	reports map[string]*altdata.QualityReport
	ranges  []contracts.DateRange
	ids     []string
}

func (f *fakeRefresher) RefreshQuality(ctx context.Context, id string, r contracts.DateRange) (*altdata.QualityReport, error) {
	f.ids = append(f.ids, id)
	f.ranges = append(f.ranges, r)
	report, ok := f.reports[id]
	if !ok {
		return nil, errors.New("feed down")
	}
	return report, nil
}

func fixedNow() time.Time { return time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC) }

func TestQualityRefreshJob(t *testing.T) {
	fresh := &altdata.QualityReport{IndicatorID: "card"}
	stale := &altdata.QualityReport{
		IndicatorID: "web",
		Warning:     &contracts.StaleDataWarning{IndicatorID: "web", Recommendation: "use previous"},
	}

	tests := []struct {
		name      string
		watchlist []string
		wantErr   bool
	}{
		{"all fresh", []string{"card"}, false},
		{"stale is not an error", []string{"card", "web"}, false},
		{"partial failure", []string{"card", "missing"}, false},
		{"all failed", []string{"missing", "gone"}, true},
		{"empty watchlist", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &fakeRefresher{reports: map[string]*altdata.QualityReport{"card": fresh, "web": stale}}
			job := NewQualityRefreshJob(ref, tt.watchlist, 30*24*time.Hour, logger.Nop())
			job.now = fixedNow

			err := job.Run(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, len(tt.watchlist), len(ref.ids))
			for _, r := range ref.ranges {
				assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), r.End)
				assert.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), r.Start)
			}
		})
	}
}

func TestQualityRefreshJob_Cancelled(t *testing.T) {
	ref := &fakeRefresher{}
	job := NewQualityRefreshJob(ref, []string{"card"}, 0, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Empty(t, ref.ids)
	assert.Equal(t, "quality_refresh", job.Name())
}

type fakeSweeper struct {
	cutoff time.Time
	n      int
	err    error
}

func (f *fakeSweeper) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestStaleRunSweepJob(t *testing.T) {
	sw := &fakeSweeper{n: 2}
	job := NewStaleRunSweepJob(sw, 6*time.Hour, logger.Nop())
	job.now = fixedNow

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, fixedNow().Add(-6*time.Hour), sw.cutoff)
	assert.Equal(t, "stale_run_sweep", job.Name())

	sw.err = errors.New("db down")
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
}
