package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/pkg/logger"
)

type fakeJob struct {
	name     string
	schedule string
	failFor  int32
	calls    atomic.Int32
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return j.schedule }
func (j *fakeJob) Run(ctx context.Context) error {
	n := j.calls.Add(1)
	if n <= j.failFor {
		return errors.New("boom")
	}
	return nil
}

func newTestScheduler(retries int) *Scheduler {
	return New(logger.Nop(), WithRetry(retries, time.Millisecond))
}

func TestAddJob(t *testing.T) {
	s := newTestScheduler(0)
	require.NoError(t, s.AddJob(&fakeJob{name: "b", schedule: "@every 1h"}))
	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "0 */5 * * * *"}))

	assert.Error(t, s.AddJob(&fakeJob{name: "a", schedule: "@every 1h"}), "duplicate name")
	assert.Error(t, s.AddJob(&fakeJob{name: "c", schedule: "not a cron"}))
	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())
}

func TestRemoveJob(t *testing.T) {
	s := newTestScheduler(0)
	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "@every 1h"}))

	require.NoError(t, s.RemoveJob("a"))
	assert.Empty(t, s.GetAllJobs())
	assert.Empty(t, s.cron.Entries())
	assert.Error(t, s.RemoveJob("a"))

	_, err := s.RunJobSync("a")
	assert.Error(t, err)
}

func TestRunJobSync_Retries(t *testing.T) {
	tests := []struct {
		name     string
		retries  int
		failFor  int32
		success  bool
		attempts int
	}{
		{"first try", 3, 0, true, 1},
		{"recovers", 3, 2, true, 3},
		{"exhausted", 2, 10, false, 3},
		{"no retries", 0, 1, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(tt.retries)
			job := &fakeJob{name: "j", schedule: "@every 1h", failFor: tt.failFor}
			require.NoError(t, s.AddJob(job))

			result, err := s.RunJobSync("j")
			require.NoError(t, err)
			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.attempts, result.Attempts)
			assert.Equal(t, int32(tt.attempts), job.calls.Load())
			if !tt.success {
				assert.Equal(t, "boom", result.Error)
			}
		})
	}
}

func TestGetJobStats(t *testing.T) {
	s := newTestScheduler(0)
	job := &fakeJob{name: "j", schedule: "@every 1h", failFor: 1}
	require.NoError(t, s.AddJob(job))

	_, err := s.RunJobSync("j") // fails
	require.NoError(t, err)
	_, err = s.RunJobSync("j") // succeeds
	require.NoError(t, err)

	st := s.GetJobStats()["j"]
	assert.Equal(t, 2, st.TotalRuns)
	assert.Equal(t, 1, st.SuccessCount)
	assert.Equal(t, 1, st.FailureCount)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.LastSuccess)
	require.NotNil(t, st.LastFailure)
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, *st.LastSuccess, *st.LastRun)
}

func TestJobHistory_Limit(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historyLimit+10; i++ {
		h.AddResult(JobResult{Attempts: i, Success: i%2 == 0})
	}
	assert.Len(t, h.Results, historyLimit)
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, historyLimit+9, latest.Attempts)
	assert.InDelta(t, 0.5, h.SuccessRate(), 1e-9)

	_, ok = (&JobHistory{}).Latest()
	assert.False(t, ok)
	assert.Zero(t, (&JobHistory{}).SuccessRate())
}

func TestStop_CancelsRunningJob(t *testing.T) {
	s := newTestScheduler(5)
	started := make(chan struct{})
	job := &blockingJob{started: started}
	require.NoError(t, s.AddJob(job))
	s.Start()

	require.NoError(t, s.RunJob("block"))
	<-started
	s.Stop()

	h := s.history["block"]
	require.Len(t, h.Results, 1)
	assert.False(t, h.Results[0].Success)
	assert.Equal(t, 1, h.Results[0].Attempts, "no retries after stop")
}

type blockingJob struct {
	started chan struct{}
}

func (j *blockingJob) Name() string     { return "block" }
func (j *blockingJob) Schedule() string { return "@every 1h" }
func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-ctx.Done()
	return ctx.Err()
}
