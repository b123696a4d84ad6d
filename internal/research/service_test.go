package research

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/optimizer"
	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/logger"
)

type fakeData struct {
	ds    *contracts.AlignedDataset
	err   error
	calls int32
}

func (f *fakeData) GetAlignedData(_ context.Context, _ string, _ []string, _ contracts.DateRange) (*contracts.AlignedDataset, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.ds, f.err
}

// countingStore records AppendResults batch sizes and can fail appends
type countingStore struct {
	*optimizer.MemoryStore
	mu        sync.Mutex
	batches   []int
	appendErr error
}

func (s *countingStore) AppendResults(ctx context.Context, runID string, results []contracts.BacktestResult) error {
	s.mu.Lock()
	s.batches = append(s.batches, len(results))
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.AppendResults(ctx, runID, results)
}

func tradingDays(n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC); len(out) < n; d = d.AddDate(0, 0, 1) {
		if contracts.IsWeekday(d) {
			out = append(out, d)
		}
	}
	return out
}

func priceDataset(t *testing.T, n int) *contracts.AlignedDataset {
	t.Helper()
	index := tradingDays(n)
	points := make([]contracts.Observation, n)
	for i := range points {
		v := 100 + 10*math.Sin(float64(i)/4) + 2*math.Cos(float64(i)/1.7)
		points[i] = contracts.Observation{Time: index[i], Value: v, Released: index[i]}
	}
	price := &contracts.IndicatorSeries{ID: contracts.PriceSeriesName, Frequency: contracts.FrequencyDaily, Points: points}
	ds, err := contracts.NewAlignedDataset("005930", index, map[string]*contracts.IndicatorSeries{contracts.PriceSeriesName: price}, nil)
	require.NoError(t, err)
	return ds
}

func fullRange(ds *contracts.AlignedDataset) contracts.DateRange {
	return contracts.DateRange{Start: ds.Index[0], End: ds.Index[ds.Len()-1]}
}

func newService(t *testing.T, data DataSource, store contracts.OptimizationStore, presets *strategyconfig.Catalog, batch int) *Service {
	t.Helper()
	cfg := Config{
		Optimizer:       optimizer.Config{DefaultWorkers: 2, MaxCombinations: 100000},
		ResultBatchSize: batch,
	}
	svc := NewService(cfg, data, store, presets, nil, logger.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func smallRequest(ds *contracts.AlignedDataset) StartRequest {
	return StartRequest{
		Strategy: "cumret_price",
		Symbol:   "005930",
		Grid: contracts.ParameterGrid{
			"window":    {Min: 5, Max: 25, Step: 5},
			"threshold": {Min: 0.02, Max: 0.04, Step: 0.01},
		},
		Range: fullRange(ds),
	}
}

func largeRequest(ds *contracts.AlignedDataset) StartRequest {
	req := smallRequest(ds)
	req.Workers = 1
	req.Grid = contracts.ParameterGrid{
		"window":    {Min: 2, Max: 60, Step: 1},
		"threshold": {Min: 0.001, Max: 0.2, Step: 0.001},
	}
	return req
}

// wideGrid has n parameters of 10 values each
func wideGrid(n int) contracts.ParameterGrid {
	g := make(contracts.ParameterGrid, n)
	for i := 0; i < n; i++ {
		g[fmt.Sprintf("p%02d", i)] = contracts.ParameterRange{Min: 1, Max: 10, Step: 1}
	}
	return g
}

func wait(t *testing.T, svc *Service, id string) *contracts.OptimizationRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestStartOptimization_Completes(t *testing.T) {
	ds := priceDataset(t, 200)
	store := &countingStore{MemoryStore: optimizer.NewMemoryStore()}
	data := &fakeData{ds: ds}
	svc := newService(t, data, store, nil, 4)

	id, err := svc.StartOptimization(context.Background(), smallRequest(ds))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusCompleted, run.Status)
	assert.False(t, run.Partial)
	assert.Equal(t, 15, run.TotalCombinations)
	assert.Equal(t, contracts.MetricSharpe, run.Metric)
	assert.NotNil(t, run.FinishedAt)
	assert.False(t, svc.Live(id))
	assert.Equal(t, int32(1), atomic.LoadInt32(&data.calls))

	ranked, err := svc.GetResults(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 15)
	for i := 1; i < len(ranked); i++ {
		prev, cur := ranked[i-1].Result, ranked[i].Result
		assert.GreaterOrEqual(t, prev.Score(run.Metric), cur.Score(run.Metric))
	}

	// 15 results in batches of at most 4
	store.mu.Lock()
	defer store.mu.Unlock()
	total := 0
	for _, n := range store.batches {
		assert.LessOrEqual(t, n, 4)
		total += n
	}
	assert.Equal(t, 15, total)
}

func TestStartOptimization_RejectsBeforeStoring(t *testing.T) {
	ds := priceDataset(t, 60)
	store := optimizer.NewMemoryStore()
	svc := newService(t, &fakeData{ds: ds}, store, nil, 10)

	tests := []struct {
		name   string
		mutate func(*StartRequest)
		target error
	}{
		{"unknown strategy", func(r *StartRequest) { r.Strategy = "momentum" }, contracts.ErrUnknownStrategy},
		{"unknown metric", func(r *StartRequest) { r.Metric = "alpha" }, contracts.ErrUnknownMetric},
		{"empty grid", func(r *StartRequest) { r.Grid = nil }, contracts.ErrInvalidGrid},
		{"unknown preset", func(r *StartRequest) { r.Preset = "nope" }, contracts.ErrPresetNotFound},
		{"vanishing step", func(r *StartRequest) {
			r.Grid = contracts.ParameterGrid{"threshold": {Min: 0, Max: 1, Step: 1e-300}}
		}, contracts.ErrInvalidGrid},
		{"too many combinations", func(r *StartRequest) { r.Grid = wideGrid(20) }, contracts.ErrInvalidGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := smallRequest(ds)
			tt.mutate(&req)
			_, err := svc.StartOptimization(context.Background(), req)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	req := smallRequest(ds)
	req.Symbol = ""
	_, err := svc.StartOptimization(context.Background(), req)
	assert.Error(t, err)

	req = smallRequest(ds)
	req.Strategy = "cumret_alt"
	_, err = svc.StartOptimization(context.Background(), req)
	assert.Error(t, err, "cumret_alt without an indicator")

	runs, err := store.FindRuns(context.Background(), contracts.RunQuery{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStartOptimization_DataErrorFailsRun(t *testing.T) {
	ds := priceDataset(t, 60)
	store := optimizer.NewMemoryStore()
	svc := newService(t, &fakeData{err: contracts.ErrInsufficientData}, store, nil, 10)

	id, err := svc.StartOptimization(context.Background(), smallRequest(ds))
	require.NoError(t, err)

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusFailed, run.Status)
	assert.Contains(t, run.Reason, contracts.ErrInsufficientData.Error())
	assert.NotNil(t, run.FinishedAt)

	results, err := svc.GetResults(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStartOptimization_PartialData(t *testing.T) {
	tests := []struct {
		name       string
		strategy   string
		indicators []string
		failed     []string
		status     contracts.RunStatus
	}{
		{"multi keeps surviving indicator", "multi_indicator", []string{"card_spend", "cpi"}, []string{"card_spend"}, contracts.RunStatusCompleted},
		{"price strategy ignores failures", "cumret_price", []string{"cpi"}, []string{"cpi"}, contracts.RunStatusCompleted},
		{"alt strategy without its indicator", "cumret_alt", []string{"cpi"}, []string{"cpi"}, contracts.RunStatusFailed},
		{"multi without any indicator", "multi_indicator", []string{"card_spend", "cpi"}, []string{"card_spend", "cpi"}, contracts.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := priceDataset(t, 120)
			partial := &contracts.PartialDataError{}
			for _, id := range tt.failed {
				partial.Failures = append(partial.Failures, contracts.IndicatorFailure{IndicatorID: id, Stage: "fetch", Reason: "timeout"})
			}
			svc := newService(t, &fakeData{ds: ds, err: partial}, optimizer.NewMemoryStore(), nil, 10)

			req := smallRequest(ds)
			req.Strategy = tt.strategy
			req.Indicators = tt.indicators
			id, err := svc.StartOptimization(context.Background(), req)
			require.NoError(t, err)

			run := wait(t, svc, id)
			assert.Equal(t, tt.status, run.Status, run.Reason)
			require.Len(t, run.Omissions, len(tt.failed))
			for i, id := range tt.failed {
				assert.Equal(t, id, run.Omissions[i].IndicatorID)
				assert.Equal(t, "fetch", run.Omissions[i].Stage)
			}
			if tt.status == contracts.RunStatusCompleted {
				assert.True(t, run.Partial)
				assert.Contains(t, run.Reason, "indicators omitted")
			} else {
				assert.Contains(t, run.Reason, ErrNoAlternativeData.Error())
			}
		})
	}
}

func TestStartOptimization_Preset(t *testing.T) {
	f, err := strategyconfig.Parse([]byte(`
version: "1"
presets:
  - name: quick
    strategy: cumret_price
    metric: total_return
    grid:
      - {name: window, min: 5, max: 15, step: 5}
    backtest:
      initial_capital: 5000000
`))
	require.NoError(t, err)
	catalog, err := strategyconfig.NewCatalog(f)
	require.NoError(t, err)
	_, hash, err := catalog.Get("quick")
	require.NoError(t, err)

	ds := priceDataset(t, 120)
	svc := newService(t, &fakeData{ds: ds}, optimizer.NewMemoryStore(), catalog, 10)

	id, err := svc.StartOptimization(context.Background(), StartRequest{Symbol: "005930", Preset: "quick", Range: fullRange(ds)})
	require.NoError(t, err)

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusCompleted, run.Status)
	assert.Equal(t, "cumret_price", run.Strategy)
	assert.Equal(t, contracts.MetricTotalReturn, run.Metric)
	assert.Equal(t, 3, run.TotalCombinations)
	assert.Equal(t, "quick", run.Preset)
	assert.Equal(t, hash, run.PresetHash)
}

func TestCancelRun_MarksFailed(t *testing.T) {
	ds := priceDataset(t, 400)
	svc := newService(t, &fakeData{ds: ds}, optimizer.NewMemoryStore(), nil, 50)

	id, err := svc.StartOptimization(context.Background(), largeRequest(ds))
	require.NoError(t, err)
	require.NoError(t, svc.CancelRun(context.Background(), id))

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusFailed, run.Status)
	assert.Equal(t, "cancelled", run.Reason)

	// a terminal run cannot be cancelled again
	assert.ErrorIs(t, svc.CancelRun(context.Background(), id), contracts.ErrRunClosed)
	assert.ErrorIs(t, svc.CancelRun(context.Background(), "missing"), contracts.ErrRunNotFound)
}

func TestStartOptimization_TimeoutCompletesPartial(t *testing.T) {
	ds := priceDataset(t, 400)
	svc := newService(t, &fakeData{ds: ds}, optimizer.NewMemoryStore(), nil, 50)

	req := largeRequest(ds)
	req.Timeout = 50 * time.Millisecond
	id, err := svc.StartOptimization(context.Background(), req)
	require.NoError(t, err)

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusCompleted, run.Status)
	assert.True(t, run.Partial)
	assert.Contains(t, run.Reason, "timed out")

	ranked, err := svc.GetResults(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Less(t, len(ranked), run.TotalCombinations)
}

func TestStartOptimization_StoreFailureFailsRun(t *testing.T) {
	ds := priceDataset(t, 120)
	store := &countingStore{MemoryStore: optimizer.NewMemoryStore(), appendErr: errors.New("disk full")}
	svc := newService(t, &fakeData{ds: ds}, store, nil, 2)

	id, err := svc.StartOptimization(context.Background(), smallRequest(ds))
	require.NoError(t, err)

	run := wait(t, svc, id)
	assert.Equal(t, contracts.RunStatusFailed, run.Status)
	assert.Contains(t, run.Reason, "disk full")
}

func TestGetSensitivity(t *testing.T) {
	ds := priceDataset(t, 200)
	svc := newService(t, &fakeData{ds: ds}, optimizer.NewMemoryStore(), nil, 10)

	id, err := svc.StartOptimization(context.Background(), smallRequest(ds))
	require.NoError(t, err)
	wait(t, svc, id)

	report, err := svc.GetSensitivity(context.Background(), id, "window")
	require.NoError(t, err)
	assert.Equal(t, id, report.RunID)
	assert.Equal(t, []float64{5, 10, 15, 20, 25}, report.Values)
	assert.Len(t, report.MetricValues, 5)

	ranked, err := svc.GetResults(context.Background(), id, 1)
	require.NoError(t, err)
	anchor := ranked[0].Result.Params
	assert.Equal(t, anchor.Float("threshold", 0), report.Anchor.Float("threshold", -1))

	_, err = svc.GetSensitivity(context.Background(), id, "alt_window")
	assert.ErrorIs(t, err, contracts.ErrInvalidGrid)
}

func TestGetSensitivity_RequiresCompletedRun(t *testing.T) {
	store := optimizer.NewMemoryStore()
	svc := newService(t, &fakeData{}, store, nil, 10)

	run := &contracts.OptimizationRun{ID: "r1", Strategy: "cumret_price", Status: contracts.RunStatusRunning, CreatedAt: time.Now()}
	require.NoError(t, store.CreateRun(context.Background(), run))

	_, err := svc.GetSensitivity(context.Background(), "r1", "window")
	assert.ErrorIs(t, err, ErrRunNotCompleted)
}

func TestSweepStale(t *testing.T) {
	store := optimizer.NewMemoryStore()
	svc := newService(t, &fakeData{}, store, nil, 10)
	ctx := context.Background()

	old := &contracts.OptimizationRun{ID: "old", Status: contracts.RunStatusRunning, CreatedAt: time.Now().Add(-10 * time.Hour)}
	fresh := &contracts.OptimizationRun{ID: "fresh", Status: contracts.RunStatusRunning, CreatedAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, old))
	require.NoError(t, store.CreateRun(ctx, fresh))

	swept, err := svc.SweepStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := svc.GetRun(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusFailed, got.Status)
	assert.Equal(t, "abandoned", got.Reason)

	got, err = svc.GetRun(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusRunning, got.Status)
}

func TestSplitValidate(t *testing.T) {
	ds := priceDataset(t, 240)
	svc := newService(t, &fakeData{ds: ds}, optimizer.NewMemoryStore(), nil, 10)

	report, err := svc.SplitValidate(context.Background(), smallRequest(ds))
	require.NoError(t, err)
	assert.True(t, report.InSample.End.Before(report.OutOfSample.Start))
	assert.Equal(t, report.Degradation > defaultMaxDegradation, report.Overfit)

	wf, err := svc.WalkForward(context.Background(), smallRequest(ds), 3)
	require.NoError(t, err)
	assert.Len(t, wf.Folds, 3)
}
