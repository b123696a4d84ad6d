package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/contracts"
)

func newRun(symbol string, created time.Time) *contracts.OptimizationRun {
	return &contracts.OptimizationRun{
		ID:                uuid.NewString(),
		Strategy:          "cumret_price",
		Symbol:            symbol,
		Range:             contracts.DateRange{Start: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC)},
		Metric:            contracts.MetricSharpe,
		TotalCombinations: 3,
		Status:            contracts.RunStatusRunning,
		Spec: contracts.RunSpec{
			Grid: contracts.ParameterGrid{"window": {Min: 10, Max: 30, Step: 10}},
		},
		CreatedAt: created.UTC().Truncate(time.Microsecond),
	}
}

func storedResult(index int, sharpe float64) contracts.BacktestResult {
	return contracts.BacktestResult{
		Strategy: "cumret_price",
		Params:   contracts.NewParameterCombination(index, map[string]float64{"window": float64(10 * (index + 1))}),
		Metrics:  contracts.BacktestMetrics{SharpeRatio: sharpe, TradeCount: 4},
	}
}

// exerciseStore runs the lifecycle shared by every store implementation
func exerciseStore(t *testing.T, store contracts.OptimizationStore) {
	ctx := context.Background()
	run := newRun("A"+uuid.NewString()[:8], time.Now())
	require.NoError(t, store.CreateRun(ctx, run))

	require.NoError(t, store.AppendResults(ctx, run.ID, []contracts.BacktestResult{
		storedResult(0, 0.5),
		storedResult(2, 1.5),
	}))
	failed := contracts.FailedResult("cumret_price", contracts.NewParameterCombination(1, map[string]float64{"window": 20}), run.Range, assert.AnError)
	require.NoError(t, store.AppendResults(ctx, run.ID, []contracts.BacktestResult{failed, storedResult(0, 9)}))

	ranked, err := store.GetResults(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3, "duplicate combination index is ignored")
	assert.Equal(t, 2, ranked[0].Result.Params.Index)
	assert.Equal(t, 0, ranked[1].Result.Params.Index)
	assert.InDelta(t, 0.5, ranked[1].Result.Metrics.SharpeRatio, 1e-12)
	assert.True(t, ranked[2].Result.Failed())

	top, err := store.GetResults(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	run.Omit([]contracts.IndicatorFailure{{IndicatorID: "cpi", Stage: "fetch", Reason: "timeout"}})
	require.NoError(t, run.Complete(false, "indicators omitted: cpi(fetch)", time.Now()))
	require.NoError(t, store.FinishRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusCompleted, got.Status)
	assert.True(t, got.Partial)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, run.Spec.Grid, got.Spec.Grid)
	require.Len(t, got.Omissions, 1)
	assert.Equal(t, contracts.IndicatorFailure{IndicatorID: "cpi", Stage: "fetch", Reason: "timeout"}, got.Omissions[0])

	err = store.AppendResults(ctx, run.ID, []contracts.BacktestResult{storedResult(5, 1)})
	assert.ErrorIs(t, err, contracts.ErrRunClosed)
	assert.ErrorIs(t, store.FinishRun(ctx, run), contracts.ErrRunClosed)

	_, err = store.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, contracts.ErrRunNotFound)

	runs, err := store.FindRuns(ctx, contracts.RunQuery{Symbol: run.Symbol, Status: contracts.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_FindRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newRun("005930", base)
	newer := newRun("005930", base.Add(time.Hour))
	other := newRun("000660", base.Add(2*time.Hour))
	for _, r := range []*contracts.OptimizationRun{older, newer, other} {
		require.NoError(t, store.CreateRun(ctx, r))
	}
	require.Error(t, store.CreateRun(ctx, older))

	tests := []struct {
		name  string
		query contracts.RunQuery
		want  []string
	}{
		{"all newest first", contracts.RunQuery{}, []string{other.ID, newer.ID, older.ID}},
		{"by symbol", contracts.RunQuery{Symbol: "005930"}, []string{newer.ID, older.ID}},
		{"limit", contracts.RunQuery{Limit: 1}, []string{other.ID}},
		{"before", contracts.RunQuery{Before: base.Add(30 * time.Minute)}, []string{older.ID}},
		{"status", contracts.RunQuery{Status: contracts.RunStatusFailed}, nil},
		{"range outside", contracts.RunQuery{Range: &contracts.DateRange{Start: older.Range.Start.AddDate(0, 1, 0), End: older.Range.End}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.FindRuns(ctx, tt.query)
			require.NoError(t, err)
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStore_FinishRequiresTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run := newRun("X", time.Now())
	require.NoError(t, store.CreateRun(ctx, run))

	assert.Error(t, store.FinishRun(ctx, run))
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusRunning, got.Status)

	// returned runs are copies
	got.Status = contracts.RunStatusFailed
	again, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunStatusRunning, again.Status)
}
