package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodIndex_RoundTrip(t *testing.T) {
	anchor := date(2024, 1, 3)
	tests := []struct {
		name string
		freq Frequency
		in   time.Time
		want time.Time
	}{
		{"daily weekday", FrequencyDaily, date(2024, 3, 13), date(2024, 3, 13)},
		{"daily saturday folds to friday", FrequencyDaily, date(2024, 3, 16), date(2024, 3, 15)},
		{"weekly step", FrequencyWeekly, date(2024, 1, 19), date(2024, 1, 17)},
		{"monthly end", FrequencyMonthly, date(2024, 2, 10), date(2024, 2, 29)},
		{"quarterly end", FrequencyQuarterly, date(2024, 11, 1), date(2024, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := PeriodIndex(tt.freq, anchor, tt.in)
			assert.Equal(t, tt.want, PeriodTime(tt.freq, anchor, idx))
		})
	}
}

func TestExpectedPeriods(t *testing.T) {
	assert.Equal(t, 48, ExpectedPeriods(FrequencyMonthly, date(2020, 1, 31), date(2023, 12, 31)))
	assert.Equal(t, 5, ExpectedPeriods(FrequencyDaily, date(2024, 3, 11), date(2024, 3, 17)))
	assert.Equal(t, 4, ExpectedPeriods(FrequencyQuarterly, date(2023, 1, 1), date(2023, 12, 1)))
	assert.Equal(t, 0, ExpectedPeriods(FrequencyDaily, date(2024, 3, 11), date(2024, 3, 1)))
}

func TestPeriodEnd(t *testing.T) {
	assert.Equal(t, date(2024, 1, 31), PeriodEnd(FrequencyMonthly, date(2024, 1, 1)))
	assert.Equal(t, date(2024, 6, 30), PeriodEnd(FrequencyQuarterly, date(2024, 4, 15)))
	assert.Equal(t, date(2024, 4, 15), PeriodEnd(FrequencyWeekly, date(2024, 4, 15)))
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		overall float64
		want    Grade
	}{
		{0.49, GradePoor},
		{0.5, GradeFair},
		{0.69, GradeFair},
		{0.7, GradeGood},
		{0.9, GradeExcellent},
		{1.0, GradeExcellent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tt.overall), "overall=%v", tt.overall)
	}
}

func TestNewIndicatorSeries_RejectsUnsorted(t *testing.T) {
	_, err := NewIndicatorSeries("CPI", FrequencyMonthly, "test", []Observation{
		{Time: date(2024, 2, 1), Value: 1},
		{Time: date(2024, 1, 1), Value: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidSeries)
}

func TestIndicatorSeries_DeriveDoesNotAlias(t *testing.T) {
	orig, err := NewIndicatorSeries("CPI", FrequencyMonthly, "test", []Observation{{Time: date(2024, 1, 31), Value: 1}})
	require.NoError(t, err)

	derived := orig.Derive(orig.Points)
	derived.Points[0].Value = 99
	assert.Equal(t, 1.0, orig.Points[0].Value)
}

func TestObservation_JSONMissing(t *testing.T) {
	data, err := json.Marshal(Observation{Time: date(2024, 1, 1), Value: math.NaN()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":null`)

	var back Observation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Missing())
}

func TestParameterRange_Values(t *testing.T) {
	assert.Equal(t, []float64{0.01, 0.02, 0.03}, ParameterRange{Min: 0.01, Max: 0.03, Step: 0.01}.Values())
	assert.Equal(t, []float64{5, 10, 15, 20}, ParameterRange{Min: 5, Max: 22, Step: 5}.Values())
	assert.Equal(t, []float64{3}, ParameterRange{Min: 3, Max: 3}.Values())
	assert.ErrorIs(t, ParameterRange{Min: 1, Max: 0, Step: 1}.Validate(), ErrInvalidGrid)
	assert.ErrorIs(t, ParameterRange{Min: 0, Max: 1, Step: 0}.Validate(), ErrInvalidGrid)
}

func TestParameterRange_Count(t *testing.T) {
	tests := []struct {
		name    string
		r       ParameterRange
		want    int
		wantErr bool
	}{
		{"steps", ParameterRange{Min: 5, Max: 22, Step: 5}, 4, false},
		{"fixed value", ParameterRange{Min: 3, Max: 3}, 1, false},
		{"float tolerance", ParameterRange{Min: 0.01, Max: 0.03, Step: 0.01}, 3, false},
		{"vanishing step", ParameterRange{Min: 0, Max: 1, Step: 1e-300}, 0, true},
		{"too many values", ParameterRange{Min: 0, Max: 1e10, Step: 1}, 0, true},
		{"infinite max", ParameterRange{Min: 0, Max: math.Inf(1), Step: 1}, 0, true},
		{"zero step", ParameterRange{Min: 0, Max: 1}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.r.Count()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGrid)
				assert.ErrorIs(t, tt.r.Validate(), ErrInvalidGrid)
				assert.Nil(t, tt.r.Values())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Len(t, tt.r.Values(), n)
		})
	}
}

func TestParameterGrid_SizeSaturates(t *testing.T) {
	g := make(ParameterGrid, 20)
	for i := 0; i < 20; i++ {
		g[fmt.Sprintf("p%02d", i)] = ParameterRange{Min: 1, Max: 10, Step: 1}
	}
	assert.NoError(t, g.Validate())
	assert.Equal(t, math.MaxInt, g.Size())

	bad := ParameterGrid{"threshold": {Min: 0, Max: 1, Step: 1e-300}}
	assert.Equal(t, 0, bad.Size())
}

func TestParameterGrid_SizeAndNames(t *testing.T) {
	g := ParameterGrid{
		"window":    {Min: 10, Max: 30, Step: 10},
		"threshold": {Min: 0.01, Max: 0.05, Step: 0.02},
	}
	assert.Equal(t, []string{"threshold", "window"}, g.Names())
	assert.Equal(t, 9, g.Size())
	assert.NoError(t, g.Validate())
	assert.ErrorIs(t, ParameterGrid{}.Validate(), ErrInvalidGrid)
}

func TestParameterCombination(t *testing.T) {
	c := NewParameterCombination(4, map[string]float64{"window": 20, "threshold": 0.05})
	assert.Equal(t, "threshold=0.05|window=20", c.Key())
	assert.Equal(t, 20, c.Int("window", 0))
	assert.Equal(t, 7.0, c.Float("missing", 7))

	moved := c.With(-1, "window", 30)
	assert.Equal(t, 20, c.Int("window", 0))
	assert.Equal(t, 30, moved.Int("window", 0))
	assert.Equal(t, -1, moved.Index)
}

func TestBacktestResult_Score(t *testing.T) {
	ok := BacktestResult{Metrics: BacktestMetrics{SharpeRatio: 1.2, MaxDrawdown: 0.2}}
	failed := BacktestResult{Error: "insufficient data"}

	assert.Equal(t, 1.2, ok.Score(MetricSharpe))
	assert.Equal(t, -0.2, ok.Score(MetricMaxDrawdown))
	assert.True(t, math.IsInf(failed.Score(MetricSharpe), -1))

	_, err := ParseMetric("alpha")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestOptimizationRun_Lifecycle(t *testing.T) {
	run := &OptimizationRun{ID: "r1", Status: RunStatusRunning}
	now := time.Now()

	require.NoError(t, run.Complete(true, "timeout", now))
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.True(t, run.Partial)

	assert.ErrorIs(t, run.Fail("late cancel", now), ErrRunClosed)
	assert.Equal(t, RunStatusCompleted, run.Status)
}

func TestOptimizationRun_OmissionsMakeRunPartial(t *testing.T) {
	run := &OptimizationRun{ID: "r2", Status: RunStatusRunning}
	run.Omit([]IndicatorFailure{{IndicatorID: "cpi", Stage: "fetch", Reason: "timeout"}})

	require.NoError(t, run.Complete(false, "indicators omitted: cpi(fetch)", time.Now()))
	assert.True(t, run.Partial)

	b, err := json.Marshal(run)
	require.NoError(t, err)
	var decoded OptimizationRun
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded.Omissions, 1)
	assert.Equal(t, "cpi", decoded.Omissions[0].IndicatorID)
}

func TestAlignedDataset(t *testing.T) {
	index := []time.Time{date(2024, 1, 2), date(2024, 1, 3), date(2024, 1, 4)}
	mk := func(id string, vals ...float64) *IndicatorSeries {
		pts := make([]Observation, len(vals))
		for i, v := range vals {
			pts[i] = Observation{Time: index[i], Value: v}
		}
		s, err := NewIndicatorSeries(id, FrequencyDaily, "test", pts)
		require.NoError(t, err)
		return s
	}

	ds, err := NewAlignedDataset("005930", index, map[string]*IndicatorSeries{
		PriceSeriesName: mk(PriceSeriesName, 10, 11, 12),
		"CPI":           mk("CPI", 1, 1, 2),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"CPI", PriceSeriesName}, ds.Names())
	assert.Equal(t, []float64{10, 11, 12}, ds.Prices())

	sub, err := ds.Slice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Len())
	col, _ := sub.Column("CPI")
	assert.Equal(t, []float64{1, 2}, col)

	_, err = NewAlignedDataset("005930", index, map[string]*IndicatorSeries{"short": mk("short", 1, 2)}, nil)
	assert.ErrorIs(t, err, ErrMisalignedSeries)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&LookAheadViolation{Component: "aligner"}))
	assert.True(t, IsFatal(errors.Join(ErrCorruptCalendar)))
	assert.False(t, IsFatal(&PartialDataError{}))
}

func TestSensitivityReport_JSONNull(t *testing.T) {
	data, err := json.Marshal(SensitivityReport{
		Parameter:    "window",
		Values:       []float64{10, 20},
		MetricValues: []float64{0.5, math.NaN()},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metric_values":[0.5,null]`)
}
