package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/contracts"
)

func monthly(t *testing.T, n int, value func(i int) float64) *contracts.IndicatorSeries {
	t.Helper()
	pts := make([]contracts.Observation, n)
	for i := range pts {
		pts[i] = contracts.Observation{
			Time:  time.Date(2020, time.Month(i+2), 0, 0, 0, 0, 0, time.UTC),
			Value: value(i),
		}
	}
	s, err := contracts.NewIndicatorSeries("CPI", contracts.FrequencyMonthly, "test", pts)
	require.NoError(t, err)
	return s
}

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(Config{})
	require.NoError(t, err)
	return s
}

func TestScore_FullMonthlyHistory(t *testing.T) {
	series := monthly(t, 48, func(i int) float64 { return 100 + float64(i%2) })
	last := series.Points[47].Time

	q, warn := newScorer(t).Score(Input{Series: series, AsOf: last.AddDate(0, 0, 10)})

	assert.Nil(t, warn)
	assert.Equal(t, 1.0, q.Completeness)
	assert.InDelta(t, 0.95, q.Freshness, 0.01)
	assert.Greater(t, q.Consistency, 0.9)
	assert.Greater(t, q.Overall, 0.9)
	assert.Contains(t, []contracts.Grade{contracts.GradeGood, contracts.GradeExcellent}, q.Grade)
}

func TestScore_Completeness(t *testing.T) {
	series := monthly(t, 24, func(i int) float64 { return float64(i) })
	tests := []struct {
		name string
		in   Input
		want float64
	}{
		{"from grid span", Input{Series: series}, 1.0},
		{"cleaner counts", Input{Series: series, ExpectedPoints: 48, ObservedPoints: 24}, 0.5},
		{
			name: "covered range longer than data",
			in: Input{Series: series, Covered: &contracts.DateRange{
				Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			}},
			want: 0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.AsOf = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			q, _ := newScorer(t).Score(tt.in)
			assert.InDelta(t, tt.want, q.Completeness, 1e-12)
		})
	}
}

func TestScore_FreshnessDecays(t *testing.T) {
	series := monthly(t, 12, func(i int) float64 { return float64(i) })
	last := series.Points[11].Time
	s := newScorer(t)

	q, _ := s.Score(Input{Series: series, AsOf: last})
	assert.Equal(t, 1.0, q.Freshness)

	q, _ = s.Score(Input{Series: series, AsOf: last.AddDate(1, 0, 0)})
	assert.Equal(t, 0.0, q.Freshness)
}

func TestScore_ConsistencyAgainstHistory(t *testing.T) {
	series := monthly(t, 24, func(i int) float64 { return float64(i % 2) })
	s := newScorer(t)

	q, _ := s.Score(Input{Series: series, HasHistorical: true, HistoricalVariance: 0.01, AsOf: series.Points[23].Time})
	assert.Equal(t, 0.0, q.Consistency)

	flat := monthly(t, 24, func(int) float64 { return 5 })
	q, _ = s.Score(Input{Series: flat, AsOf: flat.Points[23].Time})
	assert.Equal(t, 1.0, q.Consistency)
}

func TestScore_StaleWarning(t *testing.T) {
	series := monthly(t, 12, func(i int) float64 { return float64(i % 2) })

	q, warn := newScorer(t).Score(Input{
		Series:         series,
		ExpectedPoints: 48,
		ObservedPoints: 12,
		AsOf:           series.Points[11].Time.AddDate(2, 0, 0),
		HasHistorical:  true, HistoricalVariance: 50,
	})

	require.NotNil(t, warn)
	assert.Equal(t, contracts.GradePoor, q.Grade)
	assert.Equal(t, "CPI", warn.IndicatorID)
	assert.Less(t, warn.Quality.Overall, contracts.FairThreshold)
}
