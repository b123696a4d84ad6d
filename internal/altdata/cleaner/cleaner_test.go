package cleaner

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
)

func monthEnd(y int, m time.Month) time.Time {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// monthlySeries builds a series from January 2022; NaN entries are omitted
func monthlySeries(t *testing.T, values []float64) *contracts.IndicatorSeries {
	t.Helper()
	var pts []contracts.Observation
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		pts = append(pts, contracts.Observation{Time: monthEnd(2022, time.January+time.Month(i)), Value: v})
	}
	s, err := contracts.NewIndicatorSeries("CPI", contracts.FrequencyMonthly, "test", pts)
	require.NoError(t, err)
	return s
}

// alternating returns 10,11,10,11,... with an outlier of 100 at idx
func alternating(n, idx int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 10 + float64(i%2)
	}
	if idx >= 0 {
		out[idx] = 100
	}
	return out
}

func newCleaner(t *testing.T, cfg Config) *Cleaner {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func assertNoGaps(t *testing.T, s *contracts.IndicatorSeries) {
	t.Helper()
	require.NoError(t, s.Validate())
	first := s.Points[0].Time
	last := s.Points[s.Len()-1].Time
	assert.Equal(t, contracts.ExpectedPeriods(s.Frequency, first, last), s.Len())
	for _, p := range s.Points {
		assert.False(t, p.Missing(), "missing value at %s", p.Time)
	}
}

func TestClean_FillStrategies(t *testing.T) {
	raw := []float64{1, math.NaN(), 3, 4, math.NaN(), 6}

	tests := []struct {
		name     string
		strategy MissingStrategy
		want     []float64
	}{
		{"linear", MissingLinear, []float64{1, 2, 3, 4, 5, 6}},
		{"forward fill", MissingForward, []float64{1, 1, 3, 4, 4, 6}},
		{"forward backward fill", MissingForwardBwd, []float64{1, 1, 3, 4, 4, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCleaner(t, Config{MissingStrategy: tt.strategy})
			res, err := c.Clean(monthlySeries(t, raw))
			require.NoError(t, err)

			assertNoGaps(t, res.Series)
			assert.Equal(t, tt.want, res.Series.Values())
			assert.Equal(t, 6, res.Expected)
			assert.Equal(t, 4, res.Observed)
			assert.Equal(t, 2, res.Count(KindGapFilled))
			assert.Equal(t, monthEnd(2022, time.February), res.Series.Points[1].Time)
		})
	}
}

func TestClean_InterpolationRecordsDependency(t *testing.T) {
	c := newCleaner(t, Config{MissingStrategy: MissingLinear})
	res, err := c.Clean(monthlySeries(t, []float64{1, math.NaN(), 3}))
	require.NoError(t, err)

	gap := res.Series.Points[1]
	assert.Equal(t, monthEnd(2022, time.March), gap.Basis())
}

func TestClean_DataIntegrityError(t *testing.T) {
	c := newCleaner(t, Config{})
	raw := []float64{1, math.NaN(), math.NaN(), math.NaN(), math.NaN(), 6}

	_, err := c.Clean(monthlySeries(t, raw))

	var integrity *contracts.DataIntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, 2, integrity.Observed)
	assert.Equal(t, 6, integrity.Expected)
}

func TestClean_OutlierPolicies(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		kind   string
		assert func(t *testing.T, v float64)
	}{
		{
			name: "zscore cap to 95th percentile",
			cfg:  Config{OutlierMethod: OutlierZScore, OutlierPolicy: PolicyCap},
			kind: KindOutlierCapped,
			assert: func(t *testing.T, v float64) {
				assert.InDelta(t, 15.45, v, 1e-9)
			},
		},
		{
			name: "exclude then interpolate",
			cfg:  Config{OutlierPolicy: PolicyExclude},
			kind: KindOutlierExcluded,
			assert: func(t *testing.T, v float64) {
				assert.InDelta(t, 10.0, v, 1e-9)
			},
		},
		{
			name: "flag keeps value",
			cfg:  Config{OutlierPolicy: PolicyFlag},
			kind: KindOutlierFlagged,
			assert: func(t *testing.T, v float64) {
				assert.Equal(t, 100.0, v)
			},
		},
		{
			name: "iqr cap",
			cfg:  Config{OutlierMethod: OutlierIQR, OutlierPolicy: PolicyCap},
			kind: KindOutlierCapped,
			assert: func(t *testing.T, v float64) {
				assert.InDelta(t, 15.45, v, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newCleaner(t, tt.cfg).Clean(monthlySeries(t, alternating(20, 5)))
			require.NoError(t, err)

			assert.Equal(t, 1, res.Count(tt.kind))
			tt.assert(t, res.Series.Points[5].Value)
			assertNoGaps(t, res.Series)
		})
	}
}

func TestClean_ExcludedFirstPointIsBackFilled(t *testing.T) {
	res, err := newCleaner(t, Config{OutlierPolicy: PolicyExclude}).Clean(monthlySeries(t, alternating(20, 0)))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count(KindBackFilled))
	assert.Equal(t, 11.0, res.Series.Points[0].Value)
	assert.Equal(t, res.Series.Points[1].Time, res.Series.Points[0].Basis())
	assertNoGaps(t, res.Series)
}

func TestClean_FillBoundsClamp(t *testing.T) {
	values := alternating(20, 5)
	values[6] = math.NaN()
	raw := monthlySeries(t, values)

	var observed []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	hi := stats.Mean(observed) + stats.SampleStd(observed)

	c := newCleaner(t, Config{OutlierPolicy: PolicyFlag, FillBoundSigma: 1, ClampFills: true})
	res, err := c.Clean(raw)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count(KindFillOutOfBounds))
	assert.InDelta(t, hi, res.Series.Points[6].Value, 1e-9)
}

func TestClean_DuplicatePeriodKeepsLater(t *testing.T) {
	pts := []contracts.Observation{
		{Time: time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC), Value: 1},
		{Time: time.Date(2022, 1, 31, 0, 0, 0, 0, time.UTC), Value: 2},
		{Time: time.Date(2022, 2, 28, 0, 0, 0, 0, time.UTC), Value: 3},
	}
	raw, err := contracts.NewIndicatorSeries("PMI", contracts.FrequencyMonthly, "test", pts)
	require.NoError(t, err)

	res, err := newCleaner(t, Config{}).Clean(raw)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 3}, res.Series.Values())
	assert.Equal(t, 1, res.Count(KindDuplicateDropped))
}

func TestClean_DoesNotMutateInput(t *testing.T) {
	raw := monthlySeries(t, alternating(20, 5))
	before := raw.Values()

	_, err := newCleaner(t, Config{}).Clean(raw)
	require.NoError(t, err)
	assert.Equal(t, before, raw.Values())
}

func TestClean_Intraday(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	pts := []contracts.Observation{
		{Time: base, Value: math.NaN()},
		{Time: base.Add(time.Hour), Value: 1},
		{Time: base.Add(2 * time.Hour), Value: math.NaN()},
		{Time: base.Add(3 * time.Hour), Value: 3},
	}
	raw, err := contracts.NewIndicatorSeries("flow", contracts.FrequencyIntraday, "test", pts)
	require.NoError(t, err)

	res, err := newCleaner(t, Config{}).Clean(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, res.Series.Values())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{MissingStrategy: "spline"})
	assert.Error(t, err)

	_, err = New(Config{CapLowerPercentile: 0.9, CapUpperPercentile: 0.1})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, MissingLinear, cfg.MissingStrategy)
	assert.Equal(t, 3.0, cfg.OutlierThreshold)
	assert.Equal(t, 0.5, cfg.MinCompleteness)
}
