package quality

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
	"github.com/wonny/altquant/pkg/validate"
)

// Config holds scoring parameters
type Config struct {
	// Freshness decays to zero after interval × factor days without an update
	FreshnessHorizonFactor float64 `yaml:"freshness_horizon_factor" json:"freshness_horizon_factor" default:"6" validate:"gt=0"`
	// Number of most recent points compared against history
	ConsistencyWindow int `yaml:"consistency_window" json:"consistency_window" default:"12" validate:"gte=3"`
}

// Input is one scoring request
type Input struct {
	Series *contracts.IndicatorSeries
	// Expected/Observed override the grid count (e.g. from the cleaner)
	ExpectedPoints int
	ObservedPoints int
	// Covered, when set, is the period the series should cover
	Covered *contracts.DateRange
	// AsOf is the evaluation time (zero = now)
	AsOf time.Time
	// HistoricalVariance of first differences; NaN or 0 with HasHistorical=false
	// means "use the points before the recent window"
	HistoricalVariance float64
	HasHistorical      bool
}

// Scorer computes QualityMetrics
// ⭐ SSOT: 지표 품질 점수(completeness/freshness/consistency)는 여기서만 계산
type Scorer struct {
	cfg Config
	now func() time.Time
}

// NewScorer validates cfg
func NewScorer(cfg Config) (*Scorer, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("quality config: %w", err)
	}
	return &Scorer{cfg: cfg, now: time.Now}, nil
}

// Score returns the metrics and, when overall is below FAIR, a warning
func (s *Scorer) Score(in Input) (contracts.QualityMetrics, *contracts.StaleDataWarning) {
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	q := contracts.NewQualityMetrics(
		s.completeness(in, asOf),
		s.freshness(in.Series, asOf),
		s.consistency(in),
		asOf,
	)

	if q.BelowFair() {
		return q, &contracts.StaleDataWarning{
			IndicatorID:    in.Series.ID,
			Quality:        q,
			Recommendation: "fall back to the previous snapshot or exclude from new strategy construction",
		}
	}
	return q, nil
}

// completeness = observed / expected points over the covered period
func (s *Scorer) completeness(in Input, asOf time.Time) float64 {
	observed := in.ObservedPoints
	if observed == 0 {
		observed = in.Series.ObservedCount()
	}

	expected := in.ExpectedPoints
	if expected == 0 {
		expected = expectedPoints(in.Series, in.Covered, asOf)
	}
	if expected <= 0 {
		return 0
	}
	return math.Min(1, float64(observed)/float64(expected))
}

func expectedPoints(series *contracts.IndicatorSeries, covered *contracts.DateRange, asOf time.Time) int {
	if covered != nil {
		end := covered.End
		if asOf.Before(end) {
			end = contracts.Day(asOf)
		}
		// the grid anchors on the range start for weekly series
		return contracts.ExpectedPeriods(series.Frequency, covered.Start, end)
	}
	if series.Len() == 0 {
		return 0
	}
	if series.Frequency == contracts.FrequencyIntraday {
		return series.Len()
	}
	return contracts.ExpectedPeriods(series.Frequency, series.Points[0].Time, series.Points[series.Len()-1].Time)
}

// freshness = max(0, 1 - days_since_last_update / (interval × factor))
func (s *Scorer) freshness(series *contracts.IndicatorSeries, asOf time.Time) float64 {
	last, ok := series.Last()
	if !ok {
		return 0
	}
	updated := last.Time
	if !last.Released.IsZero() {
		updated = last.Released
	}
	days := asOf.Sub(updated).Hours() / 24
	if days < 0 {
		days = 0
	}
	horizon := series.Frequency.ExpectedIntervalDays() * s.cfg.FreshnessHorizonFactor
	return math.Max(0, 1-days/horizon)
}

// consistency = 1 - min(1, |recent_var - historical_var| / historical_var),
// variances of first differences. Too little history scores 1.
func (s *Scorer) consistency(in Input) float64 {
	values := stats.Finite(in.Series.Values())
	w := s.cfg.ConsistencyWindow
	if len(values) < w {
		w = len(values)
	}
	recent := stats.SampleVariance(diff(values[len(values)-w:]))
	if math.IsNaN(recent) {
		return 1
	}

	historical := in.HistoricalVariance
	if !in.HasHistorical {
		historical = stats.SampleVariance(diff(values[:len(values)-w]))
		if math.IsNaN(historical) {
			return 1
		}
	}

	if historical == 0 {
		if recent == 0 {
			return 1
		}
		return 0
	}
	return 1 - math.Min(1, math.Abs(recent-historical)/historical)
}

func diff(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}
