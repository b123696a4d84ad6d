package aligner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/validate"
)

// Aggregation reduces intraday points to one value per trading day
type Aggregation string

const (
	AggregateLast Aggregation = "last"
	AggregateMean Aggregation = "mean"
)

// Config holds alignment rules. Lag days are calendar days added to the
// default release date (period end) when an observation has no explicit one.
type Config struct {
	DailyLagDays     int         `yaml:"daily_lag_days" json:"daily_lag_days" validate:"gte=0"`
	WeeklyLagDays    int         `yaml:"weekly_lag_days" json:"weekly_lag_days" validate:"gte=0"`
	MonthlyLagDays   int         `yaml:"monthly_lag_days" json:"monthly_lag_days" validate:"gte=0"`
	QuarterlyLagDays int         `yaml:"quarterly_lag_days" json:"quarterly_lag_days" validate:"gte=0"`
	Aggregation      Aggregation `yaml:"aggregation" json:"aggregation" default:"last" validate:"oneof=last mean"`
	Lags             []int       `yaml:"lags" json:"lags" validate:"dive,gte=0"`
}

// AlignResult is the aligned series and its lagged copies
type AlignResult struct {
	Series  *contracts.IndicatorSeries
	Lagged  map[int]*contracts.IndicatorSeries
	Dropped int // leading calendar days with no released value
}

// Aligner maps series onto a trading calendar without look-ahead
type Aligner struct {
	cfg Config
}

// New validates cfg
func New(cfg Config) (*Aligner, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("aligner config: %w", err)
	}
	return &Aligner{cfg: cfg}, nil
}

// LaggedID names the k-day lagged copy of a series
func LaggedID(id string, k int) string {
	return fmt.Sprintf("%s_lag%d", id, k)
}

// ReleaseDate is when o becomes visible
// ⭐ SSOT: 발표 지연(publication lag) 규칙은 여기서만 계산
func (a *Aligner) ReleaseDate(f contracts.Frequency, o contracts.Observation) time.Time {
	basis := contracts.Day(o.Basis())
	release := contracts.PeriodEnd(f, o.Basis()).AddDate(0, 0, a.lagDays(f))
	if !o.Released.IsZero() {
		release = contracts.Day(o.Released)
	}
	if release.Before(basis) {
		release = basis
	}
	return release
}

func (a *Aligner) lagDays(f contracts.Frequency) int {
	switch f {
	case contracts.FrequencyWeekly:
		return a.cfg.WeeklyLagDays
	case contracts.FrequencyMonthly:
		return a.cfg.MonthlyLagDays
	case contracts.FrequencyQuarterly:
		return a.cfg.QuarterlyLagDays
	default:
		return a.cfg.DailyLagDays
	}
}

// ValidateCalendar rejects calendars that are unsorted, duplicated or contain weekends
func ValidateCalendar(calendar []time.Time) error {
	if len(calendar) == 0 {
		return fmt.Errorf("%w: empty", contracts.ErrCorruptCalendar)
	}
	for i, d := range calendar {
		if !contracts.IsWeekday(d) {
			return fmt.Errorf("%w: %s is a weekend", contracts.ErrCorruptCalendar, d.Format("2006-01-02"))
		}
		if i > 0 && !contracts.Day(d).After(contracts.Day(calendar[i-1])) {
			return fmt.Errorf("%w: not strictly increasing at %s", contracts.ErrCorruptCalendar, d.Format("2006-01-02"))
		}
	}
	return nil
}

type released struct {
	obs     contracts.Observation
	release time.Time
}

// Align forward-fills s onto calendar. A value appears on day t only when
// its release date is <= t; days before the first release are dropped.
func (a *Aligner) Align(s *contracts.IndicatorSeries, calendar []time.Time) (*AlignResult, error) {
	if err := ValidateCalendar(calendar); err != nil {
		return nil, err
	}

	freq := s.Frequency
	points := s.Points
	if freq == contracts.FrequencyIntraday {
		points = a.aggregateIntraday(points)
		freq = contracts.FrequencyDaily
	}

	queue := make([]released, 0, len(points))
	for _, p := range points {
		if p.Missing() {
			continue
		}
		queue = append(queue, released{obs: p, release: a.ReleaseDate(freq, p)})
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].release.Before(queue[j].release) })

	out := make([]contracts.Observation, 0, len(calendar))
	var current *released
	next := 0
	dropped := 0
	for _, day := range calendar {
		d := contracts.Day(day)
		for next < len(queue) && !queue[next].release.After(d) {
			// among released values the latest reference period wins (revisions aside)
			if current == nil || !queue[next].obs.Time.Before(current.obs.Time) {
				current = &queue[next]
			}
			next++
		}
		if current == nil {
			dropped++
			continue
		}
		out = append(out, contracts.Observation{
			Time:     day,
			Value:    current.obs.Value,
			Released: current.release,
			AsOf:     current.obs.Basis(),
		})
	}

	aligned := &contracts.IndicatorSeries{
		ID:        s.ID,
		Frequency: contracts.FrequencyDaily,
		Source:    s.Source,
		Points:    out,
	}
	if err := VerifyNoLookAhead("aligner", aligned); err != nil {
		return nil, err
	}

	res := &AlignResult{Series: aligned, Lagged: make(map[int]*contracts.IndicatorSeries), Dropped: dropped}
	for _, k := range a.cfg.Lags {
		if k == 0 {
			continue
		}
		lagged, err := Lag(aligned, k)
		if err != nil {
			return nil, err
		}
		res.Lagged[k] = lagged
	}
	return res, nil
}

// Lag shifts values by k trading days: point i carries the value of i-k.
// The first k points are dropped.
func Lag(s *contracts.IndicatorSeries, k int) (*contracts.IndicatorSeries, error) {
	if k < 0 {
		return nil, fmt.Errorf("lag must be non-negative, got %d", k)
	}
	n := s.Len()
	if k >= n {
		return s.Derive(nil), nil
	}
	out := make([]contracts.Observation, 0, n-k)
	for i := k; i < n; i++ {
		src := s.Points[i-k]
		out = append(out, contracts.Observation{
			Time:     s.Points[i].Time,
			Value:    src.Value,
			Released: src.Released,
			AsOf:     src.AsOf,
		})
	}
	lagged := s.Derive(out)
	lagged.ID = LaggedID(s.ID, k)
	return lagged, nil
}

// aggregateIntraday reduces points to one observation per calendar day
func (a *Aligner) aggregateIntraday(points []contracts.Observation) []contracts.Observation {
	var out []contracts.Observation
	var day time.Time
	var sum float64
	var n int
	var last contracts.Observation

	flush := func() {
		if n == 0 {
			return
		}
		v := last.Value
		if a.cfg.Aggregation == AggregateMean {
			v = sum / float64(n)
		}
		out = append(out, contracts.Observation{Time: day, Value: v, Released: last.Released})
	}

	for _, p := range points {
		if p.Missing() {
			continue
		}
		d := contracts.Day(p.Time)
		if n > 0 && !d.Equal(day) {
			flush()
			sum, n = 0, 0
		}
		day = d
		sum += p.Value
		n++
		last = p
	}
	flush()
	return out
}

// VerifyNoLookAhead fails when any point carries data released or
// referenced after its own timestamp
func VerifyNoLookAhead(component string, s *contracts.IndicatorSeries) error {
	for _, p := range s.Points {
		if math.IsNaN(p.Value) {
			continue
		}
		at := contracts.Day(p.Time)
		if p.Released.After(at) {
			return &contracts.LookAheadViolation{Component: component, Series: s.ID, At: p.Time, SourceTime: p.Released}
		}
		if contracts.Day(p.AsOf).After(at) {
			return &contracts.LookAheadViolation{Component: component, Series: s.ID, At: p.Time, SourceTime: p.AsOf}
		}
	}
	return nil
}
