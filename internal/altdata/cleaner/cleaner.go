package cleaner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
	"github.com/wonny/altquant/pkg/validate"
)

// MissingStrategy selects how grid gaps are filled
type MissingStrategy string

const (
	MissingLinear     MissingStrategy = "linear"
	MissingForward    MissingStrategy = "ffill"
	MissingForwardBwd MissingStrategy = "ffill_bfill"
)

// OutlierMethod selects the outlier score
type OutlierMethod string

const (
	OutlierZScore OutlierMethod = "zscore"
	OutlierIQR    OutlierMethod = "iqr"
)

// OutlierPolicy selects what happens to a detected outlier
type OutlierPolicy string

const (
	PolicyCap     OutlierPolicy = "cap"
	PolicyExclude OutlierPolicy = "exclude"
	PolicyFlag    OutlierPolicy = "flag"
)

// Config holds cleaning rules
type Config struct {
	MissingStrategy    MissingStrategy `yaml:"missing_strategy" json:"missing_strategy" default:"linear" validate:"oneof=linear ffill ffill_bfill"`
	OutlierMethod      OutlierMethod   `yaml:"outlier_method" json:"outlier_method" default:"zscore" validate:"oneof=zscore iqr"`
	OutlierThreshold   float64         `yaml:"outlier_threshold" json:"outlier_threshold" default:"3" validate:"gt=0"`
	OutlierPolicy      OutlierPolicy   `yaml:"outlier_policy" json:"outlier_policy" default:"cap" validate:"oneof=cap exclude flag"`
	CapLowerPercentile float64         `yaml:"cap_lower_percentile" json:"cap_lower_percentile" default:"0.05" validate:"gte=0,lt=1"`
	CapUpperPercentile float64         `yaml:"cap_upper_percentile" json:"cap_upper_percentile" default:"0.95" validate:"gt=0,lte=1,gtfield=CapLowerPercentile"`
	FillBoundSigma     float64         `yaml:"fill_bound_sigma" json:"fill_bound_sigma" default:"3" validate:"gt=0"`
	ClampFills         bool            `yaml:"clamp_fills" json:"clamp_fills"`
	MinCompleteness    float64         `yaml:"min_completeness" json:"min_completeness" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default cleaning rules
func DefaultConfig() Config {
	var cfg Config
	_ = validate.Struct(context.Background(), &cfg)
	return cfg
}

// Correction kinds
const (
	KindDuplicateDropped = "duplicate_dropped"
	KindOutlierCapped    = "outlier_capped"
	KindOutlierExcluded  = "outlier_excluded"
	KindOutlierFlagged   = "outlier_flagged"
	KindGapFilled        = "gap_filled"
	KindBackFilled       = "back_filled"
	KindFillOutOfBounds  = "fill_out_of_bounds"
)

// Correction is one logged change. Old is NaN for a filled gap.
type Correction struct {
	Kind  string
	Index int
	Time  time.Time
	Old   float64
	New   float64
	Score float64
}

// CleanResult is the cleaned series plus its correction log
type CleanResult struct {
	Series      *contracts.IndicatorSeries
	Corrections []Correction
	Expected    int
	Observed    int
}

// Count returns the number of corrections of kind
func (r *CleanResult) Count(kind string) int {
	n := 0
	for _, c := range r.Corrections {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Cleaner repairs gaps and outliers. Safe for concurrent use.
type Cleaner struct {
	cfg Config
}

// New validates cfg (applying defaults to zero fields)
func New(cfg Config) (*Cleaner, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("cleaner config: %w", err)
	}
	return &Cleaner{cfg: cfg}, nil
}

// slot is one position on the expected grid
type slot struct {
	obs      contracts.Observation
	observed bool
}

// Clean returns a new series with no gaps on the expected grid between the
// first and last observed point. The input is never modified.
func (c *Cleaner) Clean(raw *contracts.IndicatorSeries) (*CleanResult, error) {
	res := &CleanResult{}

	slots, err := c.buildGrid(raw, res)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(slots))
	for i, s := range slots {
		values[i] = s.obs.Value
	}

	c.treatOutliers(slots, values, res)

	// bounds come from observed values that survived outlier treatment
	observedVals := make([]float64, 0, len(values))
	for i, s := range slots {
		if s.observed && !math.IsNaN(values[i]) {
			observedVals = append(observedVals, values[i])
		}
	}

	filled := c.fill(slots, values, res)
	c.checkFillBounds(slots, values, filled, observedVals, res)

	points := make([]contracts.Observation, len(slots))
	for i, s := range slots {
		p := s.obs
		p.Value = values[i]
		points[i] = p
	}
	res.Series = raw.Derive(points)
	return res, nil
}

// buildGrid maps observations to grid slots and inserts gap slots
func (c *Cleaner) buildGrid(raw *contracts.IndicatorSeries, res *CleanResult) ([]slot, error) {
	var present []contracts.Observation
	for _, p := range raw.Points {
		if !p.Missing() {
			present = append(present, p)
		}
	}

	if raw.Frequency == contracts.FrequencyIntraday {
		// no calendar grid below one day: NaN points are the gaps
		res.Expected = raw.Len()
		res.Observed = len(present)
		if err := c.checkCompleteness(raw.ID, res); err != nil {
			return nil, err
		}
		slots := make([]slot, raw.Len())
		for i, p := range raw.Points {
			slots[i] = slot{obs: p, observed: !p.Missing()}
		}
		return trimEdges(slots), nil
	}

	if len(present) == 0 {
		res.Expected = raw.Len()
		return nil, &contracts.DataIntegrityError{
			IndicatorID: raw.ID, Observed: 0, Expected: res.Expected, MinFraction: c.cfg.MinCompleteness,
		}
	}

	anchor := present[0].Time
	byIndex := make(map[int]contracts.Observation, len(present))
	firstIdx := contracts.PeriodIndex(raw.Frequency, anchor, anchor)
	lastIdx := firstIdx
	for i, p := range present {
		idx := contracts.PeriodIndex(raw.Frequency, anchor, p.Time)
		if prev, dup := byIndex[idx]; dup {
			// later report of the same period supersedes the earlier one
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindDuplicateDropped, Index: i, Time: prev.Time, Old: prev.Value, New: p.Value,
			})
		}
		byIndex[idx] = p
		if idx > lastIdx {
			lastIdx = idx
		}
	}

	res.Expected = lastIdx - firstIdx + 1
	res.Observed = len(byIndex)
	if err := c.checkCompleteness(raw.ID, res); err != nil {
		return nil, err
	}

	slots := make([]slot, res.Expected)
	for k := range slots {
		idx := firstIdx + k
		if p, ok := byIndex[idx]; ok {
			slots[k] = slot{obs: p, observed: true}
			continue
		}
		slots[k] = slot{obs: contracts.Observation{
			Time:  contracts.PeriodTime(raw.Frequency, anchor, idx),
			Value: math.NaN(),
		}}
	}
	return slots, nil
}

func (c *Cleaner) checkCompleteness(id string, res *CleanResult) error {
	if res.Expected == 0 || float64(res.Observed)/float64(res.Expected) < c.cfg.MinCompleteness {
		return &contracts.DataIntegrityError{
			IndicatorID: id, Observed: res.Observed, Expected: res.Expected, MinFraction: c.cfg.MinCompleteness,
		}
	}
	return nil
}

// trimEdges drops leading and trailing unobserved slots
func trimEdges(slots []slot) []slot {
	from, to := 0, len(slots)
	for from < to && !slots[from].observed {
		from++
	}
	for to > from && !slots[to-1].observed {
		to--
	}
	return slots[from:to]
}

// treatOutliers scores observed values and applies the configured policy
func (c *Cleaner) treatOutliers(slots []slot, values []float64, res *CleanResult) {
	observed := make([]float64, 0, len(values))
	for i, s := range slots {
		if s.observed {
			observed = append(observed, values[i])
		}
	}
	if len(observed) < 3 {
		return
	}

	score := c.scorer(observed)
	if score == nil {
		return
	}
	capLo := stats.Percentile(observed, c.cfg.CapLowerPercentile)
	capHi := stats.Percentile(observed, c.cfg.CapUpperPercentile)

	for i, s := range slots {
		if !s.observed {
			continue
		}
		z := score(values[i])
		if z <= c.cfg.OutlierThreshold {
			continue
		}

		old := values[i]
		switch c.cfg.OutlierPolicy {
		case PolicyCap:
			values[i] = math.Max(capLo, math.Min(capHi, old))
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindOutlierCapped, Index: i, Time: s.obs.Time, Old: old, New: values[i], Score: z,
			})
		case PolicyExclude:
			values[i] = math.NaN()
			slots[i].observed = false
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindOutlierExcluded, Index: i, Time: s.obs.Time, Old: old, New: math.NaN(), Score: z,
			})
		case PolicyFlag:
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindOutlierFlagged, Index: i, Time: s.obs.Time, Old: old, New: old, Score: z,
			})
		}
	}
}

// scorer returns the outlier score function, nil when the sample has no spread
func (c *Cleaner) scorer(observed []float64) func(float64) float64 {
	switch c.cfg.OutlierMethod {
	case OutlierIQR:
		q1 := stats.Percentile(observed, 0.25)
		q3 := stats.Percentile(observed, 0.75)
		iqr := q3 - q1
		if iqr <= 0 {
			return nil
		}
		// distance outside the quartile box, in IQR units
		return func(x float64) float64 {
			switch {
			case x < q1:
				return (q1 - x) / iqr
			case x > q3:
				return (x - q3) / iqr
			}
			return 0
		}
	default:
		mean := stats.Mean(observed)
		std := stats.SampleStd(observed)
		if std == 0 || math.IsNaN(std) {
			return nil
		}
		return func(x float64) float64 { return math.Abs(x-mean) / std }
	}
}

// fill replaces NaN slots; returns the indices that were filled
func (c *Cleaner) fill(slots []slot, values []float64, res *CleanResult) []int {
	var filled []int
	n := len(values)

	prev := -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(values[i]) {
			prev = i
			continue
		}
		next := i + 1
		for next < n && math.IsNaN(values[next]) {
			next++
		}

		switch {
		case prev >= 0 && (c.cfg.MissingStrategy != MissingLinear || next >= n):
			// forward fill: known at the gap's own release
			values[i] = values[prev]
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindGapFilled, Index: i, Time: slots[i].obs.Time, Old: math.NaN(), New: values[i],
			})
		case prev >= 0:
			w := float64(i-prev) / float64(next-prev)
			values[i] = values[prev] + (values[next]-values[prev])*w
			markDependsOn(&slots[i], slots[next].obs)
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindGapFilled, Index: i, Time: slots[i].obs.Time, Old: math.NaN(), New: values[i],
			})
		case next < n:
			// leading hole (first point excluded): back-fill from the next value
			values[i] = values[next]
			markDependsOn(&slots[i], slots[next].obs)
			res.Corrections = append(res.Corrections, Correction{
				Kind: KindBackFilled, Index: i, Time: slots[i].obs.Time, Old: math.NaN(), New: values[i],
			})
		default:
			continue
		}
		filled = append(filled, i)
	}
	return filled
}

// markDependsOn records that a filled value uses a later observation
func markDependsOn(s *slot, src contracts.Observation) {
	s.obs.AsOf = src.Basis()
	if src.Released.After(s.obs.Released) {
		s.obs.Released = src.Released
	}
}

// checkFillBounds flags (and optionally clamps) fills beyond mean ± N·std
func (c *Cleaner) checkFillBounds(slots []slot, values []float64, filled []int, observed []float64, res *CleanResult) {
	if len(filled) == 0 || len(observed) < 2 {
		return
	}
	mean := stats.Mean(observed)
	std := stats.SampleStd(observed)
	lo := mean - c.cfg.FillBoundSigma*std
	hi := mean + c.cfg.FillBoundSigma*std

	for _, i := range filled {
		v := values[i]
		if v >= lo && v <= hi {
			continue
		}
		corrected := v
		if c.cfg.ClampFills {
			corrected = math.Max(lo, math.Min(hi, v))
			values[i] = corrected
		}
		res.Corrections = append(res.Corrections, Correction{
			Kind: KindFillOutOfBounds, Index: i, Time: slots[i].obs.Time, Old: v, New: corrected,
		})
	}
}
