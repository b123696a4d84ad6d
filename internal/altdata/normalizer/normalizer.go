package normalizer

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
	"github.com/wonny/altquant/pkg/validate"
)

// Method is the rescaling transform
type Method string

const (
	MethodZScore    Method = "zscore"
	MethodMinMax    Method = "minmax"
	MethodLogReturn Method = "logreturn"
)

// Config selects the transform. Window 0 uses full-sample statistics
// (invertible); Window > 0 uses trailing statistics over that many points.
type Config struct {
	Method Method `yaml:"method" json:"method" default:"zscore" validate:"oneof=zscore minmax logreturn"`
	Window int    `yaml:"window" json:"window" validate:"gte=0"`
}

// Meta preserves the statistics needed to invert a full-sample transform
type Meta struct {
	Method Method
	Window int
	Mean   float64
	Std    float64
	Min    float64
	Max    float64
	First  float64 // first finite level, seed for inverting log returns
}

// Result is the normalized series and its metadata
type Result struct {
	Series *contracts.IndicatorSeries
	Meta   Meta
}

// Normalizer rescales series. Safe for concurrent use.
type Normalizer struct {
	cfg Config
}

// New validates cfg
func New(cfg Config) (*Normalizer, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("normalizer config: %w", err)
	}
	return &Normalizer{cfg: cfg}, nil
}

// Normalize returns a new series; all-missing input yields all-missing output
func (n *Normalizer) Normalize(s *contracts.IndicatorSeries) (*Result, error) {
	values := s.Values()
	meta := describe(values)
	meta.Method = n.cfg.Method
	meta.Window = n.cfg.Window

	var out []float64
	switch {
	case n.cfg.Method == MethodLogReturn:
		out = stats.LogReturns(values)
	case n.cfg.Window > 0:
		out = rolling(n.cfg.Method, values, n.cfg.Window)
	default:
		out = apply(meta, values)
	}
	return &Result{Series: withValues(s, out), Meta: meta}, nil
}

// ApplyMeta normalizes s with previously captured full-sample statistics
func ApplyMeta(s *contracts.IndicatorSeries, meta Meta) (*contracts.IndicatorSeries, error) {
	if meta.Window > 0 {
		return nil, fmt.Errorf("rolling %s normalization has no fixed statistics", meta.Method)
	}
	if meta.Method == MethodLogReturn {
		return withValues(s, stats.LogReturns(s.Values())), nil
	}
	return withValues(s, apply(meta, s.Values())), nil
}

// Denormalize inverts a full-sample transform using meta
func Denormalize(s *contracts.IndicatorSeries, meta Meta) (*contracts.IndicatorSeries, error) {
	if meta.Window > 0 {
		return nil, fmt.Errorf("rolling %s normalization is not invertible", meta.Method)
	}
	values := s.Values()
	out := make([]float64, len(values))

	switch meta.Method {
	case MethodZScore:
		for i, z := range values {
			if meta.Std == 0 {
				out[i] = nanOr(z, meta.Mean)
				continue
			}
			out[i] = z*meta.Std + meta.Mean
		}
	case MethodMinMax:
		span := meta.Max - meta.Min
		for i, v := range values {
			if span == 0 {
				out[i] = nanOr(v, meta.Min)
				continue
			}
			out[i] = v*span + meta.Min
		}
	case MethodLogReturn:
		// a missing return leaves the level unchanged
		level := meta.First
		for i, r := range values {
			if i > 0 && !math.IsNaN(r) {
				level *= math.Exp(r)
			}
			out[i] = level
		}
	default:
		return nil, fmt.Errorf("unknown normalization method %q", meta.Method)
	}
	return withValues(s, out), nil
}

func describe(values []float64) Meta {
	lo, hi := stats.MinMax(values)
	first := math.NaN()
	if idx := firstFinite(values); idx >= 0 {
		first = values[idx]
	}
	std := stats.SampleStd(values)
	if !math.IsNaN(first) && math.IsNaN(std) {
		// a single finite value has no spread
		std = 0
	}
	return Meta{Mean: stats.Mean(values), Std: std, Min: lo, Max: hi, First: first}
}

func firstFinite(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func apply(meta Meta, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, x := range values {
		out[i] = scale(meta.Method, x, meta.Mean, meta.Std, meta.Min, meta.Max)
	}
	return out
}

// scale maps one value; degenerate spreads give 0 (zscore) or 0.5 (minmax)
func scale(method Method, x, mean, std, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	switch method {
	case MethodMinMax:
		if math.IsNaN(lo) {
			return math.NaN()
		}
		if hi == lo {
			return 0.5
		}
		return (x - lo) / (hi - lo)
	default:
		if math.IsNaN(mean) {
			return math.NaN()
		}
		if std == 0 || math.IsNaN(std) {
			return 0
		}
		return (x - mean) / std
	}
}

// rolling applies the transform with statistics of the trailing window ending at t
func rolling(method Method, values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		if t < window-1 {
			out[t] = math.NaN()
			continue
		}
		w := values[t-window+1 : t+1]
		meta := describe(w)
		out[t] = scale(method, values[t], meta.Mean, meta.Std, meta.Min, meta.Max)
	}
	return out
}

func nanOr(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return fallback
}

func withValues(s *contracts.IndicatorSeries, values []float64) *contracts.IndicatorSeries {
	out := s.Derive(s.Points)
	for i := range out.Points {
		out.Points[i].Value = values[i]
	}
	return out
}
