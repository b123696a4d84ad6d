package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
	"github.com/wonny/altquant/pkg/validate"
)

// FilterConfig configures the cumulative-return filter
type FilterConfig struct {
	Window    int     `yaml:"window" json:"window" default:"20" validate:"gte=1"`
	Threshold float64 `yaml:"threshold" json:"threshold" default:"0.05" validate:"gt=0"`

	// Dynamic scales Threshold by recent/baseline volatility of daily log returns
	Dynamic        bool    `yaml:"dynamic" json:"dynamic"`
	RecentWindow   int     `yaml:"recent_window" json:"recent_window" default:"20" validate:"gte=2"`
	BaselineWindow int     `yaml:"baseline_window" json:"baseline_window" default:"120" validate:"gtefield=RecentWindow"`
	MinFactor      float64 `yaml:"min_factor" json:"min_factor" default:"0.5" validate:"gt=0"`
	MaxFactor      float64 `yaml:"max_factor" json:"max_factor" default:"2.0" validate:"gtefield=MinFactor"`
}

// Filter classifies cumulative returns into BUY/SELL/HOLD (contrarian)
// ⭐ SSOT: 누적수익률 필터 규칙은 여기서만
type Filter struct {
	cfg FilterConfig
}

// NewFilter validates cfg
func NewFilter(cfg FilterConfig) (*Filter, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("filter config: %w", err)
	}
	return &Filter{cfg: cfg}, nil
}

// Config returns the effective configuration
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Warmup is the number of leading rows without a defined signal
func (f *Filter) Warmup() int {
	return f.cfg.Window
}

// CumulativeReturns computes price[t]/price[t-window] - 1.
// The first window entries are NaN, as is any entry touching a NaN or
// non-positive base price.
func CumulativeReturns(prices []float64, window int) []float64 {
	out := make([]float64, len(prices))
	for t := range prices {
		out[t] = cumulativeReturnAt(prices, window, t)
	}
	return out
}

func cumulativeReturnAt(prices []float64, window, t int) float64 {
	if window < 1 || t < window || t >= len(prices) {
		return math.NaN()
	}
	base, cur := prices[t-window], prices[t]
	if math.IsNaN(base) || math.IsNaN(cur) || base <= 0 {
		return math.NaN()
	}
	return cur/base - 1
}

// ThresholdAt is the effective threshold at row t, using prices[:t+1] only
func (f *Filter) ThresholdAt(prices []float64, t int) float64 {
	if !f.cfg.Dynamic {
		return f.cfg.Threshold
	}
	return f.cfg.Threshold * f.volatilityFactor(prices, t)
}

// volatilityFactor = std(recent log returns) / std(baseline log returns),
// clamped to [MinFactor, MaxFactor]; 1 until a full baseline exists
func (f *Filter) volatilityFactor(prices []float64, t int) float64 {
	if t < f.cfg.BaselineWindow {
		return 1
	}
	returns := stats.LogReturns(prices[t-f.cfg.BaselineWindow : t+1])
	baseline := stats.SampleStd(returns)
	recent := stats.SampleStd(returns[len(returns)-f.cfg.RecentWindow:])
	if math.IsNaN(baseline) || math.IsNaN(recent) || baseline == 0 {
		return 1
	}
	return math.Max(f.cfg.MinFactor, math.Min(f.cfg.MaxFactor, recent/baseline))
}

// Classify maps a cumulative return against threshold.
// Strength is -cr/(2·threshold) clamped to [-1, 1]: falling prices are bullish.
func Classify(cr, threshold float64) (contracts.Action, float64) {
	if math.IsNaN(cr) || threshold <= 0 {
		return contracts.ActionHold, math.NaN()
	}
	strength := math.Max(-1, math.Min(1, -cr/(2*threshold)))
	switch {
	case cr > threshold:
		return contracts.ActionSell, strength
	case cr < -threshold:
		return contracts.ActionBuy, strength
	}
	return contracts.ActionHold, strength
}

// SignalAt evaluates row t of prices; rows after t are never read
func (f *Filter) SignalAt(at time.Time, prices []float64, t int, source string) contracts.Signal {
	cr := cumulativeReturnAt(prices, f.cfg.Window, t)
	action, strength := Classify(cr, f.ThresholdAt(prices, t))
	if math.IsNaN(strength) {
		return contracts.Hold(at, source)
	}
	return contracts.NewSignal(at, action, strength, 1, source)
}

// Signals evaluates every row
func (f *Filter) Signals(times []time.Time, prices []float64, source string) []contracts.Signal {
	out := make([]contracts.Signal, len(prices))
	for t := range prices {
		out[t] = f.SignalAt(times[t], prices, t, source)
	}
	return out
}
