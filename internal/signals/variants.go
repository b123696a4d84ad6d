package signals

import (
	"math"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
)

// Registered strategy variants
const (
	StrategyCumRetPrice    = "cumret_price"
	StrategyCumRetAlt      = "cumret_alt"
	StrategyMultiIndicator = "multi_indicator"
)

// Signal sources
const (
	SourcePrice = "price"
	SourceAlt   = "alt"
)

// AltConfig configures indicator signals: a trailing z-score of the level
type AltConfig struct {
	Window    int     `yaml:"window" json:"window" default:"60" validate:"gte=2"`
	Threshold float64 `yaml:"threshold" json:"threshold" default:"1" validate:"gt=0"`
	// Direction +1: a high indicator is bullish; -1: bearish
	Direction int `yaml:"direction" json:"direction" default:"1" validate:"oneof=-1 1"`
}

// zScoreAt of col[t] against the trailing window ending at t; NaN when the
// window is not fully observed
func zScoreAt(col []float64, window, t int) float64 {
	if t < window-1 || t >= len(col) || math.IsNaN(col[t]) {
		return math.NaN()
	}
	win := col[t-window+1 : t+1]
	if len(stats.Finite(win)) < window {
		return math.NaN()
	}
	std := stats.SampleStd(win)
	if std == 0 {
		return 0
	}
	return (col[t] - stats.Mean(win)) / std
}

// classifyAlt maps a directional z-score: above +threshold is BUY
func classifyAlt(at time.Time, v, threshold, confidence float64) contracts.Signal {
	strength := v / (2 * threshold)
	action := contracts.ActionHold
	switch {
	case v > threshold:
		action = contracts.ActionBuy
	case v < -threshold:
		action = contracts.ActionSell
	}
	return contracts.NewSignal(at, action, strength, confidence, SourceAlt)
}

// cumRetPrice trades the contrarian cumulative-return filter on price alone
type cumRetPrice struct {
	filter *Filter
}

func (s *cumRetPrice) Name() string         { return StrategyCumRetPrice }
func (s *cumRetPrice) Warmup() int          { return s.filter.Warmup() }
func (s *cumRetPrice) Indicators() []string { return nil }

func (s *cumRetPrice) Generate(w Window) Decision {
	return Decision{Price: s.filter.SignalAt(w.Time(), w.Prices(), w.T(), SourcePrice)}
}

// cumRetAlt adds one indicator signal; without the indicator it is cumret_price
type cumRetAlt struct {
	cumRetPrice
	alt       AltConfig
	indicator string
}

func (s *cumRetAlt) Name() string         { return StrategyCumRetAlt }
func (s *cumRetAlt) Indicators() []string { return []string{s.indicator} }

func (s *cumRetAlt) Generate(w Window) Decision {
	d := s.cumRetPrice.Generate(w)
	col, ok := w.Column(s.indicator)
	if !ok {
		return d
	}
	z := zScoreAt(col, s.alt.Window, w.T())
	if math.IsNaN(z) {
		return d
	}
	alt := classifyAlt(w.Time(), float64(s.alt.Direction)*z, s.alt.Threshold, confidenceOf(w, s.indicator))
	d.Alt = &alt
	return d
}

// multiIndicator averages several indicator z-scores into one alt signal
// (the cross-market variant feeds other markets' closes as indicators)
type multiIndicator struct {
	cumRetPrice
	alt        AltConfig
	indicators []string
}

func (s *multiIndicator) Name() string         { return StrategyMultiIndicator }
func (s *multiIndicator) Indicators() []string { return append([]string(nil), s.indicators...) }

func (s *multiIndicator) Generate(w Window) Decision {
	d := s.cumRetPrice.Generate(w)

	var sum, conf float64
	n := 0
	for _, id := range s.indicators {
		col, ok := w.Column(id)
		if !ok {
			continue
		}
		z := zScoreAt(col, s.alt.Window, w.T())
		if math.IsNaN(z) {
			continue
		}
		sum += float64(s.alt.Direction) * z
		conf += confidenceOf(w, id)
		n++
	}
	if n == 0 {
		return d
	}
	alt := classifyAlt(w.Time(), sum/float64(n), s.alt.Threshold, conf/float64(n))
	d.Alt = &alt
	return d
}

// confidenceOf is the indicator's overall quality, 1 when unscored
func confidenceOf(w Window, id string) float64 {
	if q, ok := w.Quality(id); ok {
		return q.Overall
	}
	return 1
}
