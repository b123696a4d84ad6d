package backtest

import (
	"math"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
)

// Combined is the sized decision for one day
type Combined struct {
	Action   contracts.Action `json:"action"`
	Strength float64          `json:"strength"` // magnitude, [0, 1]
	Size     float64          `json:"size"`     // fraction of equity, 0 = no action
}

// Combiner merges the price and alt signals of a Decision
// ⭐ SSOT: 가격/대체데이터 시그널 결합 규칙은 여기서만
type Combiner struct {
	strongThreshold float64
	reducedFraction float64
}

// NewCombiner uses the sizing settings of cfg
func NewCombiner(cfg Config) *Combiner {
	return &Combiner{strongThreshold: cfg.StrongThreshold, reducedFraction: cfg.ReducedFraction}
}

// Combine applies the sizing rules:
//   - price only: any directional signal sizes a full position
//   - both agree: strength is the mean; full above the strong threshold, else reduced
//   - one directional, the other HOLD: reduced at the directional strength
//   - opposite directions: strength 0, no action
func (c *Combiner) Combine(d signals.Decision) Combined {
	p := d.Price
	if d.Alt == nil {
		if p.Direction() == 0 {
			return Combined{Action: contracts.ActionHold}
		}
		return Combined{Action: p.Action, Strength: math.Abs(p.Strength), Size: 1}
	}

	a := *d.Alt
	dp, da := p.Direction(), a.Direction()
	switch {
	case dp == 0 && da == 0:
		return Combined{Action: contracts.ActionHold}
	case dp != 0 && da != 0 && dp != da:
		return Combined{Action: contracts.ActionHold}
	case dp == da:
		strength := (math.Abs(p.Strength) + math.Abs(a.Strength)) / 2
		size := c.reducedFraction
		if strength > c.strongThreshold {
			size = 1
		}
		return Combined{Action: p.Action, Strength: strength, Size: size}
	case dp != 0:
		return Combined{Action: p.Action, Strength: math.Abs(p.Strength), Size: c.reducedFraction}
	default:
		return Combined{Action: a.Action, Strength: math.Abs(a.Strength), Size: c.reducedFraction}
	}
}
