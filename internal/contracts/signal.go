package contracts

import (
	"math"
	"time"
)

// Action is the discrete trading decision
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a decision at Time, built only from data at or before Time
type Signal struct {
	Time       time.Time `json:"time"`
	Action     Action    `json:"action"`
	Strength   float64   `json:"strength"`   // [-1, 1], positive = bullish
	Confidence float64   `json:"confidence"` // [0, 1]
	Source     string    `json:"source,omitempty"`
}

// NewSignal clamps strength and confidence into their ranges.
// NaN strength collapses to a HOLD with zero strength.
func NewSignal(at time.Time, action Action, strength, confidence float64, source string) Signal {
	if math.IsNaN(strength) {
		action, strength = ActionHold, 0
	}
	return Signal{
		Time:       at,
		Action:     action,
		Strength:   clamp(strength, -1, 1),
		Confidence: clamp(confidence, 0, 1),
		Source:     source,
	}
}

// Hold is a neutral signal at t
func Hold(at time.Time, source string) Signal {
	return Signal{Time: at, Action: ActionHold, Confidence: 1, Source: source}
}

// Direction is +1 for BUY, -1 for SELL, 0 for HOLD
func (s Signal) Direction() int {
	switch s.Action {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
