package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/pkg/logger"
)

func sig(action contracts.Action, strength float64) contracts.Signal {
	return contracts.NewSignal(time.Time{}, action, strength, 1, "")
}

func sigPtr(action contracts.Action, strength float64) *contracts.Signal {
	s := sig(action, strength)
	return &s
}

func TestCombiner_Combine(t *testing.T) {
	engine, err := NewEngine(Config{}, nil, logger.Nop())
	require.NoError(t, err)
	c := NewCombiner(engine.Config())

	tests := []struct {
		name     string
		decision signals.Decision
		action   contracts.Action
		strength float64
		size     float64
	}{
		{
			name:     "agree strong sizes full",
			decision: signals.Decision{Price: sig(contracts.ActionBuy, 0.7), Alt: sigPtr(contracts.ActionBuy, 0.8)},
			action:   contracts.ActionBuy, strength: 0.75, size: 1,
		},
		{
			name:     "agree weak sizes reduced",
			decision: signals.Decision{Price: sig(contracts.ActionSell, -0.3), Alt: sigPtr(contracts.ActionSell, -0.4)},
			action:   contracts.ActionSell, strength: 0.35, size: 0.3,
		},
		{
			name:     "disagree forces zero",
			decision: signals.Decision{Price: sig(contracts.ActionBuy, 0.7), Alt: sigPtr(contracts.ActionSell, -0.8)},
			action:   contracts.ActionHold, strength: 0, size: 0,
		},
		{
			name:     "only price directional",
			decision: signals.Decision{Price: sig(contracts.ActionBuy, 0.9), Alt: sigPtr(contracts.ActionHold, 0.1)},
			action:   contracts.ActionBuy, strength: 0.9, size: 0.3,
		},
		{
			name:     "only alt directional",
			decision: signals.Decision{Price: sig(contracts.ActionHold, 0), Alt: sigPtr(contracts.ActionSell, -0.5)},
			action:   contracts.ActionSell, strength: 0.5, size: 0.3,
		},
		{
			name:     "both hold",
			decision: signals.Decision{Price: sig(contracts.ActionHold, 0.2), Alt: sigPtr(contracts.ActionHold, 0.2)},
			action:   contracts.ActionHold,
		},
		{
			name:     "price only path sizes full",
			decision: signals.Decision{Price: sig(contracts.ActionBuy, 0.2)},
			action:   contracts.ActionBuy, strength: 0.2, size: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Combine(tt.decision)
			assert.Equal(t, tt.action, got.Action)
			assert.InDelta(t, tt.strength, got.Strength, 1e-12)
			assert.InDelta(t, tt.size, got.Size, 1e-12)
		})
	}
}
