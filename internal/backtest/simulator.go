package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/altquant/internal/contracts"
)

// State is the position state of the simulated account
type State string

const (
	StateFlat  State = "NO_POSITION"
	StateLong  State = "LONG"
	StateShort State = "SHORT"
)

// Simulator holds cash and a single-instrument position
// ⭐ SSOT: 백테스팅 체결/잔고 시뮬레이션은 여기서만
type Simulator struct {
	costs CostModel
	lot   decimal.Decimal

	cash decimal.Decimal
	// qty is signed: negative when short
	qty decimal.Decimal
	// basis is the money tied in the position: cost paid (long) or net
	// proceeds received (short)
	basis decimal.Decimal

	trades  []contracts.Trade
	fired   int
	winning int
}

// NewSimulator starts with capital in cash
func NewSimulator(capital float64, costs CostModel, lotSize float64) *Simulator {
	return &Simulator{
		costs:  costs,
		lot:    decimal.NewFromFloat(lotSize),
		cash:   decimal.NewFromFloat(capital),
		trades: make([]contracts.Trade, 0),
	}
}

// State derives the position state from the signed quantity
func (s *Simulator) State() State {
	switch s.qty.Sign() {
	case 1:
		return StateLong
	case -1:
		return StateShort
	}
	return StateFlat
}

// Equity marks the position to px
func (s *Simulator) Equity(px float64) decimal.Decimal {
	return s.cash.Add(s.qty.Mul(decimal.NewFromFloat(px)))
}

// Trades returns every fill so far
func (s *Simulator) Trades() []contracts.Trade {
	return s.trades
}

// ClosedStats reports reducing fills and how many were profitable
func (s *Simulator) ClosedStats() (closed, winning int) {
	return s.fired, s.winning
}

// Rebalance moves the position to target × equity (signed) at px.
// Crossing zero closes the old side first.
func (s *Simulator) Rebalance(day time.Time, px, target float64) {
	if px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return
	}
	equity := s.Equity(px)
	if equity.Sign() <= 0 {
		target = 0
	}

	want := s.lots(equity.Mul(decimal.NewFromFloat(target)).Div(decimal.NewFromFloat(px)))

	if !s.qty.IsZero() && (want.IsZero() || want.Sign() != s.qty.Sign()) {
		s.reduce(day, px, s.qty.Abs())
	}
	if want.IsZero() {
		return
	}

	delta := want.Sub(s.qty)
	switch {
	case want.Sign() > 0 && delta.Sign() > 0:
		s.buyOpen(day, px, delta)
	case want.Sign() > 0 && delta.Sign() < 0:
		s.reduce(day, px, delta.Abs())
	case want.Sign() < 0 && delta.Sign() < 0:
		s.sellShort(day, px, delta.Abs())
	case want.Sign() < 0 && delta.Sign() > 0:
		s.reduce(day, px, delta)
	}
}

// lots rounds q toward zero to a whole number of lots
func (s *Simulator) lots(q decimal.Decimal) decimal.Decimal {
	return q.Div(s.lot).Truncate(0).Mul(s.lot)
}

// buyOpen adds to a long position, trimming lots the cash cannot pay for
func (s *Simulator) buyOpen(day time.Time, px float64, qty decimal.Decimal) {
	fill := s.costs.Fill(contracts.ActionBuy, qty, px)
	for qty.Sign() > 0 && fill.Cash(contracts.ActionBuy).Neg().GreaterThan(s.cash) {
		qty = qty.Sub(s.lot)
		fill = s.costs.Fill(contracts.ActionBuy, qty, px)
	}
	if qty.Sign() <= 0 {
		return
	}

	s.cash = s.cash.Add(fill.Cash(contracts.ActionBuy))
	s.qty = s.qty.Add(qty)
	s.basis = s.basis.Add(fill.Value).Add(fill.Commission)
	s.record(day, contracts.ActionBuy, qty, fill, decimal.Zero, false)
}

// sellShort adds to a short position
func (s *Simulator) sellShort(day time.Time, px float64, qty decimal.Decimal) {
	fill := s.costs.Fill(contracts.ActionSell, qty, px)
	proceeds := fill.Cash(contracts.ActionSell)

	s.cash = s.cash.Add(proceeds)
	s.qty = s.qty.Sub(qty)
	s.basis = s.basis.Add(proceeds)
	s.record(day, contracts.ActionSell, qty, fill, decimal.Zero, false)
}

// reduce closes qty units of the current position and realizes PnL
func (s *Simulator) reduce(day time.Time, px float64, qty decimal.Decimal) {
	held := s.qty.Abs()
	if qty.GreaterThan(held) {
		qty = held
	}
	if qty.IsZero() {
		return
	}

	portion := s.basis.Mul(qty).Div(held)
	side := contracts.ActionSell
	if s.qty.Sign() < 0 {
		side = contracts.ActionBuy
	}
	fill := s.costs.Fill(side, qty, px)
	cash := fill.Cash(side)

	var pnl decimal.Decimal
	if side == contracts.ActionSell {
		pnl = cash.Sub(portion)
		s.qty = s.qty.Sub(qty)
	} else {
		pnl = portion.Add(cash)
		s.qty = s.qty.Add(qty)
	}
	s.cash = s.cash.Add(cash)
	s.basis = s.basis.Sub(portion)
	if s.qty.IsZero() {
		s.basis = decimal.Zero
	}

	s.fired++
	if pnl.Sign() > 0 {
		s.winning++
	}
	s.record(day, side, qty, fill, pnl.Round(2), true)
}

func (s *Simulator) record(day time.Time, side contracts.Action, qty decimal.Decimal, fill Fill, pnl decimal.Decimal, closing bool) {
	s.trades = append(s.trades, contracts.Trade{
		Date:       day,
		Side:       side,
		Quantity:   qty.InexactFloat64(),
		Price:      fill.Price.InexactFloat64(),
		Value:      fill.Value.InexactFloat64(),
		Commission: fill.Commission.InexactFloat64(),
		Tax:        fill.Tax.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
		Closing:    closing,
	})
}
