package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/wonny/altquant/internal/contracts"
)

// CostConfig holds trading cost rates
type CostConfig struct {
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate" default:"0.00015" validate:"gte=0,lt=1"`
	MinCommission  float64 `yaml:"min_commission" json:"min_commission" validate:"gte=0"`
	// StampDutyRate applies to sell fills only (증권거래세)
	StampDutyRate float64 `yaml:"stamp_duty_rate" json:"stamp_duty_rate" default:"0.0018" validate:"gte=0,lt=1"`
	SlippageRate  float64 `yaml:"slippage_rate" json:"slippage_rate" validate:"gte=0,lt=1"`
}

// Fill is the priced result of one order
type Fill struct {
	Price      decimal.Decimal
	Value      decimal.Decimal
	Commission decimal.Decimal
	Tax        decimal.Decimal
}

// Cash is the signed cash impact: buys pay value + costs, sells receive value - costs
func (f Fill) Cash(side contracts.Action) decimal.Decimal {
	if side == contracts.ActionBuy {
		return f.Value.Add(f.Commission).Add(f.Tax).Neg()
	}
	return f.Value.Sub(f.Commission).Sub(f.Tax)
}

// CostModel prices fills; money is rounded to cents
type CostModel struct {
	commission decimal.Decimal
	minimum    decimal.Decimal
	stampDuty  decimal.Decimal
	slippage   decimal.Decimal
}

// NewCostModel converts cfg rates to decimals
func NewCostModel(cfg CostConfig) CostModel {
	return CostModel{
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		minimum:    decimal.NewFromFloat(cfg.MinCommission),
		stampDuty:  decimal.NewFromFloat(cfg.StampDutyRate),
		slippage:   decimal.NewFromFloat(cfg.SlippageRate),
	}
}

// Fill prices qty units of side at px
func (m CostModel) Fill(side contracts.Action, qty decimal.Decimal, px float64) Fill {
	one := decimal.NewFromInt(1)
	price := decimal.NewFromFloat(px)
	if side == contracts.ActionBuy {
		price = price.Mul(one.Add(m.slippage))
	} else {
		price = price.Mul(one.Sub(m.slippage))
	}

	value := qty.Mul(price).Round(2)
	commission := decimal.Max(m.minimum, value.Mul(m.commission)).Round(2)
	tax := decimal.Zero
	if side == contracts.ActionSell {
		tax = value.Mul(m.stampDuty).Round(2)
	}
	return Fill{Price: price, Value: value, Commission: commission, Tax: tax}
}
