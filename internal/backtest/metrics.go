package backtest

import (
	"math"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/stats"
)

// DailyReturns of an equity curve; empty for fewer than two points
func DailyReturns(curve []contracts.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// Sharpe = mean(excess) / std(excess) × √annualization, with the annual
// risk-free rate spread evenly over the periods. 0 when std is 0 or undefined.
func Sharpe(returns []float64, riskFree, annualization float64) float64 {
	excess := excessReturns(returns, riskFree, annualization)
	std := stats.SampleStd(excess)
	if math.IsNaN(std) || std == 0 {
		return 0
	}
	return stats.Mean(excess) / std * math.Sqrt(annualization)
}

// Sortino uses the downside deviation sqrt(mean(min(0, excess)²))
func Sortino(returns []float64, riskFree, annualization float64) float64 {
	excess := excessReturns(returns, riskFree, annualization)
	if len(excess) == 0 {
		return 0
	}
	ss := 0.0
	for _, r := range excess {
		if r < 0 {
			ss += r * r
		}
	}
	downside := math.Sqrt(ss / float64(len(excess)))
	if downside == 0 {
		return 0
	}
	return stats.Mean(excess) / downside * math.Sqrt(annualization)
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak
func MaxDrawdown(curve []contracts.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	maxDrawdown := 0.0
	peak := curve[0].Equity
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - point.Equity) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

func excessReturns(returns []float64, riskFree, annualization float64) []float64 {
	perPeriod := riskFree / annualization
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - perPeriod
	}
	return out
}

// ComputeMetrics derives every BacktestMetrics field from the full curve
func ComputeMetrics(curve []contracts.EquityPoint, initialCapital float64, closed, winning int, riskFree, annualization float64) contracts.BacktestMetrics {
	m := contracts.BacktestMetrics{TradeCount: closed, WinningTrades: winning}
	if closed > 0 {
		m.WinRate = float64(winning) / float64(closed)
	}
	if len(curve) < 2 || curve[0].Equity <= 0 {
		return m
	}

	// 기준: 초기 자본 (첫날 체결 비용 포함)
	first, last := initialCapital, curve[len(curve)-1].Equity
	if first <= 0 {
		first = curve[0].Equity
	}
	m.TotalReturn = last/first - 1

	returns := DailyReturns(curve)
	periods := float64(len(returns))
	if last > 0 {
		m.AnnualizedReturn = math.Pow(last/first, annualization/periods) - 1
	} else {
		m.AnnualizedReturn = -1
	}

	if std := stats.SampleStd(returns); !math.IsNaN(std) {
		m.Volatility = std * math.Sqrt(annualization)
	}
	m.SharpeRatio = Sharpe(returns, riskFree, annualization)
	m.SortinoRatio = Sortino(returns, riskFree, annualization)
	m.MaxDrawdown = MaxDrawdown(curve)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	// JSON cannot carry NaN or Inf
	for _, v := range []*float64{&m.TotalReturn, &m.AnnualizedReturn, &m.Volatility, &m.SharpeRatio, &m.SortinoRatio, &m.CalmarRatio} {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	return m
}
