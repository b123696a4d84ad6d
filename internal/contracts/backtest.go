package contracts

import (
	"fmt"
	"math"
	"time"
)

// Metric names accepted for ranking
type Metric string

const (
	MetricTotalReturn      Metric = "total_return"
	MetricAnnualizedReturn Metric = "annualized_return"
	MetricSharpe           Metric = "sharpe_ratio"
	MetricSortino          Metric = "sortino_ratio"
	MetricCalmar           Metric = "calmar_ratio"
	MetricMaxDrawdown      Metric = "max_drawdown"
	MetricWinRate          Metric = "win_rate"
	MetricTradeCount       Metric = "trade_count"
)

// Metrics lists every rankable metric
func Metrics() []Metric {
	return []Metric{
		MetricTotalReturn, MetricAnnualizedReturn, MetricSharpe, MetricSortino,
		MetricCalmar, MetricMaxDrawdown, MetricWinRate, MetricTradeCount,
	}
}

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// EquityPoint is one day of the equity curve
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Trade is one executed fill
type Trade struct {
	Date       time.Time `json:"date"`
	Side       Action    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"`
	Commission float64   `json:"commission"`
	Tax        float64   `json:"tax"`
	PnL        float64   `json:"pnl"`     // realized, reducing fills only
	Closing    bool      `json:"closing"` // true when the fill reduced exposure
}

// BacktestMetrics are the performance figures of one run
type BacktestMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	TradeCount       int     `json:"trade_count"`
	WinningTrades    int     `json:"winning_trades"`
}

// Value returns the raw value of metric m
func (m BacktestMetrics) Value(metric Metric) (float64, error) {
	switch metric {
	case MetricTotalReturn:
		return m.TotalReturn, nil
	case MetricAnnualizedReturn:
		return m.AnnualizedReturn, nil
	case MetricSharpe:
		return m.SharpeRatio, nil
	case MetricSortino:
		return m.SortinoRatio, nil
	case MetricCalmar:
		return m.CalmarRatio, nil
	case MetricMaxDrawdown:
		return m.MaxDrawdown, nil
	case MetricWinRate:
		return m.WinRate, nil
	case MetricTradeCount:
		return float64(m.TradeCount), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
}

// BacktestResult is produced once per (strategy, combination, date range).
// A non-empty Error marks a failed combination; its metrics are zero.
type BacktestResult struct {
	Strategy    string               `json:"strategy"`
	Params      ParameterCombination `json:"params"`
	Range       DateRange            `json:"range"`
	Metrics     BacktestMetrics      `json:"metrics"`
	EquityCurve []EquityPoint        `json:"equity_curve,omitempty"`
	Trades      []Trade              `json:"trades,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Failed reports whether the combination could not be evaluated
func (r BacktestResult) Failed() bool {
	return r.Error != ""
}

// FailedResult tags a combination as failed with a reason
func FailedResult(strategy string, params ParameterCombination, r DateRange, err error) BacktestResult {
	return BacktestResult{Strategy: strategy, Params: params, Range: r, Error: err.Error()}
}

// Score is the ranking key for metric: higher is better.
// max_drawdown ranks by its negation; failed results score -Inf.
func (r BacktestResult) Score(metric Metric) float64 {
	if r.Failed() {
		return math.Inf(-1)
	}
	v, err := r.Metrics.Value(metric)
	if err != nil || math.IsNaN(v) {
		return math.Inf(-1)
	}
	if metric == MetricMaxDrawdown {
		return -v
	}
	return v
}

// RankedResult is a BacktestResult with its 1-based rank
type RankedResult struct {
	Rank   int            `json:"rank"`
	Result BacktestResult `json:"result"`
}
