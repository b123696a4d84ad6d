package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/metrics"
	"github.com/wonny/altquant/pkg/validate"
)

// Config holds backtest configuration
type Config struct {
	InitialCapital float64    `yaml:"initial_capital" json:"initial_capital" default:"100000000" validate:"gt=0"`
	Costs          CostConfig `yaml:"costs" json:"costs"`
	LotSize        float64    `yaml:"lot_size" json:"lot_size" default:"1" validate:"gt=0"`

	// Sizing
	StrongThreshold float64 `yaml:"strong_threshold" json:"strong_threshold" default:"0.6" validate:"gt=0,lte=1"`
	ReducedFraction float64 `yaml:"reduced_fraction" json:"reduced_fraction" default:"0.3" validate:"gt=0,lte=1"`
	AllowShort      bool    `yaml:"allow_short" json:"allow_short"`

	// FillDelay executes a decision k trading days later at that day's close
	FillDelay     int  `yaml:"fill_delay" json:"fill_delay" validate:"gte=0"`
	KeepOpenAtEnd bool `yaml:"keep_open_at_end" json:"keep_open_at_end"`

	RiskFreeRate        float64 `yaml:"risk_free_rate" json:"risk_free_rate"`
	AnnualizationFactor float64 `yaml:"annualization_factor" json:"annualization_factor" default:"252" validate:"gt=0"`
}

// Engine runs one strategy over one dataset. Engines hold no per-run
// state, so one instance per worker is enough.
// ⭐ SSOT: 백테스팅 실행은 여기서만
type Engine struct {
	cfg      Config
	costs    CostModel
	combiner *Combiner
	metrics  *metrics.Recorder
	logger   *logger.Logger
}

// NewEngine validates cfg. rec may be nil.
func NewEngine(cfg Config, rec *metrics.Recorder, log *logger.Logger) (*Engine, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		costs:    NewCostModel(cfg.Costs),
		combiner: NewCombiner(cfg),
		metrics:  rec,
		logger:   log.WithComponent("backtest"),
	}, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// order is a target exposure waiting for its fill day
type order struct {
	row    int
	target float64
}

// Run simulates strat on the rows of data inside r. Rows before r.Start
// are visible to the strategy as history but are not traded.
func (e *Engine) Run(ctx context.Context, strat signals.Strategy, data *contracts.AlignedDataset, r contracts.DateRange) (contracts.BacktestResult, error) {
	startTime := time.Now()
	result := contracts.BacktestResult{Strategy: strat.Name(), Range: r}

	from := sort.Search(data.Len(), func(i int) bool { return !data.Index[i].Before(r.Start) })
	to := sort.Search(data.Len(), func(i int) bool { return data.Index[i].After(r.End) }) - 1
	if to-from+1 < 2 {
		return result, fmt.Errorf("%d trading days in %s: %w", to-from+1, r.Key(), contracts.ErrInsufficientData)
	}
	if strat.Warmup() >= to+1 {
		return result, fmt.Errorf("warmup of %d rows exceeds %d available: %w", strat.Warmup(), to+1, contracts.ErrInsufficientData)
	}
	if err := e.checkVisibility(strat, data, to); err != nil {
		return result, err
	}

	prices := data.Prices()
	sim := NewSimulator(e.cfg.InitialCapital, e.costs, e.cfg.LotSize)
	curve := make([]contracts.EquityPoint, 0, to-from+1)
	var pending []order
	planned := 0.0
	lastClose := math.NaN()

	for i := from; i <= to; i++ {
		if (i-from)%64 == 0 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
		}
		day := data.Index[i]
		if px := prices[i]; !math.IsNaN(px) && px > 0 {
			lastClose = px
		}

		// 1. evaluate signal on rows [0, i]
		d := e.evaluate(strat, data, i)
		if err := checkSignalTime(day, d); err != nil {
			return result, err
		}
		combined := e.combiner.Combine(d)

		// 2. check existing position and plan the new exposure
		if target, ok := e.nextTarget(planned, combined); ok {
			planned = target
			pending = append(pending, order{row: i + e.cfg.FillDelay, target: target})
		}

		// 3. execute due orders at today's close, applying costs
		if !math.IsNaN(lastClose) {
			remaining := pending[:0]
			for _, o := range pending {
				if o.row > i {
					remaining = append(remaining, o)
					continue
				}
				sim.Rebalance(day, lastClose, o.target)
			}
			pending = remaining

			if i == to && !e.cfg.KeepOpenAtEnd && sim.State() != StateFlat {
				sim.Rebalance(day, lastClose, 0)
			}
		}

		// 4. mark to market
		equity := e.cfg.InitialCapital
		if !math.IsNaN(lastClose) {
			equity = sim.Equity(lastClose).InexactFloat64()
		}
		curve = append(curve, contracts.EquityPoint{Date: day, Equity: equity})
	}

	closed, winning := sim.ClosedStats()
	result.Metrics = ComputeMetrics(curve, e.cfg.InitialCapital, closed, winning, e.cfg.RiskFreeRate, e.cfg.AnnualizationFactor)
	result.EquityCurve = curve
	result.Trades = sim.Trades()

	elapsed := time.Since(startTime)
	e.metrics.RecordBacktest(elapsed.Seconds())
	e.logger.WithFields(map[string]interface{}{
		"strategy":     result.Strategy,
		"trading_days": len(curve),
		"trades":       len(result.Trades),
		"total_return": fmt.Sprintf("%.2f%%", result.Metrics.TotalReturn*100),
		"sharpe_ratio": fmt.Sprintf("%.2f", result.Metrics.SharpeRatio),
		"max_drawdown": fmt.Sprintf("%.2f%%", result.Metrics.MaxDrawdown*100),
	}).Debug("Backtest completed")

	return result, nil
}

func (e *Engine) evaluate(strat signals.Strategy, data *contracts.AlignedDataset, i int) signals.Decision {
	if i < strat.Warmup() {
		return signals.Decision{Price: contracts.Hold(data.Index[i], signals.SourcePrice)}
	}
	return strat.Generate(signals.NewWindow(data, i))
}

// nextTarget is the state machine: it returns the signed exposure to move to
func (e *Engine) nextTarget(current float64, c Combined) (float64, bool) {
	switch c.Action {
	case contracts.ActionBuy:
		// NO_POSITION/SHORT → LONG, or a reduced LONG upgraded to full
		if current >= c.Size {
			return 0, false
		}
		return c.Size, true
	case contracts.ActionSell:
		if !e.cfg.AllowShort {
			// LONG → NO_POSITION; SELL while flat is a no-op
			if current <= 0 {
				return 0, false
			}
			return 0, true
		}
		if current <= -c.Size {
			return 0, false
		}
		return -c.Size, true
	}
	return 0, false
}

// checkVisibility re-verifies every value the strategy can read against
// its trading day
func (e *Engine) checkVisibility(strat signals.Strategy, data *contracts.AlignedDataset, to int) error {
	names := append([]string{contracts.PriceSeriesName}, strat.Indicators()...)
	for _, name := range names {
		s, ok := data.Series[name]
		if !ok {
			continue
		}
		for i := 0; i <= to && i < s.Len(); i++ {
			p := s.Points[i]
			day := data.Index[i]
			if !p.Released.IsZero() && p.Released.After(day) {
				return &contracts.LookAheadViolation{Component: "backtest", Series: name, At: day, SourceTime: p.Released}
			}
			if !p.AsOf.IsZero() && contracts.Day(p.AsOf).After(day) {
				return &contracts.LookAheadViolation{Component: "backtest", Series: name, At: day, SourceTime: p.AsOf}
			}
		}
	}
	return nil
}

func checkSignalTime(day time.Time, d signals.Decision) error {
	if d.Price.Time.After(day) {
		return &contracts.LookAheadViolation{Component: "backtest", Series: d.Price.Source, At: day, SourceTime: d.Price.Time}
	}
	if d.Alt != nil && d.Alt.Time.After(day) {
		return &contracts.LookAheadViolation{Component: "backtest", Series: d.Alt.Source, At: day, SourceTime: d.Alt.Time}
	}
	return nil
}
