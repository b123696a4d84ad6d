package optimizer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wonny/altquant/internal/backtest"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/metrics"
)

// Config holds optimizer limits
type Config struct {
	DefaultWorkers  int           `yaml:"default_workers" json:"default_workers" default:"4" validate:"gte=1"`
	MaxCombinations int           `yaml:"max_combinations" json:"max_combinations" default:"100000" validate:"gte=1"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// Request is one grid search
type Request struct {
	Strategy   string
	Options    signals.Options
	Indicators []string
	Grid       contracts.ParameterGrid
	Data       *contracts.AlignedDataset
	Range      contracts.DateRange
	Metric     contracts.Metric
	// Workers is capped by the CPU count; 0 uses the default
	Workers int
	// Timeout overrides Config.Timeout when positive
	Timeout time.Duration
	// KeepDetails retains equity curves and trades on every result
	KeepDetails bool
	// Progress is called once per finished combination, never concurrently
	Progress func(contracts.BacktestResult)
}

// Outcome is the ranked output of a grid search
type Outcome struct {
	Ranked    []contracts.RankedResult
	Total     int
	Completed int
	Failed    int
	Partial   bool
	Duration  time.Duration
}

// Optimizer runs grid searches over a worker pool
// ⭐ SSOT: 파라미터 그리드 최적화는 여기서만
type Optimizer struct {
	cfg     Config
	engine  backtest.Config
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// New creates an optimizer; every worker gets its own engine built from engineCfg
func New(cfg Config, engineCfg backtest.Config, rec *metrics.Recorder, log *logger.Logger) *Optimizer {
	if cfg.DefaultWorkers < 1 {
		cfg.DefaultWorkers = 1
	}
	return &Optimizer{cfg: cfg, engine: engineCfg, metrics: rec, logger: log.WithComponent("optimizer")}
}

// Workers resolves the pool degree for a request
func (o *Optimizer) Workers(requested, jobs int) int {
	n := requested
	if n <= 0 {
		n = o.cfg.DefaultWorkers
	}
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run evaluates every combination of req.Grid. A failing combination
// becomes a failed result. On timeout the completed results are returned
// with Partial set and an *OptimizationTimeoutError.
func (o *Optimizer) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := o.check(req); err != nil {
		return nil, err
	}
	combos, err := Enumerate(req.Grid, o.cfg.MaxCombinations)
	if err != nil {
		return nil, err
	}

	timeout := o.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	o.logger.WithFields(map[string]interface{}{
		"strategy":     req.Strategy,
		"combinations": len(combos),
		"workers":      o.Workers(req.Workers, len(combos)),
		"metric":       req.Metric,
		"timeout":      timeout.String(),
	}).Info("Starting optimization")

	startTime := time.Now()
	results, err := o.evaluateAll(ctx, req, combos, timeout)
	outcome := &Outcome{
		Ranked:    Rank(results, req.Metric),
		Total:     len(combos),
		Completed: len(results),
		Partial:   len(results) < len(combos),
		Duration:  time.Since(startTime),
	}
	for _, r := range results {
		if r.Failed() {
			outcome.Failed++
		}
	}

	o.logger.WithFields(map[string]interface{}{
		"strategy":  req.Strategy,
		"completed": outcome.Completed,
		"failed":    outcome.Failed,
		"total":     outcome.Total,
		"partial":   outcome.Partial,
		"duration":  outcome.Duration.String(),
	}).Info("Optimization completed")

	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (o *Optimizer) check(req Request) error {
	if !signals.Known(req.Strategy) {
		return fmt.Errorf("%w: %q", contracts.ErrUnknownStrategy, req.Strategy)
	}
	if _, err := contracts.ParseMetric(string(req.Metric)); err != nil {
		return err
	}
	if req.Data == nil || req.Data.Len() == 0 {
		return fmt.Errorf("optimization needs data: %w", contracts.ErrInsufficientData)
	}
	return req.Range.Validate()
}

// outcome of one worker job
type evaluated struct {
	result contracts.BacktestResult
	fatal  error
	// abandoned: cancelled mid-run, not a result
	abandoned bool
}

// evaluateAll runs combos on the pool and returns results in completion order
func (o *Optimizer) evaluateAll(parent context.Context, req Request, combos []contracts.ParameterCombination, timeout time.Duration) ([]contracts.BacktestResult, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	workers := o.Workers(req.Workers, len(combos))
	jobs := make(chan contracts.ParameterCombination)
	resultCh := make(chan evaluated, workers)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workers; i++ {
		engine, err := backtest.NewEngine(o.engine, o.metrics, o.logger)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for combo := range jobs {
				ev := o.evaluate(ctx, engine, req, combo)
				select {
				case resultCh <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Send jobs
	go func() {
		defer close(jobs)
		for _, combo := range combos {
			select {
			case jobs <- combo:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait and close results
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Collect results
	results := make([]contracts.BacktestResult, 0, len(combos))
	var fatal error
	for ev := range resultCh {
		if ev.fatal != nil {
			if fatal == nil {
				fatal = ev.fatal
				cancel()
			}
			continue
		}
		if ev.abandoned || fatal != nil {
			continue
		}
		results = append(results, ev.result)
		o.metrics.RecordCombination(req.Strategy, ev.result.Failed())
		if req.Progress != nil {
			req.Progress(ev.result)
		}
	}

	switch {
	case fatal != nil:
		return results, fatal
	case parent.Err() != nil:
		return results, parent.Err()
	case len(results) < len(combos) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		o.logger.WithFields(map[string]interface{}{
			"completed": len(results),
			"total":     len(combos),
			"timeout":   timeout.String(),
		}).Warn("Optimization timed out")
		return results, &contracts.OptimizationTimeoutError{Timeout: timeout, Completed: len(results), Total: len(combos)}
	}
	return results, nil
}

// evaluate runs one combination; panics and errors become failed results
func (o *Optimizer) evaluate(ctx context.Context, engine *backtest.Engine, req Request, combo contracts.ParameterCombination) (ev evaluated) {
	if ctx.Err() != nil {
		return evaluated{abandoned: true}
	}
	defer func() {
		if r := recover(); r != nil {
			err := &contracts.BacktestExecutionError{Combination: combo.Key(), Err: fmt.Errorf("panic: %v", r)}
			o.logger.WithFields(map[string]interface{}{
				"combination": combo.Key(),
				"stack":       string(debug.Stack()),
			}).Error("Backtest panicked")
			ev = evaluated{result: contracts.FailedResult(req.Strategy, combo, req.Range, err)}
		}
	}()

	strat, err := signals.New(req.Strategy, req.Options, combo, req.Indicators)
	if err != nil {
		return o.failed(req, combo, err)
	}
	result, err := engine.Run(ctx, strat, req.Data, req.Range)
	if err != nil {
		if contracts.IsFatal(err) {
			return evaluated{fatal: err}
		}
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return evaluated{abandoned: true}
		}
		return o.failed(req, combo, err)
	}

	result.Strategy = req.Strategy
	result.Params = combo
	if !req.KeepDetails {
		result.EquityCurve = nil
		result.Trades = nil
	}
	return evaluated{result: result}
}

func (o *Optimizer) failed(req Request, combo contracts.ParameterCombination, err error) evaluated {
	wrapped := &contracts.BacktestExecutionError{Combination: combo.Key(), Err: err}
	o.logger.WithError(wrapped).Debug("Combination failed")
	return evaluated{result: contracts.FailedResult(req.Strategy, combo, req.Range, wrapped)}
}
