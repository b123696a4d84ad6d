package research

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/optimizer"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/pkg/validate"
)

// ErrRunNotCompleted is returned for sweeps on a run without final results
var ErrRunNotCompleted = errors.New("optimization run not completed")

// ErrNoAlternativeData is returned when every indicator of an alt-data
// strategy failed to load
var ErrNoAlternativeData = errors.New("no alternative data")

const defaultMaxDegradation = 0.3

// resolve fills req from its preset and checks it before anything is stored
func (s *Service) resolve(req StartRequest) (plan, error) {
	if err := validate.Check(context.Background(), &req); err != nil {
		return plan{}, err
	}

	p := plan{req: req, backtest: s.cfg.Backtest, validation: defaultMaxDegradation}
	if req.Preset != "" {
		if s.presets == nil {
			return plan{}, fmt.Errorf("%w: %q", contracts.ErrPresetNotFound, req.Preset)
		}
		preset, hash, err := s.presets.Get(req.Preset)
		if err != nil {
			return plan{}, err
		}
		p.hash = hash
		p.options = preset.Options
		p.backtest = preset.Backtest
		p.validation = preset.MaxDegradation

		if p.req.Strategy == "" {
			p.req.Strategy = preset.Strategy
		}
		if len(p.req.Grid) == 0 {
			p.req.Grid = preset.ParameterGrid()
		}
		if p.req.Metric == "" {
			p.req.Metric = preset.ParsedMetric()
		}
		if len(p.req.Indicators) == 0 {
			p.req.Indicators = append([]string(nil), preset.Indicators...)
		}
		if p.req.Workers == 0 {
			p.req.Workers = preset.Workers
		}
		if p.req.Timeout == 0 {
			p.req.Timeout = preset.Timeout
		}
	}
	if p.req.Metric == "" {
		p.req.Metric = contracts.MetricSharpe
	}

	if _, err := contracts.ParseMetric(string(p.req.Metric)); err != nil {
		return plan{}, err
	}
	if !signals.Known(p.req.Strategy) {
		return plan{}, fmt.Errorf("%w: %q", contracts.ErrUnknownStrategy, p.req.Strategy)
	}
	if len(p.req.Grid) == 0 {
		return plan{}, fmt.Errorf("%w: empty grid", contracts.ErrInvalidGrid)
	}
	if err := p.req.Grid.Validate(); err != nil {
		return plan{}, err
	}
	size := p.req.Grid.Size()
	if size == math.MaxInt {
		return plan{}, fmt.Errorf("%w: combination count overflows", contracts.ErrInvalidGrid)
	}
	if limit := s.cfg.Optimizer.MaxCombinations; limit > 0 && size > limit {
		return plan{}, fmt.Errorf("%w: %d combinations exceed %d", contracts.ErrInvalidGrid, size, limit)
	}
	if err := p.req.Range.Validate(); err != nil {
		return plan{}, err
	}
	// indicator arity is checked by the variant constructor
	if _, err := signals.New(p.req.Strategy, p.options, contracts.ParameterCombination{}, p.req.Indicators); err != nil {
		return plan{}, err
	}
	return p, nil
}

// replan rebuilds the plan of a stored run
func (s *Service) replan(run *contracts.OptimizationRun) (plan, error) {
	p, err := s.resolve(StartRequest{
		Strategy:   run.Strategy,
		Symbol:     run.Symbol,
		Indicators: run.Spec.Indicators,
		Grid:       run.Spec.Grid,
		Metric:     run.Metric,
		Range:      run.Range,
		Preset:     run.Preset,
		Workers:    run.Spec.Workers,
	})
	if err != nil {
		return plan{}, err
	}
	if run.PresetHash != "" && p.hash != run.PresetHash {
		s.logger.WithFields(map[string]interface{}{
			"run_id":      run.ID,
			"preset":      run.Preset,
			"stored_hash": run.PresetHash,
			"loaded_hash": p.hash,
		}).Warn("Preset changed since the run; replaying with the current preset")
	}
	return p, nil
}

func (p plan) request(data *contracts.AlignedDataset) optimizer.Request {
	return optimizer.Request{
		Strategy:   p.req.Strategy,
		Options:    p.options,
		Indicators: p.req.Indicators,
		Grid:       p.req.Grid,
		Data:       data,
		Range:      p.req.Range,
		Metric:     p.req.Metric,
		Workers:    p.req.Workers,
		Timeout:    p.req.Timeout,
	}
}

// GetSensitivity sweeps parameter around the best result of a completed run
func (s *Service) GetSensitivity(ctx context.Context, runID, parameter string) (*contracts.SensitivityReport, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != contracts.RunStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotCompleted, runID, run.Status)
	}
	ranked, err := s.store.GetResults(ctx, runID, 1)
	if err != nil {
		return nil, err
	}
	best, ok := optimizer.Best(ranked)
	if !ok {
		return nil, fmt.Errorf("run %s has no successful result: %w", runID, contracts.ErrInsufficientData)
	}

	p, err := s.replan(run)
	if err != nil {
		return nil, err
	}
	data, _, err := s.loadData(ctx, p.req)
	if err != nil {
		return nil, err
	}

	opt := optimizer.New(s.cfg.Optimizer, p.backtest, s.metrics, s.logger)
	report, err := opt.Sensitivity(ctx, p.request(data), best.Params, parameter)
	if err != nil {
		return nil, err
	}
	report.RunID = runID
	return report, nil
}

// SplitValidate optimizes on the first half of the range and replays the
// best combination on the second half, synchronously
func (s *Service) SplitValidate(ctx context.Context, req StartRequest) (*optimizer.SplitReport, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	data, _, err := s.loadData(ctx, p.req)
	if err != nil {
		return nil, err
	}
	opt := optimizer.New(s.cfg.Optimizer, p.backtest, s.metrics, s.logger)
	return opt.SplitValidate(ctx, p.request(data), p.validation)
}

// WalkForward runs rolling train/test folds synchronously
func (s *Service) WalkForward(ctx context.Context, req StartRequest, folds int) (*optimizer.WalkForwardReport, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	data, _, err := s.loadData(ctx, p.req)
	if err != nil {
		return nil, err
	}
	opt := optimizer.New(s.cfg.Optimizer, p.backtest, s.metrics, s.logger)
	return opt.WalkForward(ctx, p.request(data), folds)
}
