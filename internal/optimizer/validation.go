package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/wonny/altquant/internal/backtest"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
)

// SplitReport compares the in-sample best against the out-of-sample half.
// Degradation = (in - out) / |in| of the Sharpe ratio.
type SplitReport struct {
	InSample    contracts.DateRange            `json:"in_sample"`
	OutOfSample contracts.DateRange            `json:"out_of_sample"`
	Best        contracts.ParameterCombination `json:"best"`
	InSharpe    float64                        `json:"in_sample_sharpe"`
	OutSharpe   float64                        `json:"out_of_sample_sharpe"`
	Degradation float64                        `json:"degradation"`
	Overfit     bool                           `json:"overfit"`
}

// Fold is one walk-forward step
type Fold struct {
	Train      contracts.DateRange            `json:"train"`
	Test       contracts.DateRange            `json:"test"`
	Best       contracts.ParameterCombination `json:"best"`
	TrainScore float64                        `json:"train_score"`
	TestScore  float64                        `json:"test_score"`
	Error      string                         `json:"error,omitempty"`
}

// WalkForwardReport holds every fold and the mean test score over the
// Scored folds that completed
type WalkForwardReport struct {
	Folds         []Fold  `json:"folds"`
	Scored        int     `json:"scored"`
	MeanTestScore float64 `json:"mean_test_score"`
}

// SplitValidate optimizes on the first half of req.Range and replays the
// best combination on the second half. A Sharpe degradation above
// maxDegradation flags potential overfitting.
func (o *Optimizer) SplitValidate(ctx context.Context, req Request, maxDegradation float64) (*SplitReport, error) {
	if err := o.check(req); err != nil {
		return nil, err
	}
	ranges, err := splitRows(req.Data, req.Range, 2)
	if err != nil {
		return nil, err
	}
	inSample, outOfSample := ranges[0], ranges[1]

	best, inResult, err := o.bestOn(ctx, req, inSample)
	if err != nil {
		return nil, err
	}
	outResult, err := o.replay(ctx, req, best, outOfSample)
	if err != nil {
		return nil, err
	}

	report := &SplitReport{
		InSample:    inSample,
		OutOfSample: outOfSample,
		Best:        best,
		InSharpe:    inResult.Metrics.SharpeRatio,
		OutSharpe:   outResult.Metrics.SharpeRatio,
	}
	report.Degradation = degradation(report.InSharpe, report.OutSharpe)
	report.Overfit = report.Degradation > maxDegradation

	o.logger.WithFields(map[string]interface{}{
		"in_sharpe":   report.InSharpe,
		"out_sharpe":  report.OutSharpe,
		"degradation": report.Degradation,
		"overfit":     report.Overfit,
	}).Info("Out-of-sample validation completed")
	return report, nil
}

// WalkForward splits req.Range into folds+1 blocks; fold k trains on block k
// and tests the train best on block k+1
func (o *Optimizer) WalkForward(ctx context.Context, req Request, folds int) (*WalkForwardReport, error) {
	if folds < 1 {
		return nil, fmt.Errorf("walk-forward needs at least one fold, got %d", folds)
	}
	if err := o.check(req); err != nil {
		return nil, err
	}
	blocks, err := splitRows(req.Data, req.Range, folds+1)
	if err != nil {
		return nil, err
	}

	report := &WalkForwardReport{Folds: make([]Fold, 0, folds)}
	var scores []float64
	for k := 0; k < folds; k++ {
		fold := Fold{Train: blocks[k], Test: blocks[k+1]}
		best, trainResult, err := o.bestOn(ctx, req, fold.Train)
		if err != nil {
			if contracts.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			fold.Error = err.Error()
			report.Folds = append(report.Folds, fold)
			continue
		}
		fold.Best = best
		fold.TrainScore = trainResult.Score(req.Metric)

		testResult, err := o.replay(ctx, req, best, fold.Test)
		if err != nil {
			if contracts.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			fold.Error = err.Error()
		} else {
			fold.TestScore = testResult.Score(req.Metric)
			scores = append(scores, fold.TestScore)
		}
		report.Folds = append(report.Folds, fold)
	}

	report.Scored = len(scores)
	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		report.MeanTestScore = sum / float64(len(scores))
	}
	return report, nil
}

func (o *Optimizer) bestOn(ctx context.Context, req Request, r contracts.DateRange) (contracts.ParameterCombination, contracts.BacktestResult, error) {
	sub := req
	sub.Range = r
	sub.Progress = nil
	outcome, err := o.Run(ctx, sub)
	if err != nil {
		return contracts.ParameterCombination{}, contracts.BacktestResult{}, err
	}
	best, ok := Best(outcome.Ranked)
	if !ok {
		return contracts.ParameterCombination{}, contracts.BacktestResult{},
			fmt.Errorf("no successful combination in %s: %w", r.Key(), contracts.ErrInsufficientData)
	}
	return best.Params, best, nil
}

func (o *Optimizer) replay(ctx context.Context, req Request, combo contracts.ParameterCombination, r contracts.DateRange) (contracts.BacktestResult, error) {
	engine, err := backtest.NewEngine(o.engine, o.metrics, o.logger)
	if err != nil {
		return contracts.BacktestResult{}, err
	}
	strat, err := signals.New(req.Strategy, req.Options, combo, req.Indicators)
	if err != nil {
		return contracts.BacktestResult{}, err
	}
	res, err := engine.Run(ctx, strat, req.Data, r)
	if err != nil {
		return res, err
	}
	res.Params = combo
	return res, nil
}

// splitRows cuts the trading days of data inside r into n contiguous blocks
func splitRows(data *contracts.AlignedDataset, r contracts.DateRange, n int) ([]contracts.DateRange, error) {
	from := sort.Search(data.Len(), func(i int) bool { return !data.Index[i].Before(r.Start) })
	to := sort.Search(data.Len(), func(i int) bool { return data.Index[i].After(r.End) })
	rows := to - from
	if rows < 2*n {
		return nil, fmt.Errorf("%d trading days cannot form %d blocks: %w", rows, n, contracts.ErrInsufficientData)
	}

	out := make([]contracts.DateRange, n)
	for k := 0; k < n; k++ {
		lo := from + k*rows/n
		hi := from + (k+1)*rows/n - 1
		out[k] = contracts.DateRange{Start: data.Index[lo], End: data.Index[hi]}
	}
	return out, nil
}

func degradation(in, out float64) float64 {
	if in == 0 {
		if out < 0 {
			return 1
		}
		return 0
	}
	return (in - out) / math.Abs(in)
}
