package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/wonny/altquant/internal/contracts"
)

// Sensitivity sweeps parameter over its grid holding every other parameter
// at best's value, and returns the pairs in sweep order
// ⭐ SSOT: 단일 파라미터 민감도 분석
func (o *Optimizer) Sensitivity(ctx context.Context, req Request, best contracts.ParameterCombination, parameter string) (*contracts.SensitivityReport, error) {
	if err := o.check(req); err != nil {
		return nil, err
	}
	r, ok := req.Grid[parameter]
	if !ok {
		return nil, fmt.Errorf("%w: parameter %q not in grid", contracts.ErrInvalidGrid, parameter)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	values := r.Values()
	combos := make([]contracts.ParameterCombination, len(values))
	for i, v := range values {
		combos[i] = best.With(i, parameter, v)
	}

	sweep := req
	sweep.Progress = nil
	sweep.KeepDetails = false
	results, err := o.evaluateAll(ctx, sweep, combos, o.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Params.Index < results[j].Params.Index })

	report := &contracts.SensitivityReport{
		Parameter:    parameter,
		Metric:       req.Metric,
		Values:       values,
		MetricValues: make([]float64, len(values)),
		Anchor:       best,
	}
	var failures []string
	for i, res := range results {
		if res.Failed() {
			report.MetricValues[i] = math.NaN()
			failures = append(failures, fmt.Sprintf("%s=%g: %s", parameter, values[i], res.Error))
			continue
		}
		v, err := res.Metrics.Value(req.Metric)
		if err != nil {
			return nil, err
		}
		report.MetricValues[i] = v
	}
	report.Errors = failures

	o.logger.WithFields(map[string]interface{}{
		"parameter": parameter,
		"points":    len(values),
		"failed":    len(failures),
	}).Info("Sensitivity sweep completed")
	return report, nil
}
