package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/altquant/internal/contracts"
)

// Enumerate returns the Cartesian product of grid in canonical order:
// parameters sorted by name, the last name varying fastest. Index is the
// position in that order.
func Enumerate(grid contracts.ParameterGrid, maxCombinations int) ([]contracts.ParameterCombination, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	total := grid.Size()
	if maxCombinations > 0 && total > maxCombinations {
		return nil, fmt.Errorf("%w: more than %d combinations", contracts.ErrInvalidGrid, maxCombinations)
	}
	if total == math.MaxInt {
		return nil, fmt.Errorf("%w: combination count overflows", contracts.ErrInvalidGrid)
	}

	names := grid.Names()
	values := make([][]float64, len(names))
	for i, name := range names {
		values[i] = grid[name].Values()
	}

	out := make([]contracts.ParameterCombination, total)
	odometer := make([]int, len(names))
	for idx := 0; idx < total; idx++ {
		params := make([]contracts.Param, len(names))
		for i, name := range names {
			params[i] = contracts.Param{Name: name, Value: values[i][odometer[i]]}
		}
		out[idx] = contracts.ParameterCombination{Index: idx, Params: params}

		for i := len(names) - 1; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(values[i]) {
				break
			}
			odometer[i] = 0
		}
	}
	return out, nil
}

// Rank sorts results by metric score (descending) with the combination
// index as tie-break, then assigns 1-based ranks
// ⭐ SSOT: 결과 순위 규칙 (완료 순서와 무관)
func Rank(results []contracts.BacktestResult, metric contracts.Metric) []contracts.RankedResult {
	sorted := make([]contracts.BacktestResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Score(metric), sorted[j].Score(metric)
		if si != sj {
			return si > sj
		}
		return sorted[i].Params.Index < sorted[j].Params.Index
	})

	ranked := make([]contracts.RankedResult, len(sorted))
	for i, r := range sorted {
		ranked[i] = contracts.RankedResult{Rank: i + 1, Result: r}
	}
	return ranked
}

// Best is the top successful result
func Best(ranked []contracts.RankedResult) (contracts.BacktestResult, bool) {
	if len(ranked) == 0 || ranked[0].Result.Failed() {
		return contracts.BacktestResult{}, false
	}
	return ranked[0].Result, true
}
