package contracts

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParameterRange declares the grid of one parameter: Min, Min+Step, ... <= Max
type ParameterRange struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

const gridTolerance = 1e-9

// MaxRangeValues bounds the number of values a single range may declare
const MaxRangeValues = 1_000_000

// Validate rejects empty, non-terminating or oversized ranges
func (r ParameterRange) Validate() error {
	_, err := r.Count()
	return err
}

// Count is the number of grid values, computed without allocating them
func (r ParameterRange) Count() (int, error) {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsNaN(r.Step) {
		return 0, fmt.Errorf("%w: NaN bound", ErrInvalidGrid)
	}
	if math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) || math.IsInf(r.Step, 0) {
		return 0, fmt.Errorf("%w: infinite bound", ErrInvalidGrid)
	}
	if r.Max < r.Min {
		return 0, fmt.Errorf("%w: max %g < min %g", ErrInvalidGrid, r.Max, r.Min)
	}
	if r.Max == r.Min {
		return 1, nil
	}
	if r.Step <= 0 {
		return 0, fmt.Errorf("%w: step must be positive", ErrInvalidGrid)
	}
	n := math.Floor((r.Max-r.Min)/r.Step+gridTolerance) + 1
	if math.IsNaN(n) || math.IsInf(n, 0) || n > MaxRangeValues {
		return 0, fmt.Errorf("%w: step %g yields more than %d values", ErrInvalidGrid, r.Step, MaxRangeValues)
	}
	return int(n), nil
}

// Values enumerates the grid, rounding away accumulated float error.
// An invalid range yields nil.
func (r ParameterRange) Values() []float64 {
	n, err := r.Count()
	if err != nil {
		return nil
	}
	if n == 1 {
		return []float64{r.Min}
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = roundGrid(r.Min + float64(k)*r.Step)
	}
	return out
}

func roundGrid(v float64) float64 {
	const scale = 1e10
	return math.Round(v*scale) / scale
}

// ParameterGrid maps parameter name to its declared range
type ParameterGrid map[string]ParameterRange

// Names returns parameter names in canonical (lexicographic) order
func (g ParameterGrid) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every range
func (g ParameterGrid) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("%w: empty grid", ErrInvalidGrid)
	}
	for _, name := range g.Names() {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty parameter name", ErrInvalidGrid)
		}
		if err := g[name].Validate(); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	return nil
}

// Size is the number of combinations in the Cartesian product. It
// saturates at math.MaxInt and counts an invalid range as zero values.
func (g ParameterGrid) Size() int {
	if len(g) == 0 {
		return 0
	}
	size := 1
	for _, name := range g.Names() {
		n, err := g[name].Count()
		if err != nil {
			return 0
		}
		if size > math.MaxInt/n {
			return math.MaxInt
		}
		size *= n
	}
	return size
}

// Param is one name/value pair of a combination
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ParameterCombination is one immutable point of a grid.
// Params are sorted by name; Index is the canonical ordinal in the grid.
type ParameterCombination struct {
	Index  int     `json:"index"`
	Params []Param `json:"params"`
}

// NewParameterCombination builds a combination from a map (Index -1 = off-grid)
func NewParameterCombination(index int, values map[string]float64) ParameterCombination {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, len(names))
	for i, name := range names {
		params[i] = Param{Name: name, Value: values[name]}
	}
	return ParameterCombination{Index: index, Params: params}
}

// Get returns the value of name
func (c ParameterCombination) Get(name string) (float64, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// Float returns the value of name or def
func (c ParameterCombination) Float(name string, def float64) float64 {
	if v, ok := c.Get(name); ok {
		return v
	}
	return def
}

// Int returns the rounded value of name or def
func (c ParameterCombination) Int(name string, def int) int {
	if v, ok := c.Get(name); ok {
		return int(math.Round(v))
	}
	return def
}

// Map returns a copy as a plain map
func (c ParameterCombination) Map() map[string]float64 {
	out := make(map[string]float64, len(c.Params))
	for _, p := range c.Params {
		out[p.Name] = p.Value
	}
	return out
}

// With returns a new combination with name set to value
func (c ParameterCombination) With(index int, name string, value float64) ParameterCombination {
	m := c.Map()
	m[name] = value
	return NewParameterCombination(index, m)
}

// Key is the canonical string form, e.g. "threshold=0.05|window=20"
func (c ParameterCombination) Key() string {
	parts := make([]string, len(c.Params))
	for i, p := range c.Params {
		parts[i] = p.Name + "=" + strconv.FormatFloat(p.Value, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}
