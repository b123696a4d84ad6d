package strategyconfig

import (
	"context"
	"fmt"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/pkg/validate"
)

// WarnCombinations is the grid size above which Warnings reports a preset
const WarnCombinations = 20000

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Preset  string
	Code    string
	Message string
}

// Validate applies defaults and checks every preset
// 실패 시 error 반환 (프로그램 중단)
func Validate(f *File) error {
	if f.Version == "" {
		return ValidationError{"version", "required"}
	}
	if len(f.Presets) == 0 {
		return ValidationError{"presets", "at least one preset required"}
	}

	seen := make(map[string]bool, len(f.Presets))
	for i := range f.Presets {
		p := &f.Presets[i]
		field := fmt.Sprintf("presets[%d]", i)
		if p.Name == "" {
			return ValidationError{field + ".name", "required"}
		}
		if seen[p.Name] {
			return ValidationError{field + ".name", fmt.Sprintf("duplicate preset %q", p.Name)}
		}
		seen[p.Name] = true

		if err := validatePreset(field, p); err != nil {
			return err
		}
	}
	return nil
}

func validatePreset(field string, p *Preset) error {
	// === Strategy ===
	if !signals.Known(p.Strategy) {
		return ValidationError{field + ".strategy", fmt.Sprintf("must be one of %v", signals.Names())}
	}
	switch p.Strategy {
	case signals.StrategyCumRetAlt:
		if len(p.Indicators) != 1 {
			return ValidationError{field + ".indicators", "cumret_alt needs exactly one indicator"}
		}
	case signals.StrategyMultiIndicator:
		if len(p.Indicators) == 0 {
			return ValidationError{field + ".indicators", "multi_indicator needs at least one indicator"}
		}
	}
	for j, id := range p.Indicators {
		if id == "" || id == contracts.PriceSeriesName {
			return ValidationError{fmt.Sprintf("%s.indicators[%d]", field, j), "must be a non-price indicator id"}
		}
	}

	// === Metric ===
	if p.Metric == "" {
		p.Metric = string(contracts.MetricSharpe)
	}
	if _, err := contracts.ParseMetric(p.Metric); err != nil {
		return ValidationError{field + ".metric", err.Error()}
	}

	// === Grid ===
	if len(p.Grid) == 0 {
		return ValidationError{field + ".grid", "at least one parameter required"}
	}
	known := make(map[string]bool)
	for _, name := range signals.ParamNames() {
		known[name] = true
	}
	names := make(map[string]bool, len(p.Grid))
	for j, g := range p.Grid {
		gf := fmt.Sprintf("%s.grid[%d]", field, j)
		if !known[g.Name] {
			return ValidationError{gf + ".name", fmt.Sprintf("unknown parameter %q", g.Name)}
		}
		if names[g.Name] {
			return ValidationError{gf + ".name", fmt.Sprintf("duplicate parameter %q", g.Name)}
		}
		names[g.Name] = true
		r := contracts.ParameterRange{Min: g.Min, Max: g.Max, Step: g.Step}
		if err := r.Validate(); err != nil {
			return ValidationError{gf, err.Error()}
		}
	}

	// === Component defaults ===
	ctx := context.Background()
	if err := validate.Struct(ctx, &p.Options); err != nil {
		return ValidationError{field + ".options", err.Error()}
	}
	if err := validate.Struct(ctx, &p.Backtest); err != nil {
		return ValidationError{field + ".backtest", err.Error()}
	}

	// === Run limits ===
	if p.Workers < 0 {
		return ValidationError{field + ".workers", "must be >= 0"}
	}
	if p.Timeout < 0 {
		return ValidationError{field + ".timeout", "must be >= 0"}
	}
	if p.MaxDegradation == 0 {
		p.MaxDegradation = 0.3
	}
	if p.MaxDegradation < 0 {
		return ValidationError{field + ".max_degradation", "must be > 0"}
	}
	return nil
}

// Warnings reports recommended-practice violations without failing
func Warnings(f *File) []Warning {
	var out []Warning
	for i := range f.Presets {
		p := &f.Presets[i]
		if size := p.ParameterGrid().Size(); size > WarnCombinations {
			out = append(out, Warning{p.Name, "GRID_TOO_LARGE",
				fmt.Sprintf("%d combinations (recommended <= %d)", size, WarnCombinations)})
		}
		if p.Strategy == signals.StrategyCumRetPrice && len(p.Indicators) > 0 {
			out = append(out, Warning{p.Name, "INDICATORS_IGNORED",
				"cumret_price does not read alternative indicators"})
		}
		if p.Timeout == 0 {
			out = append(out, Warning{p.Name, "NO_TIMEOUT", "run is bounded only by the service default"})
		}
	}
	return out
}
