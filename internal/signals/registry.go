package signals

import (
	"context"
	"fmt"
	"sort"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/validate"
)

// Grid parameter names understood by every variant
const (
	ParamWindow       = "window"
	ParamThreshold    = "threshold"
	ParamDynamic      = "dynamic"
	ParamAltWindow    = "alt_window"
	ParamAltThreshold = "alt_threshold"
)

// ParamNames lists every grid parameter a combination may set
func ParamNames() []string {
	return []string{ParamAltThreshold, ParamAltWindow, ParamDynamic, ParamThreshold, ParamWindow}
}

// Options are the base settings a parameter combination overrides
type Options struct {
	Filter FilterConfig `yaml:"filter" json:"filter"`
	Alt    AltConfig    `yaml:"alt" json:"alt"`
}

type factory func(filter *Filter, alt AltConfig, indicators []string) (Strategy, error)

// ⭐ SSOT: 전략 변형은 이 목록이 전부 (closed set)
var registry = map[string]factory{
	StrategyCumRetPrice: func(f *Filter, _ AltConfig, _ []string) (Strategy, error) {
		return &cumRetPrice{filter: f}, nil
	},
	StrategyCumRetAlt: func(f *Filter, alt AltConfig, indicators []string) (Strategy, error) {
		if len(indicators) != 1 {
			return nil, fmt.Errorf("%s needs exactly one indicator, got %d", StrategyCumRetAlt, len(indicators))
		}
		return &cumRetAlt{cumRetPrice: cumRetPrice{filter: f}, alt: alt, indicator: indicators[0]}, nil
	},
	StrategyMultiIndicator: func(f *Filter, alt AltConfig, indicators []string) (Strategy, error) {
		if len(indicators) == 0 {
			return nil, fmt.Errorf("%s needs at least one indicator", StrategyMultiIndicator)
		}
		ids := append([]string(nil), indicators...)
		sort.Strings(ids)
		return &multiIndicator{cumRetPrice: cumRetPrice{filter: f}, alt: alt, indicators: ids}, nil
	},
}

// Names lists the registered variants
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is a registered variant
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// New builds a strategy from base options overridden by params
func New(name string, opts Options, params contracts.ParameterCombination, indicators []string) (Strategy, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contracts.ErrUnknownStrategy, name)
	}
	if err := validate.Struct(context.Background(), &opts); err != nil {
		return nil, fmt.Errorf("strategy options: %w", err)
	}

	opts.Filter.Window = params.Int(ParamWindow, opts.Filter.Window)
	opts.Filter.Threshold = params.Float(ParamThreshold, opts.Filter.Threshold)
	if v, ok := params.Get(ParamDynamic); ok {
		opts.Filter.Dynamic = v >= 0.5
	}
	opts.Alt.Window = params.Int(ParamAltWindow, opts.Alt.Window)
	opts.Alt.Threshold = params.Float(ParamAltThreshold, opts.Alt.Threshold)

	filter, err := NewFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	if err := validate.Check(context.Background(), &opts.Alt); err != nil {
		return nil, fmt.Errorf("alt options: %w", err)
	}
	return build(filter, opts.Alt, indicators)
}
