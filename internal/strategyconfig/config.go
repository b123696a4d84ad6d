package strategyconfig

import (
	"fmt"
	"time"

	"github.com/wonny/altquant/internal/backtest"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/signals"
)

// File is the optimization presets document
type File struct {
	Version string   `yaml:"version" json:"version"`
	Presets []Preset `yaml:"presets" json:"presets"`
}

// Preset is a named, reproducible optimization setup.
// start_optimization(preset=...) resolves to one of these.
type Preset struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Strategy    string   `yaml:"strategy" json:"strategy"`
	Indicators  []string `yaml:"indicators" json:"indicators"`
	Metric      string   `yaml:"metric" json:"metric"`

	// Grid is a list (not a map) so the canonical JSON has a fixed order
	Grid []GridParam `yaml:"grid" json:"grid"`

	Options  signals.Options `yaml:"options" json:"options"`
	Backtest backtest.Config `yaml:"backtest" json:"backtest"`

	Workers int           `yaml:"workers" json:"workers"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Validation: Sharpe degradation above this flags overfitting
	MaxDegradation float64 `yaml:"max_degradation" json:"max_degradation"`
}

// GridParam is one swept parameter
type GridParam struct {
	Name string  `yaml:"name" json:"name"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// ParameterGrid converts the preset grid
func (p *Preset) ParameterGrid() contracts.ParameterGrid {
	grid := make(contracts.ParameterGrid, len(p.Grid))
	for _, g := range p.Grid {
		grid[g.Name] = contracts.ParameterRange{Min: g.Min, Max: g.Max, Step: g.Step}
	}
	return grid
}

// ParsedMetric returns the optimization metric
func (p *Preset) ParsedMetric() contracts.Metric {
	m, err := contracts.ParseMetric(p.Metric)
	if err != nil {
		return contracts.MetricSharpe
	}
	return m
}

// Catalog indexes presets by name
type Catalog struct {
	order   []string
	presets map[string]Preset
	hashes  map[string]string
}

// NewCatalog hashes every preset of f
func NewCatalog(f *File) (*Catalog, error) {
	c := &Catalog{
		presets: make(map[string]Preset, len(f.Presets)),
		hashes:  make(map[string]string, len(f.Presets)),
	}
	for i := range f.Presets {
		p := f.Presets[i]
		hash, err := Hash(&p)
		if err != nil {
			return nil, fmt.Errorf("hash preset %s: %w", p.Name, err)
		}
		c.order = append(c.order, p.Name)
		c.presets[p.Name] = p
		c.hashes[p.Name] = hash
	}
	return c, nil
}

// Get returns a copy of the named preset and its hash
func (c *Catalog) Get(name string) (Preset, string, error) {
	p, ok := c.presets[name]
	if !ok {
		return Preset{}, "", fmt.Errorf("%w: %q", contracts.ErrPresetNotFound, name)
	}
	p.Indicators = append([]string(nil), p.Indicators...)
	p.Grid = append([]GridParam(nil), p.Grid...)
	return p, c.hashes[name], nil
}

// Names in file order
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}
