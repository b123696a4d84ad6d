package signals

import (
	"time"

	"github.com/wonny/altquant/internal/contracts"
)

// Window is the view of a dataset on trading day T: rows [0, T] only
type Window struct {
	data *contracts.AlignedDataset
	t    int
}

// NewWindow returns the view of data at row t
func NewWindow(data *contracts.AlignedDataset, t int) Window {
	return Window{data: data, t: t}
}

// T is the current row
func (w Window) T() int {
	return w.t
}

// Time is the current trading day
func (w Window) Time() time.Time {
	return w.data.Index[w.t]
}

// Prices returns the price column up to and including T
func (w Window) Prices() []float64 {
	return w.data.Prices()[:w.t+1]
}

// Column returns a series up to and including T
func (w Window) Column(name string) ([]float64, bool) {
	col, ok := w.data.Column(name)
	if !ok {
		return nil, false
	}
	return col[:w.t+1], true
}

// Quality returns the quality metrics of an indicator, if scored
func (w Window) Quality(name string) (contracts.QualityMetrics, bool) {
	q, ok := w.data.Quality[name]
	return q, ok
}

// Decision is what a strategy emits for one day. Alt is nil on the
// price-only path.
type Decision struct {
	Price contracts.Signal  `json:"price"`
	Alt   *contracts.Signal `json:"alt,omitempty"`
}

// Strategy is the capability shared by every strategy variant
type Strategy interface {
	// Name is the registry key
	Name() string
	// Warmup is the number of leading rows the strategy cannot decide on
	Warmup() int
	// Indicators lists the alt series the strategy would read when present
	Indicators() []string
	// Generate decides on the last row of w
	Generate(w Window) Decision
}
