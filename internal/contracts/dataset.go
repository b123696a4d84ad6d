package contracts

import (
	"fmt"
	"sort"
	"time"
)

// PriceSeriesName is the dataset key of the traded instrument's close
const PriceSeriesName = "price"

// AlignedDataset is a set of series sharing one trading-date index.
// Columns are shared read-only between backtest workers.
type AlignedDataset struct {
	Symbol     string                      `json:"symbol"`
	Index      []time.Time                 `json:"index"`
	Series     map[string]*IndicatorSeries `json:"series"`
	Normalized map[string]*IndicatorSeries `json:"normalized,omitempty"`
	Quality    map[string]QualityMetrics   `json:"quality,omitempty"`
	Warnings   []StaleDataWarning          `json:"warnings,omitempty"`

	columns map[string][]float64
}

// NewAlignedDataset validates that every series matches index exactly
func NewAlignedDataset(symbol string, index []time.Time, series, normalized map[string]*IndicatorSeries) (*AlignedDataset, error) {
	for i := 1; i < len(index); i++ {
		if !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("%w: index not strictly increasing at %d", ErrCorruptCalendar, i)
		}
	}

	d := &AlignedDataset{
		Symbol:     symbol,
		Index:      append([]time.Time(nil), index...),
		Series:     make(map[string]*IndicatorSeries, len(series)),
		Normalized: make(map[string]*IndicatorSeries, len(normalized)),
		Quality:    make(map[string]QualityMetrics),
		columns:    make(map[string][]float64, len(series)),
	}

	check := func(name string, s *IndicatorSeries) error {
		if s.Len() != len(index) {
			return fmt.Errorf("%w: %s has %d points, index has %d", ErrMisalignedSeries, name, s.Len(), len(index))
		}
		for i, p := range s.Points {
			if !p.Time.Equal(index[i]) {
				return fmt.Errorf("%w: %s timestamp %d differs from index", ErrMisalignedSeries, name, i)
			}
		}
		return nil
	}

	for name, s := range series {
		if err := check(name, s); err != nil {
			return nil, err
		}
		d.Series[name] = s
		d.columns[name] = s.Values()
	}
	for name, s := range normalized {
		if err := check(name, s); err != nil {
			return nil, err
		}
		d.Normalized[name] = s
	}
	return d, nil
}

// Len is the number of trading days
func (d *AlignedDataset) Len() int {
	return len(d.Index)
}

// Names returns the sorted series names
func (d *AlignedDataset) Names() []string {
	names := make([]string, 0, len(d.Series))
	for name := range d.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the dataset carries the named series
func (d *AlignedDataset) Has(name string) bool {
	_, ok := d.Series[name]
	return ok
}

// Column returns the values of a series. The slice must not be modified.
func (d *AlignedDataset) Column(name string) ([]float64, bool) {
	col, ok := d.columns[name]
	return col, ok
}

// Prices returns the price column
func (d *AlignedDataset) Prices() []float64 {
	col, _ := d.Column(PriceSeriesName)
	return col
}

// Slice returns the half-open row range [from, to) as a new dataset
func (d *AlignedDataset) Slice(from, to int) (*AlignedDataset, error) {
	if from < 0 || to > d.Len() || from >= to {
		return nil, fmt.Errorf("invalid slice [%d, %d) of %d rows", from, to, d.Len())
	}
	cut := func(in map[string]*IndicatorSeries) map[string]*IndicatorSeries {
		out := make(map[string]*IndicatorSeries, len(in))
		for name, s := range in {
			out[name] = s.Derive(s.Points[from:to])
		}
		return out
	}

	out, err := NewAlignedDataset(d.Symbol, d.Index[from:to], cut(d.Series), cut(d.Normalized))
	if err != nil {
		return nil, err
	}
	for k, v := range d.Quality {
		out.Quality[k] = v
	}
	out.Warnings = append(out.Warnings, d.Warnings...)
	return out, nil
}

// SliceDates restricts the dataset to rows within r
func (d *AlignedDataset) SliceDates(r DateRange) (*AlignedDataset, error) {
	from := sort.Search(d.Len(), func(i int) bool { return !d.Index[i].Before(r.Start) })
	to := sort.Search(d.Len(), func(i int) bool { return d.Index[i].After(r.End) })
	return d.Slice(from, to)
}
