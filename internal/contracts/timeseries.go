package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Frequency is the native sampling frequency of a series
type Frequency string

const (
	FrequencyIntraday  Frequency = "intraday"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// ParseFrequency validates a frequency name
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyIntraday, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// CoarserThanDaily is true for weekly, monthly and quarterly series
func (f Frequency) CoarserThanDaily() bool {
	return f == FrequencyWeekly || f == FrequencyMonthly || f == FrequencyQuarterly
}

// ExpectedIntervalDays is the nominal number of calendar days between updates
func (f Frequency) ExpectedIntervalDays() float64 {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	case FrequencyQuarterly:
		return 91
	default:
		return 1
	}
}

// Observation is one reported value. Released is the publication date;
// zero means "use the frequency's default release rule". AsOf is set on
// derived values (interpolation, back-fill) to the latest source timestamp
// they depend on.
type Observation struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Released time.Time `json:"released"`
	AsOf     time.Time `json:"as_of"`
}

// Basis is the latest reference timestamp the value depends on
func (o Observation) Basis() time.Time {
	if o.AsOf.After(o.Time) {
		return o.AsOf
	}
	return o.Time
}

// Missing reports whether the value is absent (NaN)
func (o Observation) Missing() bool {
	return math.IsNaN(o.Value)
}

// IndicatorSeries is an ordered, immutable sequence of observations.
// ⭐ SSOT: 정제/정렬/정규화 결과는 항상 새 시리즈로 생성 (원본 불변)
type IndicatorSeries struct {
	ID        string          `json:"id"`
	Frequency Frequency       `json:"frequency"`
	Source    string          `json:"source"`
	Points    []Observation   `json:"points"`
	Quality   *QualityMetrics `json:"quality,omitempty"`
}

// NewIndicatorSeries copies points and validates ordering
func NewIndicatorSeries(id string, freq Frequency, source string, points []Observation) (*IndicatorSeries, error) {
	s := &IndicatorSeries{
		ID:        id,
		Frequency: freq,
		Source:    source,
		Points:    append([]Observation(nil), points...),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks frequency and strictly increasing timestamps
func (s *IndicatorSeries) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSeries)
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: %s: unknown frequency %q", ErrInvalidSeries, s.ID, s.Frequency)
	}
	for i := 1; i < len(s.Points); i++ {
		if !s.Points[i].Time.After(s.Points[i-1].Time) {
			return fmt.Errorf("%w: %s: timestamps not strictly increasing at %d (%s <= %s)",
				ErrInvalidSeries, s.ID, i,
				s.Points[i].Time.Format(time.RFC3339), s.Points[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Len returns the number of points
func (s *IndicatorSeries) Len() int {
	return len(s.Points)
}

// Times returns a copy of the timestamps
func (s *IndicatorSeries) Times() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Time
	}
	return out
}

// Values returns a copy of the values
func (s *IndicatorSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// ObservedCount counts non-missing values
func (s *IndicatorSeries) ObservedCount() int {
	n := 0
	for _, p := range s.Points {
		if !p.Missing() {
			n++
		}
	}
	return n
}

// Last returns the last non-missing observation
func (s *IndicatorSeries) Last() (Observation, bool) {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if !s.Points[i].Missing() {
			return s.Points[i], true
		}
	}
	return Observation{}, false
}

// Derive creates a new series with the same identity and the given points.
// Quality metadata is not carried over.
func (s *IndicatorSeries) Derive(points []Observation) *IndicatorSeries {
	return &IndicatorSeries{
		ID:        s.ID,
		Frequency: s.Frequency,
		Source:    s.Source,
		Points:    append([]Observation(nil), points...),
	}
}

// Clone returns a deep copy, including quality
func (s *IndicatorSeries) Clone() *IndicatorSeries {
	c := s.Derive(s.Points)
	if s.Quality != nil {
		q := *s.Quality
		c.Quality = &q
	}
	return c
}

type observationJSON struct {
	Time     time.Time  `json:"time"`
	Value    *float64   `json:"value"`
	Released *time.Time `json:"released,omitempty"`
	AsOf     *time.Time `json:"as_of,omitempty"`
}

// MarshalJSON encodes a missing value as null
func (o Observation) MarshalJSON() ([]byte, error) {
	out := observationJSON{Time: o.Time}
	if !o.Missing() && !math.IsInf(o.Value, 0) {
		v := o.Value
		out.Value = &v
	}
	if !o.Released.IsZero() {
		r := o.Released
		out.Released = &r
	}
	if !o.AsOf.IsZero() {
		a := o.AsOf
		out.AsOf = &a
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null as a missing value
func (o *Observation) UnmarshalJSON(data []byte) error {
	var in observationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	o.Time = in.Time
	o.Value = math.NaN()
	if in.Value != nil {
		o.Value = *in.Value
	}
	o.Released = time.Time{}
	if in.Released != nil {
		o.Released = *in.Released
	}
	o.AsOf = time.Time{}
	if in.AsOf != nil {
		o.AsOf = *in.AsOf
	}
	return nil
}
