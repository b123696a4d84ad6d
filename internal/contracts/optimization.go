package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RunStatus is the lifecycle state of an optimization run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status can no longer change
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunSpec is what is needed to replay a run (sensitivity, audits)
type RunSpec struct {
	Indicators []string      `json:"indicators"`
	Grid       ParameterGrid `json:"grid"`
	Workers    int           `json:"workers"`
}

// OptimizationRun owns the results of one grid search.
// Status moves RUNNING -> COMPLETED | FAILED exactly once.
type OptimizationRun struct {
	ID                string     `json:"id"`
	Strategy          string     `json:"strategy"`
	Symbol            string     `json:"symbol"`
	Range             DateRange  `json:"range"`
	Metric            Metric     `json:"metric"`
	TotalCombinations int        `json:"total_combinations"`
	Status            RunStatus  `json:"status"`
	Partial           bool       `json:"partial"`
	Reason            string     `json:"reason,omitempty"`
	Preset            string     `json:"preset,omitempty"`
	PresetHash        string     `json:"preset_hash,omitempty"`
	Spec              RunSpec    `json:"spec"`
	CreatedAt         time.Time  `json:"created_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`

	// Omissions lists indicators dropped from the dataset the run used
	Omissions []IndicatorFailure `json:"omissions,omitempty"`
}

// Complete closes the run successfully; partial marks a timeout.
// A run with omissions is always partial.
func (r *OptimizationRun) Complete(partial bool, reason string, at time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunClosed, r.ID, r.Status)
	}
	r.Status = RunStatusCompleted
	r.Partial = partial || len(r.Omissions) > 0
	r.Reason = reason
	r.FinishedAt = &at
	return nil
}

// Omit records indicators that failed to load; the run stays partial
func (r *OptimizationRun) Omit(failures []IndicatorFailure) {
	r.Omissions = append(r.Omissions, failures...)
}

// Fail closes the run with a human-readable reason
func (r *OptimizationRun) Fail(reason string, at time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunClosed, r.ID, r.Status)
	}
	r.Status = RunStatusFailed
	r.Reason = reason
	r.FinishedAt = &at
	return nil
}

// RunQuery filters stored runs; zero fields match everything
type RunQuery struct {
	Symbol   string
	Strategy string
	Range    *DateRange // runs whose range lies within this window
	Status   RunStatus
	Before   time.Time // created before
	Limit    int
}

// SensitivityReport is the one-parameter response curve around an anchor
type SensitivityReport struct {
	RunID        string               `json:"run_id,omitempty"`
	Parameter    string               `json:"parameter"`
	Metric       Metric               `json:"metric"`
	Values       []float64            `json:"values"`
	MetricValues []float64            `json:"metric_values"` // NaN where the backtest failed
	Errors       []string             `json:"errors,omitempty"`
	Anchor       ParameterCombination `json:"anchor"`
}

// MarshalJSON renders failed points as null for charting
func (s SensitivityReport) MarshalJSON() ([]byte, error) {
	type alias SensitivityReport
	metricValues := make([]*float64, len(s.MetricValues))
	for i, v := range s.MetricValues {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			v := v
			metricValues[i] = &v
		}
	}
	return json.Marshal(struct {
		alias
		MetricValues []*float64 `json:"metric_values"`
	}{alias: alias(s), MetricValues: metricValues})
}
