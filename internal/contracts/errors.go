package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrInvalidSeries    = errors.New("invalid series")
	ErrMisalignedSeries = errors.New("series not aligned to index")
	ErrCorruptCalendar  = errors.New("corrupt trading calendar")
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidGrid      = errors.New("invalid parameter grid")
	ErrUnknownMetric    = errors.New("unknown optimization metric")
	ErrUnknownStrategy  = errors.New("unknown strategy")
	ErrPresetNotFound   = errors.New("preset not found")
	ErrRunNotFound      = errors.New("optimization run not found")
	ErrRunClosed        = errors.New("optimization run already closed")
)

// DataIntegrityError: too few expected points to attempt cleaning
type DataIntegrityError struct {
	IndicatorID string
	Observed    int
	Expected    int
	MinFraction float64
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s has %d of %d expected points (minimum %.0f%%)",
		e.IndicatorID, e.Observed, e.Expected, e.MinFraction*100)
}

// StaleDataWarning: quality below FAIR (non-fatal)
type StaleDataWarning struct {
	IndicatorID    string         `json:"indicator_id"`
	Quality        QualityMetrics `json:"quality"`
	Recommendation string         `json:"recommendation"`
}

func (e *StaleDataWarning) Error() string {
	return fmt.Sprintf("stale data: %s quality %.3f (%s): %s",
		e.IndicatorID, e.Quality.Overall, e.Quality.Grade, e.Recommendation)
}

// IndicatorFailure is one indicator that could not be built
type IndicatorFailure struct {
	IndicatorID string `json:"indicator_id"`
	Stage       string `json:"stage"` // fetch | clean | align | normalize
	Reason      string `json:"reason"`
	Err         error  `json:"-"`
}

// PartialDataError: some requested indicators failed.
// The dataset returned alongside it holds the successful subset.
type PartialDataError struct {
	Failures  []IndicatorFailure
	Succeeded []string
}

func (e *PartialDataError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.IndicatorID + "(" + f.Stage + ")"
	}
	return fmt.Sprintf("partial data: %d indicator(s) failed: %s", len(e.Failures), strings.Join(ids, ", "))
}

// LookAheadViolation: a value was used before it was available. Always fatal.
type LookAheadViolation struct {
	Component  string
	Series     string
	At         time.Time // decision time
	SourceTime time.Time // timestamp of the data that leaked
}

func (e *LookAheadViolation) Error() string {
	return fmt.Sprintf("look-ahead violation in %s: %s used data from %s at %s",
		e.Component, e.Series, e.SourceTime.Format(time.RFC3339), e.At.Format(time.RFC3339))
}

// BacktestExecutionError: one parameter combination failed
type BacktestExecutionError struct {
	Combination string
	Err         error
}

func (e *BacktestExecutionError) Error() string {
	return fmt.Sprintf("backtest %s: %v", e.Combination, e.Err)
}

func (e *BacktestExecutionError) Unwrap() error {
	return e.Err
}

// OptimizationTimeoutError: wall-clock budget exceeded; results are partial
type OptimizationTimeoutError struct {
	Timeout   time.Duration
	Completed int
	Total     int
}

func (e *OptimizationTimeoutError) Error() string {
	return fmt.Sprintf("optimization timed out after %s: %d of %d combinations completed",
		e.Timeout, e.Completed, e.Total)
}

// IsFatal reports errors that must abort a whole pipeline or run
func IsFatal(err error) bool {
	var lookAhead *LookAheadViolation
	return errors.As(err, &lookAhead) || errors.Is(err, ErrCorruptCalendar)
}
