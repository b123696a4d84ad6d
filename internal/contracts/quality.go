package contracts

import "time"

// Grade is the categorical quality band
type Grade string

const (
	GradePoor      Grade = "POOR"
	GradeFair      Grade = "FAIR"
	GradeGood      Grade = "GOOD"
	GradeExcellent Grade = "EXCELLENT"
)

// Grade thresholds (lower bounds)
const (
	FairThreshold      = 0.5
	GoodThreshold      = 0.7
	ExcellentThreshold = 0.9
)

// GradeFor maps an overall score to its band
func GradeFor(overall float64) Grade {
	switch {
	case overall >= ExcellentThreshold:
		return GradeExcellent
	case overall >= GoodThreshold:
		return GradeGood
	case overall >= FairThreshold:
		return GradeFair
	default:
		return GradePoor
	}
}

// QualityMetrics is the composite quality of one indicator snapshot
type QualityMetrics struct {
	Completeness float64   `json:"completeness"`
	Freshness    float64   `json:"freshness"`
	Consistency  float64   `json:"consistency"`
	Overall      float64   `json:"overall"`
	Grade        Grade     `json:"grade"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// NewQualityMetrics derives Overall and Grade from the three components
func NewQualityMetrics(completeness, freshness, consistency float64, at time.Time) QualityMetrics {
	overall := (completeness + freshness + consistency) / 3
	return QualityMetrics{
		Completeness: completeness,
		Freshness:    freshness,
		Consistency:  consistency,
		Overall:      overall,
		Grade:        GradeFor(overall),
		EvaluatedAt:  at,
	}
}

// BelowFair reports whether the source should trigger a stale-data warning
func (q QualityMetrics) BelowFair() bool {
	return q.Overall < FairThreshold
}
