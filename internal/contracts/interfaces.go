package contracts

import "context"

// PriceFetcher loads the raw close series of a symbol
// ⭐ SSOT: 가격 데이터 외부 어댑터 인터페이스
type PriceFetcher interface {
	FetchPrices(ctx context.Context, symbol string, r DateRange) (*IndicatorSeries, error)
}

// IndicatorFetcher loads one raw alternative-data series
// ⭐ SSOT: 대체 데이터 외부 어댑터 인터페이스
type IndicatorFetcher interface {
	FetchIndicator(ctx context.Context, indicatorID string, r DateRange) (*IndicatorSeries, error)
}

// OptimizationStore persists runs and their append-only results
// ⭐ SSOT: 최적화 결과 저장소 인터페이스
type OptimizationStore interface {
	CreateRun(ctx context.Context, run *OptimizationRun) error
	// AppendResults fails with ErrRunClosed once the run is terminal
	AppendResults(ctx context.Context, runID string, results []BacktestResult) error
	// FinishRun persists a terminal status transition
	FinishRun(ctx context.Context, run *OptimizationRun) error
	GetRun(ctx context.Context, runID string) (*OptimizationRun, error)
	// GetResults ranks by the run metric, ties broken by combination index
	GetResults(ctx context.Context, runID string, limit int) ([]RankedResult, error)
	FindRuns(ctx context.Context, q RunQuery) ([]*OptimizationRun, error)
}
