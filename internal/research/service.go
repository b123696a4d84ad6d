package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/altquant/internal/altdata"
	"github.com/wonny/altquant/internal/backtest"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/optimizer"
	"github.com/wonny/altquant/internal/signals"
	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/metrics"
)

// DataSource builds aligned datasets (altdata.Service)
type DataSource interface {
	GetAlignedData(ctx context.Context, symbol string, indicatorIDs []string, r contracts.DateRange) (*contracts.AlignedDataset, error)
}

// Config holds facade settings
type Config struct {
	Optimizer optimizer.Config `yaml:"optimizer" json:"optimizer"`
	Backtest  backtest.Config  `yaml:"backtest" json:"backtest"`
	// ResultBatchSize is the number of results per store append
	ResultBatchSize int `yaml:"result_batch_size" json:"result_batch_size" default:"100" validate:"gte=1"`
	// StoreTimeout bounds store writes made after the run context is gone
	StoreTimeout time.Duration `yaml:"store_timeout" json:"store_timeout" default:"30s"`
}

// StartRequest starts an asynchronous optimization. With a Preset, empty
// fields are taken from the preset.
type StartRequest struct {
	Strategy   string                  `json:"strategy"`
	Symbol     string                  `json:"symbol" validate:"required"`
	Indicators []string                `json:"indicators"`
	Grid       contracts.ParameterGrid `json:"grid"`
	Metric     contracts.Metric        `json:"metric"`
	Range      contracts.DateRange     `json:"range"`
	Preset     string                  `json:"preset"`
	Workers    int                     `json:"workers" validate:"gte=0"`
	Timeout    time.Duration           `json:"timeout" validate:"gte=0"`
}

// plan is a StartRequest resolved against its preset
type plan struct {
	req        StartRequest
	options    signals.Options
	backtest   backtest.Config
	hash       string
	validation float64
}

type liveRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service is the inbound research facade: aligned data, asynchronous
// optimization runs, ranked results and sensitivity sweeps
// ⭐ SSOT: 외부 진입점 (API/CLI/스케줄러 모두 여기를 통함)
type Service struct {
	cfg     Config
	data    DataSource
	store   contracts.OptimizationStore
	presets *strategyconfig.Catalog
	metrics *metrics.Recorder
	logger  *logger.Logger

	mu   sync.Mutex
	live map[string]*liveRun
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewService creates the facade; presets may be nil
func NewService(cfg Config, data DataSource, store contracts.OptimizationStore, presets *strategyconfig.Catalog, rec *metrics.Recorder, log *logger.Logger) *Service {
	if cfg.ResultBatchSize < 1 {
		cfg.ResultBatchSize = 100
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	return &Service{
		cfg:     cfg,
		data:    data,
		store:   store,
		presets: presets,
		metrics: rec,
		logger:  log.WithComponent("research"),
		live:    make(map[string]*liveRun),
		now:     time.Now,
	}
}

// Presets returns the loaded preset catalog (nil when none)
func (s *Service) Presets() *strategyconfig.Catalog {
	return s.presets
}

// GetAlignedData passes through to the data pipeline
func (s *Service) GetAlignedData(ctx context.Context, symbol string, indicatorIDs []string, r contracts.DateRange) (*contracts.AlignedDataset, error) {
	return s.data.GetAlignedData(ctx, symbol, indicatorIDs, r)
}

// StartOptimization validates the request, stores the run RUNNING and
// returns its id. Data loading and the grid search run in the background;
// their failures surface on the run itself.
func (s *Service) StartOptimization(ctx context.Context, req StartRequest) (string, error) {
	p, err := s.resolve(req)
	if err != nil {
		return "", err
	}

	run := &contracts.OptimizationRun{
		ID:                uuid.NewString(),
		Strategy:          p.req.Strategy,
		Symbol:            p.req.Symbol,
		Range:             p.req.Range,
		Metric:            p.req.Metric,
		TotalCombinations: p.req.Grid.Size(),
		Status:            contracts.RunStatusRunning,
		Preset:            p.req.Preset,
		PresetHash:        p.hash,
		Spec: contracts.RunSpec{
			Indicators: p.req.Indicators,
			Grid:       p.req.Grid,
			Workers:    p.req.Workers,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	// 요청 컨텍스트와 분리: 호출자는 run id만 받고 떠남
	runCtx, cancel := context.WithCancel(context.Background())
	lr := &liveRun{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.live[run.ID] = lr
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(lr.done)
		defer func() {
			s.mu.Lock()
			delete(s.live, run.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(runCtx, run, p)
	}()

	s.logger.WithFields(map[string]interface{}{
		"run_id":       run.ID,
		"strategy":     run.Strategy,
		"symbol":       run.Symbol,
		"combinations": run.TotalCombinations,
		"preset":       run.Preset,
	}).Info("Optimization run started")
	return run.ID, nil
}

// loadData fetches the aligned dataset of req. Indicators that failed are
// returned as omissions; an alt-data strategy left without any of its
// indicators is an error.
func (s *Service) loadData(ctx context.Context, req StartRequest) (*contracts.AlignedDataset, []contracts.IndicatorFailure, error) {
	data, err := s.data.GetAlignedData(ctx, req.Symbol, req.Indicators, req.Range)
	partial, ok := altdata.AsPartial(err)
	if !ok {
		if err != nil {
			return nil, nil, err
		}
		return data, nil, nil
	}

	failed := make(map[string]bool, len(partial.Failures))
	for _, f := range partial.Failures {
		failed[f.IndicatorID] = true
	}
	usable := 0
	for _, id := range req.Indicators {
		if !failed[id] {
			usable++
		}
	}
	if req.Strategy != signals.StrategyCumRetPrice && usable == 0 {
		return nil, partial.Failures, fmt.Errorf("%w for %s: %v", ErrNoAlternativeData, req.Strategy, partial)
	}

	s.logger.WithFields(map[string]interface{}{
		"symbol":   req.Symbol,
		"failures": len(partial.Failures),
		"usable":   usable,
	}).Warn("Optimizing on partial data")
	return data, partial.Failures, nil
}

// execute loads data, runs the optimizer and owns the single terminal
// transition of run
func (s *Service) execute(ctx context.Context, run *contracts.OptimizationRun, p plan) {
	startTime := time.Now()
	log := s.logger.WithRun(run.ID)

	data, omissions, err := s.loadData(ctx, p.req)
	run.Omit(omissions)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			_ = run.Fail("cancelled", s.now().UTC())
		} else {
			_ = run.Fail(fmt.Sprintf("load data: %v", err), s.now().UTC())
		}
		s.finish(run, log, startTime)
		return
	}

	opt := optimizer.New(s.cfg.Optimizer, p.backtest, s.metrics, log)

	var (
		batch    []contracts.BacktestResult
		storeErr error
	)
	flush := func() {
		if len(batch) == 0 || storeErr != nil {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if err := s.store.AppendResults(wctx, run.ID, batch); err != nil {
			storeErr = fmt.Errorf("append results: %w", err)
		}
		batch = batch[:0]
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	req := p.request(data)
	req.Progress = func(r contracts.BacktestResult) {
		batch = append(batch, r)
		if len(batch) >= s.cfg.ResultBatchSize {
			flush()
			if storeErr != nil {
				stop()
			}
		}
	}
	_, err = opt.Run(runCtx, req)
	flush()

	now := s.now().UTC()
	var timeout *contracts.OptimizationTimeoutError
	switch {
	case storeErr != nil:
		_ = run.Fail(storeErr.Error(), now)
	case err == nil:
		_ = run.Complete(false, omissionReason(run.Omissions), now)
	case errors.As(err, &timeout):
		_ = run.Complete(true, timeout.Error(), now)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		_ = run.Fail("cancelled", now)
	default:
		_ = run.Fail(err.Error(), now)
	}
	s.finish(run, log, startTime)
}

// finish persists the terminal state of run
func (s *Service) finish(run *contracts.OptimizationRun, log *logger.Logger, startTime time.Time) {
	wctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	if ferr := s.store.FinishRun(wctx, run); ferr != nil {
		log.WithError(ferr).Error("Failed to finish run")
	}

	duration := time.Since(startTime)
	s.metrics.RecordRun(run.Strategy, string(run.Status), duration.Seconds())
	log.WithFields(map[string]interface{}{
		"status":    run.Status,
		"partial":   run.Partial,
		"reason":    run.Reason,
		"omissions": len(run.Omissions),
		"duration":  duration.String(),
	}).Info("Optimization run finished")
}

func omissionReason(omissions []contracts.IndicatorFailure) string {
	if len(omissions) == 0 {
		return ""
	}
	ids := make([]string, len(omissions))
	for i, f := range omissions {
		ids[i] = f.IndicatorID + "(" + f.Stage + ")"
	}
	return "indicators omitted: " + strings.Join(ids, ", ")
}

// GetRun returns the run record
func (s *Service) GetRun(ctx context.Context, runID string) (*contracts.OptimizationRun, error) {
	return s.store.GetRun(ctx, runID)
}

// GetResults returns the ranked results of a run; limit <= 0 returns all
func (s *Service) GetResults(ctx context.Context, runID string, limit int) ([]contracts.RankedResult, error) {
	return s.store.GetResults(ctx, runID, limit)
}

// FindRuns filters stored runs
func (s *Service) FindRuns(ctx context.Context, q contracts.RunQuery) ([]*contracts.OptimizationRun, error) {
	return s.store.FindRuns(ctx, q)
}

// CancelRun stops a live run, which then finishes FAILED. A RUNNING run
// owned by no live goroutine is failed directly.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	lr, ok := s.live[runID]
	s.mu.Unlock()
	if ok {
		lr.cancel()
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := run.Fail("cancelled", s.now().UTC()); err != nil {
		return err
	}
	return s.store.FinishRun(ctx, run)
}

// Wait blocks until a live run finishes and returns its final record
func (s *Service) Wait(ctx context.Context, runID string) (*contracts.OptimizationRun, error) {
	s.mu.Lock()
	lr, ok := s.live[runID]
	s.mu.Unlock()
	if ok {
		select {
		case <-lr.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.GetRun(ctx, runID)
}

// Live reports whether the run is executing in this process
func (s *Service) Live(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[runID]
	return ok
}

// Shutdown cancels every live run and waits for their terminal writes
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, lr := range s.live {
		lr.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepStale fails RUNNING runs created before cutoff that no goroutine in
// this process owns (e.g. left behind by a crash)
func (s *Service) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	runs, err := s.store.FindRuns(ctx, contracts.RunQuery{Status: contracts.RunStatusRunning, Before: cutoff})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, run := range runs {
		if s.Live(run.ID) {
			continue
		}
		if err := run.Fail("abandoned", s.now().UTC()); err != nil {
			continue
		}
		if err := s.store.FinishRun(ctx, run); err != nil {
			if errors.Is(err, contracts.ErrRunClosed) {
				continue
			}
			return swept, err
		}
		swept++
		s.logger.WithRun(run.ID).Warn("Marked abandoned run as failed")
	}
	return swept, nil
}
