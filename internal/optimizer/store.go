package optimizer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wonny/altquant/internal/contracts"
)

// MemoryStore keeps runs and results in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*contracts.OptimizationRun
	results map[string][]contracts.BacktestResult
	seen    map[string]map[int]bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*contracts.OptimizationRun),
		results: make(map[string][]contracts.BacktestResult),
		seen:    make(map[string]map[int]bool),
	}
}

var _ contracts.OptimizationStore = (*MemoryStore)(nil)

// CreateRun registers a new RUNNING run
func (s *MemoryStore) CreateRun(_ context.Context, run *contracts.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := cloneRun(run)
	s.runs[run.ID] = cp
	s.seen[run.ID] = make(map[int]bool)
	return nil
}

// AppendResults adds results to a RUNNING run. Results already stored for
// the same combination index are skipped.
func (s *MemoryStore) AppendResults(_ context.Context, runID string, results []contracts.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrRunNotFound, runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", contracts.ErrRunClosed, runID, run.Status)
	}
	for _, r := range results {
		if s.seen[runID][r.Params.Index] {
			continue
		}
		s.seen[runID][r.Params.Index] = true
		s.results[runID] = append(s.results[runID], r)
	}
	return nil
}

// FinishRun stores the terminal state of a run exactly once
func (s *MemoryStore) FinishRun(_ context.Context, run *contracts.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrRunNotFound, run.ID)
	}
	if stored.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", contracts.ErrRunClosed, run.ID, stored.Status)
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("finish %s: status %s is not terminal", run.ID, run.Status)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a copy of the run
func (s *MemoryStore) GetRun(_ context.Context, runID string) (*contracts.OptimizationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrRunNotFound, runID)
	}
	return cloneRun(run), nil
}

// GetResults ranks the run's results by its metric; limit <= 0 returns all
func (s *MemoryStore) GetResults(_ context.Context, runID string, limit int) ([]contracts.RankedResult, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", contracts.ErrRunNotFound, runID)
	}
	metric := run.Metric
	results := append([]contracts.BacktestResult(nil), s.results[runID]...)
	s.mu.RUnlock()

	ranked := Rank(results, metric)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// FindRuns filters runs, newest first
func (s *MemoryStore) FindRuns(_ context.Context, q contracts.RunQuery) ([]*contracts.OptimizationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.OptimizationRun
	for _, run := range s.runs {
		if matches(run, q) {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(run *contracts.OptimizationRun, q contracts.RunQuery) bool {
	if q.Symbol != "" && run.Symbol != q.Symbol {
		return false
	}
	if q.Strategy != "" && run.Strategy != q.Strategy {
		return false
	}
	if q.Status != "" && run.Status != q.Status {
		return false
	}
	if !q.Before.IsZero() && !run.CreatedAt.Before(q.Before) {
		return false
	}
	if q.Range != nil && (run.Range.Start.Before(q.Range.Start) || run.Range.End.After(q.Range.End)) {
		return false
	}
	return true
}

func cloneRun(run *contracts.OptimizationRun) *contracts.OptimizationRun {
	cp := *run
	if run.FinishedAt != nil {
		at := *run.FinishedAt
		cp.FinishedAt = &at
	}
	cp.Spec.Indicators = append([]string(nil), run.Spec.Indicators...)
	cp.Omissions = append([]contracts.IndicatorFailure(nil), run.Omissions...)
	if run.Spec.Grid != nil {
		cp.Spec.Grid = make(contracts.ParameterGrid, len(run.Spec.Grid))
		for k, v := range run.Spec.Grid {
			cp.Spec.Grid[k] = v
		}
	}
	return &cp
}
