package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/altquant/internal/contracts"
)

// PostgresStore persists runs and results in the research schema
// ⭐ SSOT: 최적화 결과 영속화 (backtest_results는 append-only)
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ contracts.OptimizationStore = (*PostgresStore)(nil)

const runColumns = `id, strategy, symbol, start_date, end_date, metric, total_combinations,
	status, partial, reason, preset, preset_hash, spec, created_at, finished_at, omissions`

// CreateRun inserts a new run
func (s *PostgresStore) CreateRun(ctx context.Context, run *contracts.OptimizationRun) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	omissionsJSON, err := marshalOmissions(run.Omissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO research.optimization_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.Exec(ctx, query,
		run.ID,
		run.Strategy,
		run.Symbol,
		run.Range.Start,
		run.Range.End,
		string(run.Metric),
		run.TotalCombinations,
		string(run.Status),
		run.Partial,
		run.Reason,
		run.Preset,
		run.PresetHash,
		specJSON,
		run.CreatedAt,
		run.FinishedAt,
		omissionsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendResults inserts results while the run row is locked RUNNING
func (s *PostgresStore) AppendResults(ctx context.Context, runID string, results []contracts.BacktestResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status, metric string
	err = tx.QueryRow(ctx,
		`SELECT status, metric FROM research.optimization_runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&status, &metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", contracts.ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("lock run: %w", err)
	}
	if contracts.RunStatus(status).Terminal() {
		return fmt.Errorf("%w: %s is %s", contracts.ErrRunClosed, runID, status)
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		paramsJSON, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		resultJSON, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result %d: %w", r.Params.Index, err)
		}
		var score *float64
		if v := r.Score(contracts.Metric(metric)); !math.IsInf(v, 0) && !math.IsNaN(v) {
			score = &v
		}
		batch.Queue(`
			INSERT INTO research.backtest_results (run_id, combination_index, params, score, result, error)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id, combination_index) DO NOTHING
		`, runID, r.Params.Index, paramsJSON, score, resultJSON, r.Error)
	}

	br := tx.SendBatch(ctx, batch)
	for range results {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert result: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FinishRun moves a RUNNING run to its terminal state
func (s *PostgresStore) FinishRun(ctx context.Context, run *contracts.OptimizationRun) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("finish %s: status %s is not terminal", run.ID, run.Status)
	}

	omissionsJSON, err := marshalOmissions(run.Omissions)
	if err != nil {
		return err
	}

	query := `
		UPDATE research.optimization_runs
		SET status = $2, partial = $3, reason = $4, finished_at = $5, omissions = $6
		WHERE id = $1 AND status = 'RUNNING'
	`
	tag, err := s.db.Exec(ctx, query, run.ID, string(run.Status), run.Partial, run.Reason, run.FinishedAt, omissionsJSON)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	stored, err := s.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", contracts.ErrRunClosed, run.ID, stored.Status)
}

// GetRun loads one run
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*contracts.OptimizationRun, error) {
	query := `SELECT ` + runColumns + ` FROM research.optimization_runs WHERE id = $1`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", contracts.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// GetResults returns ranked results; failed results (NULL score) sort last
func (s *PostgresStore) GetResults(ctx context.Context, runID string, limit int) ([]contracts.RankedResult, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	query := `
		SELECT result
		FROM research.backtest_results
		WHERE run_id = $1
		ORDER BY score DESC NULLS LAST, combination_index ASC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, runID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var ranked []contracts.RankedResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r contracts.BacktestResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		ranked = append(ranked, contracts.RankedResult{Rank: len(ranked) + 1, Result: r})
	}
	return ranked, rows.Err()
}

// FindRuns filters runs, newest first
func (s *PostgresStore) FindRuns(ctx context.Context, q contracts.RunQuery) ([]*contracts.OptimizationRun, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Symbol != "" {
		add("symbol = $%d", q.Symbol)
	}
	if q.Strategy != "" {
		add("strategy = $%d", q.Strategy)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Before.IsZero() {
		add("created_at < $%d", q.Before)
	}
	if q.Range != nil {
		add("start_date >= $%d", q.Range.Start)
		add("end_date <= $%d", q.Range.End)
	}

	query := `SELECT ` + runColumns + ` FROM research.optimization_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*contracts.OptimizationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*contracts.OptimizationRun, error) {
	run := &contracts.OptimizationRun{}
	var metric, status string
	var specJSON, omissionsJSON []byte
	err := row.Scan(
		&run.ID,
		&run.Strategy,
		&run.Symbol,
		&run.Range.Start,
		&run.Range.End,
		&metric,
		&run.TotalCombinations,
		&status,
		&run.Partial,
		&run.Reason,
		&run.Preset,
		&run.PresetHash,
		&specJSON,
		&run.CreatedAt,
		&run.FinishedAt,
		&omissionsJSON,
	)
	if err != nil {
		return nil, err
	}
	run.Metric = contracts.Metric(metric)
	run.Status = contracts.RunStatus(status)
	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &run.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec: %w", err)
		}
	}
	if len(omissionsJSON) > 0 {
		if err := json.Unmarshal(omissionsJSON, &run.Omissions); err != nil {
			return nil, fmt.Errorf("unmarshal omissions: %w", err)
		}
	}
	return run, nil
}

func marshalOmissions(failures []contracts.IndicatorFailure) ([]byte, error) {
	if failures == nil {
		failures = []contracts.IndicatorFailure{}
	}
	b, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("marshal omissions: %w", err)
	}
	return b, nil
}
