package database

import (
	"context"
	"fmt"
)

// schemaStatements creates the optimization result tables.
// backtest_results is append-only; rows are never updated.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS research`,
	`CREATE TABLE IF NOT EXISTS research.optimization_runs (
		id                 TEXT PRIMARY KEY,
		strategy           TEXT NOT NULL,
		symbol             TEXT NOT NULL,
		start_date         DATE NOT NULL,
		end_date           DATE NOT NULL,
		metric             TEXT NOT NULL,
		total_combinations INTEGER NOT NULL,
		status             TEXT NOT NULL,
		partial            BOOLEAN NOT NULL DEFAULT FALSE,
		reason             TEXT NOT NULL DEFAULT '',
		preset             TEXT NOT NULL DEFAULT '',
		preset_hash        TEXT NOT NULL DEFAULT '',
		spec               JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at        TIMESTAMPTZ,
		omissions          JSONB NOT NULL DEFAULT '[]'::jsonb
	)`,
	`ALTER TABLE research.optimization_runs
		ADD COLUMN IF NOT EXISTS omissions JSONB NOT NULL DEFAULT '[]'::jsonb`,
	`CREATE INDEX IF NOT EXISTS idx_optimization_runs_lookup
		ON research.optimization_runs (symbol, strategy, start_date, end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_optimization_runs_status
		ON research.optimization_runs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS research.backtest_results (
		run_id            TEXT NOT NULL REFERENCES research.optimization_runs(id),
		combination_index INTEGER NOT NULL,
		params            JSONB NOT NULL,
		score             DOUBLE PRECISION,
		result            JSONB NOT NULL,
		error             TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_id, combination_index)
	)`,
}

// Migrate applies the schema idempotently
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
