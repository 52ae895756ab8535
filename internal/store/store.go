// Package store persists finished flow reports in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no run carries the requested id.
var ErrNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS flow_runs (
    id          TEXT PRIMARY KEY,
    start_url   TEXT NOT NULL,
    final_url   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    steps       INTEGER NOT NULL DEFAULT 0,
    corrections INTEGER NOT NULL DEFAULT 0,
    stop_reason TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    passes      JSONB NOT NULL DEFAULT '[]',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS flow_outcomes (
    run_id     TEXT NOT NULL REFERENCES flow_runs (id) ON DELETE CASCADE,
    pass_index INTEGER NOT NULL,
    step       INTEGER NOT NULL,
    correction BOOLEAN NOT NULL,
    field_key  TEXT NOT NULL,
    field_type TEXT NOT NULL,
    status     TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS flow_outcomes_run_idx ON flow_outcomes (run_id);
`

const (
	sqlUpsertRun = `
        INSERT INTO flow_runs (id, start_url, final_url, status, steps, corrections, stop_reason, error, passes, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            final_url = EXCLUDED.final_url,
            status = EXCLUDED.status,
            steps = EXCLUDED.steps,
            corrections = EXCLUDED.corrections,
            stop_reason = EXCLUDED.stop_reason,
            error = EXCLUDED.error,
            passes = EXCLUDED.passes,
            finished_at = EXCLUDED.finished_at;
    `
	sqlDeleteOutcomes = `DELETE FROM flow_outcomes WHERE run_id = $1;`

	sqlSelectRun = `
        SELECT id, start_url, final_url, status, steps, corrections, stop_reason, error, passes, started_at, finished_at
        FROM flow_runs
        WHERE id = $1;
    `
	sqlListRuns = `
        SELECT id, start_url, final_url, status, steps, corrections, stop_reason, error, started_at, finished_at
        FROM flow_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

var outcomeColumns = []string{"run_id", "pass_index", "step", "correction", "field_key", "field_type", "status", "reason"}

// Store provides a PostgreSQL implementation of run history.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveReport writes the run and its per-field outcomes in one transaction.
// Saving the same run again replaces it.
func (s *Store) SaveReport(ctx context.Context, report schemas.FlowReport) error {
	if report.RunID == "" {
		return fmt.Errorf("cannot save a report without a run id")
	}
	passes := report.Passes
	if passes == nil {
		passes = []schemas.PassSummary{}
	}
	passesJSON, err := json.Marshal(passes)
	if err != nil {
		return fmt.Errorf("failed to encode passes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlUpsertRun,
		report.RunID, report.StartURL, report.FinalURL, string(report.Status),
		report.Steps, report.Corrections, report.StopReason, report.Error,
		passesJSON, report.StartedAt.UTC(), nullableTime(report.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", report.RunID, err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteOutcomes, report.RunID); err != nil {
		return fmt.Errorf("failed to clear outcomes of run %s: %w", report.RunID, err)
	}
	if err := s.copyOutcomes(ctx, tx, report.RunID, passes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", report.RunID), zap.Int("passes", len(passes)))
	return nil
}

func (s *Store) copyOutcomes(ctx context.Context, tx pgx.Tx, runID string, passes []schemas.PassSummary) error {
	var rows [][]interface{}
	for i, p := range passes {
		for _, o := range p.Outcomes {
			rows = append(rows, []interface{}{
				runID, i, p.Step, p.Correction,
				o.Key, string(o.Type), string(o.Status), o.Reason,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"flow_outcomes"}, outcomeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy outcomes: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied outcomes count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// GetReport loads one run including its passes.
func (s *Store) GetReport(ctx context.Context, runID string) (schemas.FlowReport, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRun, runID)
	if err != nil {
		return schemas.FlowReport{}, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return schemas.FlowReport{}, fmt.Errorf("error during row iteration: %w", err)
		}
		return schemas.FlowReport{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	var (
		r          schemas.FlowReport
		status     string
		passesJSON []byte
		finishedAt *time.Time
	)
	if err := rows.Scan(&r.RunID, &r.StartURL, &r.FinalURL, &status, &r.Steps, &r.Corrections,
		&r.StopReason, &r.Error, &passesJSON, &r.StartedAt, &finishedAt); err != nil {
		return schemas.FlowReport{}, fmt.Errorf("failed to scan run row: %w", err)
	}
	r.Status = schemas.RunStatus(status)
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	if len(passesJSON) > 0 {
		if err := json.Unmarshal(passesJSON, &r.Passes); err != nil {
			return schemas.FlowReport{}, fmt.Errorf("failed to decode passes of run %s: %w", runID, err)
		}
	}
	return r, nil
}

// ListReports returns the most recent runs without their passes.
func (s *Store) ListReports(ctx context.Context, limit int) ([]schemas.FlowReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var reports []schemas.FlowReport
	for rows.Next() {
		var (
			r          schemas.FlowReport
			status     string
			finishedAt *time.Time
		)
		if err := rows.Scan(&r.RunID, &r.StartURL, &r.FinalURL, &status, &r.Steps, &r.Corrections,
			&r.StopReason, &r.Error, &r.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Status = schemas.RunStatus(status)
		if finishedAt != nil {
			r.FinishedAt = *finishedAt
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reports, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
