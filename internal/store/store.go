package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/reporting"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
        CREATE TABLE IF NOT EXISTS e2e_runs (
            id UUID PRIMARY KEY,
            title TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            ended_at TIMESTAMPTZ NOT NULL,
            total INTEGER NOT NULL,
            passed INTEGER NOT NULL,
            failed INTEGER NOT NULL,
            errors INTEGER NOT NULL,
            skipped INTEGER NOT NULL
        );
        CREATE TABLE IF NOT EXISTS e2e_results (
            run_id UUID NOT NULL REFERENCES e2e_runs (id) ON DELETE CASCADE,
            test_id TEXT NOT NULL,
            title TEXT NOT NULL,
            outcome TEXT NOT NULL,
            phase TEXT NOT NULL,
            message TEXT NOT NULL,
            duration_ms BIGINT NOT NULL,
            log TEXT NOT NULL,
            screenshot_path TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (run_id, test_id)
        );
    `

const insertRunSQL = `
        INSERT INTO e2e_runs (id, title, started_at, ended_at, total, passed, failed, errors, skipped)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

var resultColumns = []string{
	"run_id", "test_id", "title", "outcome", "phase", "message",
	"duration_ms", "log", "screenshot_path", "started_at",
}

// Result is one persisted test record.
type Result struct {
	RunID          string
	TestID         string
	Title          string
	Outcome        reporting.Outcome
	Phase          reporting.Phase
	Message        string
	Duration       time.Duration
	Log            string
	ScreenshotPath string
	StartedAt      time.Time
}

// Store keeps the history of test runs in PostgreSQL.
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

// EnsureSchema creates the run and result tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run summary and every record in a single transaction.
func (s *Store) SaveRun(ctx context.Context, run *reporting.Run) error {
	if run == nil {
		return errors.New("cannot save a nil run")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	ended := run.Ended
	if ended.IsZero() {
		ended = time.Now()
	}
	sum := run.Summary()
	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.Title, run.Started.UTC(), ended.UTC(),
		sum.Total, sum.Passed, sum.Failed, sum.Errors, sum.Skipped,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(run.Records) > 0 {
		if err := s.persistResults(ctx, tx, run); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", run.ID), zap.Int("results", len(run.Records)))
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, run *reporting.Run) error {
	rows := make([][]interface{}, len(run.Records))
	for i, rec := range run.Records {
		screenshot := ""
		if a := rec.Artifact(); a != nil {
			screenshot = a.Path
		}
		rows[i] = []interface{}{
			run.ID, rec.ID, rec.Title,
			string(rec.Outcome()), string(rec.Phase()), rec.Message(),
			rec.Duration.Milliseconds(), rec.Log(), screenshot,
			rec.Start.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"e2e_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// Results returns the records of a run in execution order.
func (s *Store) Results(ctx context.Context, runID string) ([]Result, error) {
	query := `
        SELECT test_id, title, outcome, phase, message, duration_ms, log, screenshot_path, started_at
        FROM e2e_results
        WHERE run_id = $1
        ORDER BY started_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r              Result
			outcome, phase string
			durationMillis int64
		)
		if err := rows.Scan(
			&r.TestID, &r.Title, &outcome, &phase, &r.Message,
			&durationMillis, &r.Log, &r.ScreenshotPath, &r.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.RunID = runID
		r.Outcome = reporting.Outcome(outcome)
		r.Phase = reporting.Phase(phase)
		r.Duration = time.Duration(durationMillis) * time.Millisecond
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}
