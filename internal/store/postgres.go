package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the journal can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS run_steps (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    description TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS run_actions (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step_seq    INTEGER NOT NULL,
    seq         INTEGER NOT NULL,
    action_type TEXT NOT NULL,
    parameters  JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, step_seq, seq)
);
CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
`

const (
	sqlInsertRun = `
        INSERT INTO runs (id, task, status, message, started_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlInsertStep = `
        INSERT INTO run_steps (run_id, seq, description, status, result)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (run_id, seq) DO UPDATE SET
            description = EXCLUDED.description,
            status = EXCLUDED.status,
            result = EXCLUDED.result;
    `
	sqlInsertAction = `
        INSERT INTO run_actions (run_id, step_seq, seq, action_type, parameters)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (run_id, step_seq, seq) DO UPDATE SET
            action_type = EXCLUDED.action_type,
            parameters = EXCLUDED.parameters;
    `
	sqlFinishRun = `
        UPDATE runs SET status = $2, message = $3, finished_at = $4
        WHERE id = $1;
    `
	// finished_at is split into a flag and a non-null value to avoid
	// scanning NULL timestamps.
	sqlListRuns = `
        SELECT id, task, status, message, started_at,
               finished_at IS NOT NULL, COALESCE(finished_at, started_at)
        FROM runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	sqlGetRun = `
        SELECT id, task, status, message, started_at,
               finished_at IS NOT NULL, COALESCE(finished_at, started_at)
        FROM runs
        WHERE id = $1;
    `
	sqlGetSteps = `
        SELECT seq, description, status, result
        FROM run_steps
        WHERE run_id = $1
        ORDER BY seq ASC;
    `
	sqlGetActions = `
        SELECT step_seq, seq, action_type, parameters
        FROM run_actions
        WHERE run_id = $1
        ORDER BY step_seq ASC, seq ASC;
    `
)

// Postgres is a journal shared by several machines.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ Store = (*Postgres)(nil)

func connectPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// NewPostgres verifies the connection and creates the journal tables if they
// are missing.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, log: logger.Named("journal")}, nil
}

func (s *Postgres) BeginRun(ctx context.Context, run schemas.Run) error {
	if run.Status == "" {
		run.Status = schemas.RunStatusRunning
	}
	_, err := s.pool.Exec(ctx, sqlInsertRun,
		run.ID, run.Task, string(run.Status), run.Message, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *Postgres) AppendStep(ctx context.Context, runID string, seq int, rec schemas.StepRecord) error {
	_, err := s.pool.Exec(ctx, sqlInsertStep,
		runID, seq, rec.Description, string(rec.Status), rec.Result)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", seq, err)
	}
	return nil
}

func (s *Postgres) AppendAction(ctx context.Context, runID string, step, seq int, rec schemas.ActionRecord) error {
	params := rec.Parameters
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal action parameters: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlInsertAction, runID, step, seq, rec.ActionType, raw); err != nil {
		return fmt.Errorf("failed to insert action %d of step %d: %w", seq, step, err)
	}
	return nil
}

func (s *Postgres) FinishRun(ctx context.Context, runID string, status schemas.RunStatus, message string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, sqlFinishRun, runID, string(status), message, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]schemas.Run, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, sqlListRuns, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []schemas.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (schemas.Run, error) {
	var (
		run      schemas.Run
		status   string
		finished bool
		at       time.Time
	)
	if err := row.Scan(&run.ID, &run.Task, &status, &run.Message, &run.StartedAt, &finished, &at); err != nil {
		return run, err
	}
	run.Status = schemas.RunStatus(status)
	if finished {
		run.FinishedAt = at
	}
	return run, nil
}

func (s *Postgres) GetRun(ctx context.Context, id string) (*schemas.RunDetail, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, sqlGetRun, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	detail := &schemas.RunDetail{Run: run}

	rows, err := s.pool.Query(ctx, sqlGetSteps, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	for rows.Next() {
		step := schemas.JournaledStep{RunID: id}
		var status string
		if err := rows.Scan(&step.Sequence, &step.Record.Description, &status, &step.Record.Result); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		step.Record.Status = schemas.StepStatus(status)
		detail.Steps = append(detail.Steps, step)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during step iteration: %w", err)
	}

	rows, err = s.pool.Query(ctx, sqlGetActions, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		action := schemas.JournaledAction{RunID: id}
		var raw []byte
		if err := rows.Scan(&action.Step, &action.Sequence, &action.Record.ActionType, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		if err := json.Unmarshal(raw, &action.Record.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode action parameters: %w", err)
		}
		detail.Actions = append(detail.Actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during action iteration: %w", err)
	}
	return detail, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
