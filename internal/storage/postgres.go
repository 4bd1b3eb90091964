package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpataki/textflow/internal/models"
)

// PostgresStore is the Store used when several API instances share one
// database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects with a postgres:// URL and applies the schema.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: connect: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage/postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		steps JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id),
		input_text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS workflow_step_runs (
		id TEXT PRIMARY KEY,
		workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		output_text TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(workflow_run_id, step_order)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON workflow_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_step_runs_run ON workflow_step_runs(workflow_run_id);
	`)
	return err
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}

	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows (id, name, description, steps, created_at) VALUES ($1, $2, $3, $4, $5)`,
		wf.ID, wf.Name, wf.Description, steps, wf.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, steps, created_at FROM workflows WHERE id = $1`, id,
	)
	wf, err := scanPgWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, limit int) ([]*models.Workflow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, steps, created_at FROM workflows ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanPgWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func scanPgWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var description *string
	var steps []byte

	if err := row.Scan(&wf.ID, &wf.Name, &description, &steps, &wf.CreatedAt); err != nil {
		return nil, err
	}
	if description != nil {
		wf.Description = *description
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_runs (id, workflow_id, input_text, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.WorkflowID, run.InputText, string(run.Status), run.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	var errText *string
	if errMsg != "" {
		errText = &errMsg
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(status), errText, completedAt, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgRunColumns = `id, workflow_id, input_text, status, error, created_at, completed_at`

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM workflow_runs WHERE id = $1`, id)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.StepRuns, err = s.GetStepRunsForRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRunColumns+` FROM workflow_runs ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}

	var runs []*models.Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		run.StepRuns, err = s.GetStepRunsForRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func scanPgRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var status string
	var errMsg *string

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.InputText, &status,
		&errMsg, &run.CreatedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

func (s *PostgresStore) DeleteRun(ctx context.Context, id string) error {
	// step runs go with the run via ON DELETE CASCADE
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateStepRun(ctx context.Context, step *models.StepRun) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_step_runs (id, workflow_run_id, step_order, step_type, output_text, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.ID, step.RunID, step.StepOrder, string(step.Action), step.OutputText, step.Attempts, step.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetStepRunsForRun(ctx context.Context, runID string) ([]*models.StepRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_run_id, step_order, step_type, output_text, attempts, created_at
		 FROM workflow_step_runs WHERE workflow_run_id = $1 ORDER BY step_order`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.StepRun
	for rows.Next() {
		var step models.StepRun
		var action string
		var output *string

		err := rows.Scan(
			&step.ID, &step.RunID, &step.StepOrder, &action,
			&output, &step.Attempts, &step.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		step.Action = models.Action(action)
		if output != nil {
			step.OutputText = *output
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}
