package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mpataki/textflow/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `SELECT 1`)
	return err
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		steps TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id),
		input_text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workflow_step_runs (
		id TEXT PRIMARY KEY,
		workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id),
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		output_text TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(workflow_run_id, step_order)
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_name ON workflows(name);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON workflow_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_step_runs_run ON workflow_step_runs(workflow_run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, string(steps), wf.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, steps, created_at FROM workflows WHERE id = ?`, id,
	)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, limit int) ([]*models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, steps, created_at FROM workflows ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var wf models.Workflow
	var description sql.NullString
	var steps string

	if err := row.Scan(&wf.ID, &wf.Name, &description, &steps, &wf.CreatedAt); err != nil {
		return nil, err
	}
	wf.Description = description.String
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow_id, input_text, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.InputText, run.Status, run.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, nullString(errMsg), completedAt, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, input_text, status, error, created_at, completed_at
		 FROM workflow_runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	runs, err := s.listRunRows(ctx, limit)
	if err != nil {
		return nil, err
	}

	// Step runs are loaded after the run cursor is closed: the pool holds a
	// single connection.
	for _, run := range runs {
		run.StepRuns, err = s.GetStepRunsForRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) listRunRows(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, input_text, status, error, created_at, completed_at
		 FROM workflow_runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.InputText, &run.Status,
		&errMsg, &run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (s *SQLiteStore) CreateStepRun(ctx context.Context, step *models.StepRun) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_step_runs (id, workflow_run_id, step_order, step_type, output_text, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.StepOrder, string(step.Action), step.OutputText, step.Attempts, step.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetStepRunsForRun(ctx context.Context, runID string) ([]*models.StepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_run_id, step_order, step_type, output_text, attempts, created_at
		 FROM workflow_step_runs WHERE workflow_run_id = ? ORDER BY step_order`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.StepRun
	for rows.Next() {
		var step models.StepRun
		var action string
		var output sql.NullString

		err := rows.Scan(
			&step.ID, &step.RunID, &step.StepOrder, &action,
			&output, &step.Attempts, &step.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		step.Action = models.Action(action)
		step.OutputText = output.String
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_step_runs WHERE workflow_run_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM workflow_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
