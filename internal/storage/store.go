package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mpataki/textflow/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// Store persists workflows, runs and the append-only step log of each run.
// Create methods assign an ID and timestamp when the caller left them empty.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, limit int) ([]*models.Workflow, error)

	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error
	// GetRun and ListRuns return runs with their step runs in step order.
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id string) error

	CreateStepRun(ctx context.Context, step *models.StepRun) error
	GetStepRunsForRun(ctx context.Context, runID string) ([]*models.StepRun, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
}
