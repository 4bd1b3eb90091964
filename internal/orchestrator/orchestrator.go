// Package orchestrator executes workflows: each step's output becomes the
// next step's input, and every step is recorded before the next one starts.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/metrics"
	"github.com/mpataki/textflow/internal/models"
)

// RunStore is the persistence the orchestrator needs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error
	CreateStepRun(ctx context.Context, step *models.StepRun) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

type Orchestrator struct {
	store    RunStore
	executor *StepExecutor
	log      zerolog.Logger
	metrics  *metrics.Recorder
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(store RunStore, executor *StepExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		executor: executor,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartRun persists a new run in the running state.
func (o *Orchestrator) StartRun(ctx context.Context, wf *models.Workflow, input string) (*models.Run, error) {
	run := &models.Run{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		InputText:  input,
		Status:     models.RunStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	o.log.Info().
		Str("run_id", run.ID).
		Str("workflow_id", wf.ID).
		Int("steps", len(wf.Steps)).
		Msg("run started")
	return run, nil
}

// Run starts and executes a run. Events are emitted as they happen; the
// returned result is identical whether or not emit is nil.
func (o *Orchestrator) Run(ctx context.Context, wf *models.Workflow, input string, client llm.Client, emit Emitter) (*RunResult, error) {
	run, err := o.StartRun(ctx, wf, input)
	if err != nil {
		emit.emit(Event{Error: HumanizeError(err)})
		return nil, err
	}
	return o.Execute(ctx, run, wf, client, emit)
}

// Execute drives the steps of wf for an already started run. On any error
// the run is marked failed and the original error is returned.
func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, wf *models.Workflow, client llm.Client, emit Emitter) (*RunResult, error) {
	result := &RunResult{RunID: run.ID, Steps: make([]StepResult, 0, len(wf.Steps))}
	current := run.InputText

	for i, step := range wf.Steps {
		order := i + 1
		log := o.log.With().Str("run_id", run.ID).Int("step", order).Str("action", string(step.Action)).Logger()

		emit.emit(Event{Step: order, Action: step.Action, Status: StatusStarted})

		output, attempts, err := o.executor.Execute(ctx, client, step.Action, current)
		if err != nil {
			return nil, o.failRun(ctx, run, emit, err)
		}

		stepRun := &models.StepRun{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			StepOrder:  order,
			Action:     step.Action,
			OutputText: output,
			Attempts:   attempts,
			CreatedAt:  time.Now().UTC(),
		}
		if err := o.store.CreateStepRun(ctx, stepRun); err != nil {
			log.Error().Err(err).Msg("failed to record step")
			return nil, o.failRun(ctx, run, emit, fmt.Errorf("failed to record step %d: %w", order, err))
		}
		run.StepRuns = append(run.StepRuns, stepRun)
		log.Debug().Int("attempts", attempts).Int("output_len", len(output)).Msg("step completed")

		if output != "" {
			emit.emit(Event{Step: order, Chunk: output})
		}
		emit.emit(Event{Step: order, Status: StatusCompleted, FinalOutput: &output})

		result.Steps = append(result.Steps, StepResult{
			Step:        order,
			Action:      step.Action,
			Status:      StatusCompleted,
			FinalOutput: output,
		})
		current = output
	}

	if err := o.completeRun(ctx, run); err != nil {
		return nil, o.failRun(ctx, run, emit, err)
	}

	result.Status = StatusWorkflowCompleted
	emit.emit(Event{Status: StatusWorkflowCompleted, RunID: run.ID})
	return result, nil
}

func (o *Orchestrator) completeRun(ctx context.Context, run *models.Run) error {
	if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now
	o.metrics.Run(string(models.RunStatusCompleted))
	o.log.Info().Str("run_id", run.ID).Int("steps", len(run.StepRuns)).Msg("run completed")
	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *models.Run, emit Emitter, cause error) error {
	msg := HumanizeError(cause)

	run.Status = models.RunStatusFailed
	run.Error = msg
	o.markFailedBestEffort(ctx, run.ID, msg)

	o.metrics.Run(string(models.RunStatusFailed))
	o.log.Error().Err(cause).Str("run_id", run.ID).Msg("run failed")
	emit.emit(Event{Error: msg})
	return cause
}

// markFailedBestEffort attempts the failed-status write once and ignores
// the outcome. It runs detached from ctx cancellation so an interrupted run
// is still recorded.
func (o *Orchestrator) markFailedBestEffort(ctx context.Context, runID, msg string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.UpdateRunStatus(ctx, runID, models.RunStatusFailed, msg); err != nil {
		o.log.Warn().Err(err).Str("run_id", runID).Msg("could not mark run failed")
	}
}

func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	return o.store.ListRuns(ctx, limit)
}

func (o *Orchestrator) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return o.store.GetRun(ctx, id)
}

func (o *Orchestrator) DeleteRun(ctx context.Context, id string) error {
	return o.store.DeleteRun(ctx, id)
}
