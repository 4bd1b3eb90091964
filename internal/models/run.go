package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type Run struct {
	ID          string
	WorkflowID  string
	InputText   string
	Status      RunStatus
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
	StepRuns    []*StepRun
}

// StepRun is the durable, append-only record of one executed step.
type StepRun struct {
	ID         string
	RunID      string
	StepOrder  int // 1-based
	Action     Action
	OutputText string
	Attempts   int
	CreatedAt  time.Time
}
