package orchestrator

import "github.com/mpataki/textflow/internal/models"

const (
	StatusStarted           = "started"
	StatusCompleted         = "completed"
	StatusWorkflowCompleted = "workflow_completed"
)

// Event is one run-lifecycle record for streaming consumers. Exactly one of
// the shapes is populated: step started, step chunk, step completed, run
// completed, or error.
type Event struct {
	Step        int           `json:"step,omitempty"`
	Action      models.Action `json:"action,omitempty"`
	Status      string        `json:"status,omitempty"`
	Chunk       string        `json:"chunk,omitempty"`
	FinalOutput *string       `json:"final_output,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Emitter receives events in order. A nil Emitter drops them.
type Emitter func(Event)

func (e Emitter) emit(ev Event) {
	if e != nil {
		e(ev)
	}
}

type StepResult struct {
	Step        int           `json:"step"`
	Action      models.Action `json:"action"`
	Status      string        `json:"status"`
	FinalOutput string        `json:"final_output"`
}

// RunResult is the synchronous outcome of a completed run.
type RunResult struct {
	Status string       `json:"status"`
	RunID  string       `json:"run_id"`
	Steps  []StepResult `json:"steps"`
}
