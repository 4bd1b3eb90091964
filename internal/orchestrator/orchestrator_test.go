package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/models"
)

func workflow(steps ...models.Action) *models.Workflow {
	wf := &models.Workflow{ID: "wf-1", Name: "test"}
	for _, a := range steps {
		wf.Steps = append(wf.Steps, models.Step{Action: a})
	}
	return wf
}

func newOrchestrator(store RunStore) *Orchestrator {
	return New(store, NewStepExecutor(actions.NewRegistry()))
}

type recorder struct {
	events []Event
}

func (r *recorder) emit(ev Event) { r.events = append(r.events, ev) }

func TestRunChainsStepOutputs(t *testing.T) {
	store := newMemStore()
	client := script(
		reply{content: `{"cleaned_text": "Clean text."}`},
		reply{content: `{"summary": "Short."}`},
		reply{content: `{"points": ["one", "two"]}`},
	)

	wf := workflow(models.ActionClean, models.ActionSummarize, models.ActionKeypoints)
	result, err := newOrchestrator(store).Run(context.Background(), wf, "raw  input", client, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusWorkflowCompleted, result.Status)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "Clean text.", result.Steps[0].FinalOutput)
	assert.Equal(t, "Short.", result.Steps[1].FinalOutput)
	assert.Equal(t, "- one\n- two", result.Steps[2].FinalOutput)

	assert.Contains(t, client.prompt(0), "raw  input")
	assert.Contains(t, client.prompt(1), "Clean text.")
	assert.Contains(t, client.prompt(2), "Short.")

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "wf-1", run.WorkflowID)
	require.Len(t, run.StepRuns, 3)
	for i, step := range run.StepRuns {
		assert.Equal(t, i+1, step.StepOrder)
		assert.Equal(t, wf.Steps[i].Action, step.Action)
		assert.Equal(t, result.Steps[i].FinalOutput, step.OutputText)
		assert.Equal(t, 1, step.Attempts)
	}
}

func TestRunAuthenticationFailureStopsRun(t *testing.T) {
	store := newMemStore()
	client := script(
		reply{content: `{"cleaned_text": "ok"}`},
		reply{err: &llm.APIError{StatusCode: 401, Message: "Invalid API Key"}},
	)
	events := &recorder{}

	wf := workflow(models.ActionClean, models.ActionSummarize, models.ActionKeypoints)
	result, err := newOrchestrator(store).Run(context.Background(), wf, "input", client, events.emit)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, llm.ErrAuthentication)
	assert.Equal(t, 2, client.calls())

	runs, _ := store.ListRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, invalidKeyMessage, runs[0].Error)
	require.Len(t, runs[0].StepRuns, 1)
	assert.Equal(t, 1, runs[0].StepRuns[0].StepOrder)

	last := events.events[len(events.events)-1]
	assert.Equal(t, Event{Error: invalidKeyMessage}, last)
}

func TestRunUnknownActionFailsBeforeAnyCall(t *testing.T) {
	store := newMemStore()
	client := script(reply{content: `{"result": "x"}`})

	_, err := newOrchestrator(store).Run(context.Background(), workflow("translate"), "input", client, nil)
	assert.ErrorIs(t, err, actions.ErrUnknownAction)
	assert.Equal(t, 0, client.calls())

	runs, _ := store.ListRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Empty(t, runs[0].StepRuns)
}

func TestRunStepPersistenceFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.stepErr = errors.New("disk full")
	client := script(reply{content: `{"cleaned_text": "ok"}`})

	_, err := newOrchestrator(store).Run(context.Background(), workflow(models.ActionClean, models.ActionSummarize), "input", client, nil)
	assert.ErrorIs(t, err, store.stepErr)
	assert.Equal(t, 1, client.calls())

	runs, _ := store.ListRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestRunSwallowsFailureToMarkFailed(t *testing.T) {
	store := newMemStore()
	store.updateErr = errors.New("database is locked")
	client := script(reply{err: errTransport})

	_, err := newOrchestrator(store).Run(context.Background(), workflow(models.ActionClean), "input", client, nil)
	assert.ErrorIs(t, err, errTransport)
	assert.NotErrorIs(t, err, store.updateErr)
}

func TestRunPersistsEmptyOutputAndContinues(t *testing.T) {
	store := newMemStore()
	client := script(
		reply{content: ""},
		reply{content: ""},
		reply{content: `{"summary": "From nothing."}`},
	)
	events := &recorder{}

	wf := workflow(models.ActionClean, models.ActionSummarize)
	result, err := newOrchestrator(store).Run(context.Background(), wf, "input", client, events.emit)
	require.NoError(t, err)

	assert.Equal(t, "", result.Steps[0].FinalOutput)
	assert.Equal(t, "From nothing.", result.Steps[1].FinalOutput)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.StepRuns[0].Attempts)
	assert.Equal(t, "", run.StepRuns[0].OutputText)

	// no chunk for the empty step, but its completed event still carries the output
	assert.Equal(t, Event{Step: 1, Action: models.ActionClean, Status: StatusStarted}, events.events[0])
	assert.Equal(t, StatusCompleted, events.events[1].Status)
	line, err := json.Marshal(events.events[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1,"status":"completed","final_output":""}`, string(line))
}

func TestStreamingMatchesSynchronousResult(t *testing.T) {
	replies := []reply{
		{content: `{"simplified_text": "Easy words."}`},
		{content: `{"tone": "calm", "explanation": "measured language"}`},
	}
	wf := workflow(models.ActionSimplify, models.ActionSentiment)

	syncResult, err := newOrchestrator(newMemStore()).Run(context.Background(), wf, "input", script(replies...), nil)
	require.NoError(t, err)

	events := &recorder{}
	streamResult, err := newOrchestrator(newMemStore()).Run(context.Background(), wf, "input", script(replies...), events.emit)
	require.NoError(t, err)

	assert.Equal(t, syncResult.Steps, streamResult.Steps)

	simplified := "Easy words."
	tone := "Tone: calm\nExplanation: measured language"
	expected := []Event{
		{Step: 1, Action: models.ActionSimplify, Status: StatusStarted},
		{Step: 1, Chunk: simplified},
		{Step: 1, Status: StatusCompleted, FinalOutput: &simplified},
		{Step: 2, Action: models.ActionSentiment, Status: StatusStarted},
		{Step: 2, Chunk: tone},
		{Step: 2, Status: StatusCompleted, FinalOutput: &tone},
		{Status: StatusWorkflowCompleted, RunID: streamResult.RunID},
	}
	assert.Equal(t, expected, events.events)
}

func TestRunCancelledMarksFailedWithDetachedContext(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	client := &cancellingClient{cancel: cancel}

	_, err := newOrchestrator(store).Run(ctx, workflow(models.ActionClean, models.ActionSummarize), "input", client, nil)
	assert.ErrorIs(t, err, context.Canceled)

	runs, _ := store.ListRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Empty(t, runs[0].StepRuns)
	require.Len(t, store.updateCtxErrs, 1)
	assert.NoError(t, store.updateCtxErrs[0])
}

// cancellingClient cancels the run while its call is in flight.
type cancellingClient struct {
	cancel context.CancelFunc
}

func (c *cancellingClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReadOperations(t *testing.T) {
	store := newMemStore()
	o := newOrchestrator(store)
	client := script(reply{content: `{"category": "Finance"}`})

	result, err := o.Run(context.Background(), workflow(models.ActionClassify), "input", client, nil)
	require.NoError(t, err)

	run, err := o.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Finance", run.StepRuns[0].OutputText)

	runs, err := o.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, o.DeleteRun(context.Background(), result.RunID))
	_, err = o.GetRun(context.Background(), result.RunID)
	assert.Error(t, err)
}
