package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/models"
)

func newExecutor(maxRetries int) *StepExecutor {
	return NewStepExecutor(actions.NewRegistry(), WithMaxRetries(maxRetries), WithModel("test-model"))
}

func TestExecuteRetriesUntilExhausted(t *testing.T) {
	client := script(reply{content: ""})

	out, attempts, err := newExecutor(2).Execute(context.Background(), client, models.ActionSummarize, "some text")
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, client.calls())

	assert.False(t, strings.HasPrefix(client.prompt(0), retryNotice))
	assert.True(t, strings.HasPrefix(client.prompt(1), retryNotice))
	assert.True(t, strings.HasPrefix(client.prompt(2), retryNotice+retryNotice))
}

func TestExecuteStopsOnFirstUsableOutput(t *testing.T) {
	client := script(
		reply{content: ""},
		reply{content: `{"summary": "A short summary."}`},
		reply{content: `{"summary": "never requested"}`},
	)

	out, attempts, err := newExecutor(2).Execute(context.Background(), client, models.ActionSummarize, "some text")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", out)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, client.calls())
}

func TestExecuteWhitespaceCountsAsEmpty(t *testing.T) {
	client := script(reply{content: "   \n"}, reply{content: `{"category": "Science"}`})

	out, attempts, err := newExecutor(1).Execute(context.Background(), client, models.ActionClassify, "text")
	require.NoError(t, err)
	assert.Equal(t, "Science", out)
	assert.Equal(t, 2, attempts)
}

func TestExecuteDoesNotRetryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"authentication", &llm.APIError{StatusCode: 401, Message: "Invalid API Key"}},
		{"transport", errTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := script(reply{err: tt.err})

			_, attempts, err := newExecutor(3).Execute(context.Background(), client, models.ActionClean, "text")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, attempts)
			assert.Equal(t, 1, client.calls())
		})
	}
}

func TestExecuteUnknownActionMakesNoCalls(t *testing.T) {
	client := script(reply{content: `{"result": "x"}`})

	_, attempts, err := newExecutor(1).Execute(context.Background(), client, models.Action("translate"), "text")
	assert.ErrorIs(t, err, actions.ErrUnknownAction)
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, client.calls())
}

func TestExecuteFallsBackToRawText(t *testing.T) {
	client := script(reply{content: "  Here is your summary: things happened.  "})

	out, attempts, err := newExecutor(1).Execute(context.Background(), client, models.ActionSummarize, "text")
	require.NoError(t, err)
	assert.Equal(t, "Here is your summary: things happened.", out)
	assert.Equal(t, 1, attempts)
}

func TestExecuteRequestShape(t *testing.T) {
	client := script(reply{content: "```json\n{\"points\": [\"a\", \"b\"]}\n```"})

	out, _, err := newExecutor(1).Execute(context.Background(), client, models.ActionKeypoints, "the input")
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b", out)

	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.True(t, req.JSONMode)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "the input")
}

func TestWithMaxRetriesClampsNegative(t *testing.T) {
	client := script(reply{content: ""})

	_, attempts, err := newExecutor(-4).Execute(context.Background(), client, models.ActionClean, "text")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	client := script(reply{content: ""}, reply{content: `{"summary": "Done."}`})
	exec := NewStepExecutor(actions.NewRegistry(), WithMaxRetries(2), WithTracerProvider(tp))

	_, attempts, err := exec.Execute(context.Background(), client, models.ActionSummarize, "text")
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	spans := sr.Ended()
	require.Len(t, spans, 3)

	step := spans[2]
	assert.Equal(t, "textflow.step", step.Name())
	assert.Contains(t, step.Attributes(), attribute.String("textflow.action", "summarize"))
	assert.Contains(t, step.Attributes(), attribute.Int("textflow.attempts", 2))

	for i, span := range spans[:2] {
		assert.Equal(t, "textflow.llm.complete", span.Name())
		assert.Equal(t, step.SpanContext().SpanID(), span.Parent().SpanID())
		assert.Contains(t, span.Attributes(), attribute.String("textflow.action", "summarize"))
		assert.Contains(t, span.Attributes(), attribute.Int("textflow.attempt", i+1))
	}
}

func TestExecuteRecordsSpanError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	client := script(reply{err: llm.ErrAuthentication})
	exec := NewStepExecutor(actions.NewRegistry(), WithTracerProvider(tp))

	_, _, err := exec.Execute(context.Background(), client, models.ActionClean, "text")
	require.ErrorIs(t, err, llm.ErrAuthentication)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status().Code)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)
	}
}
