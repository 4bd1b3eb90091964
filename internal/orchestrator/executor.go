package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/metrics"
	"github.com/mpataki/textflow/internal/models"
)

const retryNotice = "The previous attempt returned an empty response. Please try again carefully.\n\n"

const tracerName = "github.com/mpataki/textflow/internal/orchestrator"

// StepExecutor runs one workflow step: prompt assembly, the completion call
// and output parsing, retrying while the extracted output is empty.
type StepExecutor struct {
	registry   *actions.Registry
	model      string
	maxRetries int
	log        zerolog.Logger
	metrics    *metrics.Recorder
	tracer     trace.Tracer
}

type ExecutorOption func(*StepExecutor)

func WithModel(model string) ExecutorOption {
	return func(e *StepExecutor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxRetries sets how many extra attempts follow an empty response.
func WithMaxRetries(n int) ExecutorOption {
	return func(e *StepExecutor) {
		if n < 0 {
			n = 0
		}
		e.maxRetries = n
	}
}

func WithExecutorLogger(l zerolog.Logger) ExecutorOption {
	return func(e *StepExecutor) { e.log = l }
}

func WithExecutorMetrics(m *metrics.Recorder) ExecutorOption {
	return func(e *StepExecutor) { e.metrics = m }
}

// WithTracerProvider replaces the global provider for step and completion
// spans.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *StepExecutor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

func NewStepExecutor(registry *actions.Registry, opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{
		registry:   registry,
		model:      llm.DefaultModel,
		maxRetries: 1,
		log:        zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute returns the step output and the number of completion calls made.
// Authentication and transport errors are returned as is and never retried.
// When every attempt comes back empty the output is "" with a nil error.
func (e *StepExecutor) Execute(ctx context.Context, client llm.Client, action models.Action, input string) (string, int, error) {
	ctx, span := e.tracer.Start(ctx, "textflow.step",
		trace.WithAttributes(attribute.String("textflow.action", string(action))))
	defer span.End()

	start := time.Now()
	log := e.log.With().Str("action", string(action)).Logger()

	prompt, err := e.registry.BuildPrompt(action, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", 0, err
	}

	total := e.maxRetries + 1
	for attempt := 1; attempt <= total; attempt++ {
		content, err := e.complete(ctx, client, action, prompt, attempt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", attempt, err
		}

		var output string
		if content != "" {
			output = e.parse(log, action, content)
		}
		if output != "" {
			span.SetAttributes(attribute.Int("textflow.attempts", attempt))
			e.metrics.Step(string(action), attempt, time.Since(start))
			return output, attempt, nil
		}

		if attempt < total {
			log.Warn().Int("attempt", attempt).Msg("empty output, retrying")
			prompt = retryNotice + prompt
		}
	}

	log.Warn().Int("attempts", total).Msg("retries exhausted with empty output")
	span.SetAttributes(attribute.Int("textflow.attempts", total))
	e.metrics.Step(string(action), total, time.Since(start))
	return "", total, nil
}

func (e *StepExecutor) complete(ctx context.Context, client llm.Client, action models.Action, prompt string, attempt int) (string, error) {
	ctx, span := e.tracer.Start(ctx, "textflow.llm.complete",
		trace.WithAttributes(
			attribute.String("textflow.action", string(action)),
			attribute.Int("textflow.attempt", attempt),
		))
	defer span.End()

	resp, err := client.Complete(ctx, llm.UserPrompt(e.model, prompt))
	if err != nil {
		outcome := "error"
		if errors.Is(err, llm.ErrAuthentication) {
			outcome = "auth_error"
		}
		e.metrics.LLMCall(string(action), outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if resp.Content == "" {
		e.metrics.LLMCall(string(action), "empty")
		return "", nil
	}
	e.metrics.LLMCall(string(action), "ok")
	return resp.Content, nil
}

func (e *StepExecutor) parse(log zerolog.Logger, action models.Action, content string) string {
	return e.registry.Parse(action, content, func(err error) {
		log.Warn().Err(err).Msg("structured output unusable, falling back to raw text")
		e.metrics.OutputFallback(string(action))
	})
}
