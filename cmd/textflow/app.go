package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/config"
	"github.com/mpataki/textflow/internal/definition"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/logging"
	"github.com/mpataki/textflow/internal/metrics"
	"github.com/mpataki/textflow/internal/models"
	"github.com/mpataki/textflow/internal/orchestrator"
	"github.com/mpataki/textflow/internal/storage"
	"github.com/mpataki/textflow/internal/tracing"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    storage.Store
	registry *actions.Registry
	clients  *llm.Factory
	metrics  *metrics.Recorder
	orch     *orchestrator.Orchestrator
	loader   *definition.Loader
	tracer   *sdktrace.TracerProvider
	logFile  *os.File
}

// openApp loads configuration and opens the store. When logToFile is set the
// log goes to textflow.log in the data directory so it cannot corrupt the
// terminal UI.
func openApp(cmd *cobra.Command, logToFile bool) (*app, error) {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a := &app{cfg: cfg}

	var logOut io.Writer = os.Stderr
	if logToFile {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, "textflow.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}
	a.log = logging.New(cfg.Log.Level, cfg.Log.Format, logOut)

	if cfg.Tracing.Enabled {
		a.tracer = tracing.NewProvider(cfg.Tracing.SampleRatio, a.log.With().Str("component", "tracing").Logger())
		otel.SetTracerProvider(a.tracer)
	}

	a.registry = actions.NewRegistry()
	for _, custom := range cfg.Actions {
		if err := a.registry.Register(models.Action(custom.Name), custom.Template); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register action %q: %w", custom.Name, err)
		}
	}

	a.store, err = storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a.clients = llm.NewFactory(cfg.LLM.APIKey,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithLogger(a.log.With().Str("component", "llm").Logger()),
	)
	a.metrics = metrics.NewRecorder()

	executor := orchestrator.NewStepExecutor(a.registry,
		orchestrator.WithModel(cfg.LLM.Model),
		orchestrator.WithMaxRetries(cfg.Executor.MaxRetries),
		orchestrator.WithExecutorLogger(a.log),
		orchestrator.WithExecutorMetrics(a.metrics),
		orchestrator.WithTracerProvider(a.tracerProvider()),
	)
	a.orch = orchestrator.New(a.store, executor,
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(a.metrics),
	)
	a.loader = definition.NewLoader(a.registry.Actions(), a.log)

	return a, nil
}

// tracerProvider is nil when tracing is disabled.
func (a *app) tracerProvider() trace.TracerProvider {
	if a.tracer == nil {
		return nil
	}
	return a.tracer
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to flush spans")
		}
		cancel()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// resolveWorkflow finds a workflow by stored ID, definition file path or
// definition name in the configured workflow directories. Definitions read
// from disk are validated and stored so runs can reference them.
func (a *app) resolveWorkflow(ctx context.Context, ref string) (*models.Workflow, error) {
	wf, err := a.store.GetWorkflow(ctx, ref)
	if err == nil {
		return wf, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if definition.IsDefinition(ref) {
		if _, statErr := os.Stat(ref); statErr == nil {
			wf, err := a.loader.Parse(ctx, ref)
			if err != nil {
				return nil, err
			}
			return a.saveWorkflow(ctx, wf)
		}
	}

	defs, err := a.loader.LoadAll(ctx, a.cfg.WorkflowDirs)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}
	wf, ok := defs[ref]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", ref)
	}
	return a.saveWorkflow(ctx, wf)
}

func (a *app) saveWorkflow(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if err := definition.Validate(wf, a.registry); err != nil {
		return nil, err
	}
	if err := a.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}
	return wf, nil
}
