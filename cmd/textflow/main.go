package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/textflow/internal/api"
	"github.com/mpataki/textflow/internal/definition"
	"github.com/mpataki/textflow/internal/orchestrator"
	"github.com/mpataki/textflow/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// errReported marks a failure the command already wrote to its output.
var errReported = errors.New("already reported")

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "textflow",
		Short: "LLM text-transformation workflows",
		Long:  "Textflow chains LLM text transformations into workflows and records every run.",
		RunE:  runTUI,

		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: ./textflow.yaml or <data_dir>/textflow.yaml)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newActionsCommand())
	rootCmd.AddCommand(newValidateKeyCommand())

	return rootCmd
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(tui.NewApp(a.orch, a.store), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	_, err = p.Run()
	return err
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			server := api.NewServer(api.Deps{
				Store:        a.store,
				Orchestrator: a.orch,
				Registry:     a.registry,
				Clients:      a.clients,
				Metrics:      a.metrics,
				Log:          a.log,
			}, api.Options{
				RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
				CORSOrigins:        a.cfg.Server.CORSOrigins,
				TracerProvider:     a.tracerProvider(),
			})

			if !a.clients.HasDefault() {
				a.log.Warn().Msg("no default API key configured, requests must send " + api.HeaderAPIKey)
			}

			serverErrors := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", addr).Msg("server listening")
				serverErrors <- server.Start(addr)
			}()

			select {
			case err := <-serverErrors:
				return err
			case <-cmd.Context().Done():
				a.log.Info().Msg("shutdown signal received")

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("server shutdown: %w", err)
				}
				a.log.Info().Msg("server stopped gracefully")
				return nil
			}
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")
	return cmd
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-id|file|name> [input]",
		Short: "Run a workflow on input text",
		Long:  "Run a workflow on input text. Input comes from the second argument, --file, or stdin when it is '-'.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, _ := cmd.Flags().GetBool("stream")
			apiKey, _ := cmd.Flags().GetString("api-key")
			inputFile, _ := cmd.Flags().GetString("file")

			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			raw, err := readInput(args, inputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			input, err := definition.ValidateInput(raw)
			if err != nil {
				return err
			}

			wf, err := a.resolveWorkflow(ctx, args[0])
			if err != nil {
				return err
			}

			client, err := a.clients.Client(apiKey)
			if err != nil {
				return errors.New(orchestrator.HumanizeError(err))
			}

			out := cmd.OutOrStdout()
			var emit orchestrator.Emitter
			if stream {
				enc := json.NewEncoder(out)
				enc.SetEscapeHTML(false)
				emit = func(ev orchestrator.Event) {
					_ = enc.Encode(ev)
				}
			}

			result, err := a.orch.Run(ctx, wf, input, client, emit)
			if err != nil {
				if stream {
					return errReported
				}
				return errors.New(orchestrator.HumanizeError(err))
			}

			if !stream {
				printResult(out, wf.Name, result)
			}
			return nil
		},
	}

	cmd.Flags().Bool("stream", false, "Print NDJSON events as the run progresses")
	cmd.Flags().String("api-key", "", "LLM provider API key (default: configured key)")
	cmd.Flags().StringP("file", "f", "", "Read input text from a file")
	return cmd
}

func readInput(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file != "" && len(args) > 1:
		return "", errors.New("give input as an argument or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	case len(args) > 1 && args[1] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case len(args) > 1:
		return args[1], nil
	}
	return "", errors.New("missing input text")
}

func printResult(w io.Writer, name string, result *orchestrator.RunResult) {
	fmt.Fprintf(w, "Run %s: %s [%s]\n", result.RunID, name, result.Status)
	for _, step := range result.Steps {
		fmt.Fprintf(w, "\n== Step %d: %s ==\n", step.Step, step.Action)
		if step.FinalOutput == "" {
			fmt.Fprintln(w, "(empty output)")
			continue
		}
		fmt.Fprintln(w, step.FinalOutput)
	}
}

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <file>",
		Short: "Create a workflow from a YAML or Lua definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, err := a.loader.Parse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.saveWorkflow(cmd.Context(), wf); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s (%s)\n", wf.ID, wf.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			workflows, err := a.store.ListWorkflows(cmd.Context(), 100)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(workflows) == 0 {
				fmt.Fprintln(out, "No workflows found.")
				return nil
			}
			for _, wf := range workflows {
				fmt.Fprintf(out, "%s %s [%d steps]\n", wf.ID, wf.Name, len(wf.Steps))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, err := a.store.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get workflow: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow %s: %s\n", wf.ID, wf.Name)
			if wf.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", wf.Description)
			}
			fmt.Fprintln(out, "\nSteps:")
			for i, step := range wf.Steps {
				fmt.Fprintf(out, "  %d. %s\n", i+1, step.Action)
			}
			return nil
		},
	})

	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.orch.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Fprintf(out, "%s [%s] %d steps  %s\n",
					run.ID, run.Status, len(run.StepRuns),
					truncate(strings.Join(strings.Fields(run.InputText), " "), 50))
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s\n", run.ID)
			fmt.Fprintf(out, "Workflow: %s\n", run.WorkflowID)
			fmt.Fprintf(out, "Status: %s\n", run.Status)
			fmt.Fprintf(out, "Input: %s\n", truncate(run.InputText, 200))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "Duration: %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}

			if len(run.StepRuns) > 0 {
				fmt.Fprintln(out, "\nSteps:")
				for _, step := range run.StepRuns {
					fmt.Fprintf(out, "  %d. %s [%d attempts]\n", step.StepOrder, step.Action, step.Attempts)
				}
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its step records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}

func newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List available actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, action := range a.registry.Actions() {
				schema, err := a.registry.Schema(action)
				if err != nil {
					return err
				}
				kind := ""
				if schema.Generic {
					kind = " (custom)"
				}
				fmt.Fprintf(out, "%-12s %s%s\n", action, strings.Join(schema.Fields(), ", "), kind)
			}
			return nil
		},
	}
}

func newValidateKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-key [key]",
		Short: "Check an API key against the provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			key := a.cfg.LLM.APIKey
			if len(args) == 1 {
				key = args[0]
			}

			if err := a.clients.ValidateKey(cmd.Context(), key); err != nil {
				return errors.New(orchestrator.HumanizeError(err))
			}

			fmt.Fprintln(cmd.OutOrStdout(), "API key is valid.")
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
