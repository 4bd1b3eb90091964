package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/textflow/internal/models"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewOutput
	ViewWorkflows
)

const runListLimit = 20

// RunSource is the run history the browser reads and prunes.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

type WorkflowSource interface {
	ListWorkflows(ctx context.Context, limit int) ([]*models.Workflow, error)
}

type App struct {
	runSource      RunSource
	workflowSource WorkflowSource

	view            View
	runs            []*models.Run
	selectedIdx     int
	selectedRun     *models.Run
	selectedStepIdx int
	workflows       []*models.Workflow
	workflowNames   map[string]string

	output  viewport.Model
	spinner spinner.Model

	width  int
	height int
	err    error
}

func NewApp(runs RunSource, workflows WorkflowSource) *App {
	return &App{
		runSource:      runs,
		workflowSource: workflows,
		view:           ViewRunList,
		workflowNames:  make(map[string]string),
		output:         viewport.New(80, 20),
		spinner:        spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(statusRunning)),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.loadWorkflows, a.tickCmd(), a.spinner.Tick)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == models.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.output.Width = msg.Width
		a.output.Height = max(msg.Height-4, 1)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case workflowsLoadedMsg:
		a.err = msg.err
		a.workflows = msg.workflows
		for _, wf := range msg.workflows {
			a.workflowNames[wf.ID] = wf.Name
		}
		return a, nil

	case tickMsg:
		// Only refresh while something is still running
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selectedRun = msg.run
			a.selectedStepIdx = 0
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		if msg.err == nil {
			moveCursor(&a.selectedIdx, len(a.runs)-1, 0)
		}
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewOutput:
		return a.handleOutputKey(msg)
	case ViewWorkflows:
		return a.handleWorkflowsKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		moveCursor(&a.selectedIdx, len(a.runs), -1)

	case "down", "j":
		moveCursor(&a.selectedIdx, len(a.runs), 1)

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "w":
		a.view = ViewWorkflows
		return a, a.loadWorkflows

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.selectedStepIdx = 0
		return a, a.loadRuns

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k", "down", "j":
		if a.selectedRun != nil {
			delta := 1
			if k := msg.String(); k == "up" || k == "k" {
				delta = -1
			}
			moveCursor(&a.selectedStepIdx, len(a.selectedRun.StepRuns), delta)
		}

	case "enter", "o":
		if a.selectedRun != nil && a.selectedStepIdx < len(a.selectedRun.StepRuns) {
			step := a.selectedRun.StepRuns[a.selectedStepIdx]
			a.showOutput(fmt.Sprintf("Step %d: %s", step.StepOrder, step.Action), step.OutputText)
		}

	case "i":
		if a.selectedRun != nil {
			a.showOutput("Input", a.selectedRun.InputText)
		}
	}

	return a, nil
}

func (a *App) showOutput(title, content string) {
	if content == "" {
		content = "(empty output)"
	}
	a.output.SetContent(titleStyle.Render(title) + "\n\n" + content)
	a.output.GotoTop()
	a.view = ViewOutput
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.output, cmd = a.output.Update(msg)
	return a, cmd
}

func (a *App) handleWorkflowsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList

	case "ctrl+c":
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewOutput:
		return a.output.View() + "\n" + helpStyle.Render("[↑/↓] scroll  [esc] back")
	case ViewWorkflows:
		return a.viewWorkflows()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("textflow") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with 'textflow run'.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [w] workflows  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	name := a.workflowNames[run.WorkflowID]
	if name == "" {
		name = shortID(run.WorkflowID)
	}
	return fmt.Sprintf("%s  %-18s %s  %-4s  %s",
		shortID(run.ID), truncate(name, 18), a.formatStatus(run.Status), formatAge(run.CreatedAt),
		truncate(oneLine(run.InputText), 35))
}

func (a *App) formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return a.spinner.View() + statusRunning.Render("running")
	case models.RunStatusCompleted:
		return statusCompleted.Render("✓ completed")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return string(status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}
	run := a.selectedRun

	header := fmt.Sprintf("Run %s", shortID(run.ID))
	if name := a.workflowNames[run.WorkflowID]; name != "" {
		header += ": " + name
	}
	s := titleStyle.Render(header) + "  " + a.formatStatus(run.Status) + "\n\n"

	s += truncate(oneLine(run.InputText), 200) + "\n\n"

	if run.CompletedAt != nil {
		s += labelStyle.Render("Duration: ") + dimStyle.Render(formatDuration(run.CompletedAt.Sub(run.CreatedAt))) + "\n"
	}
	if run.Error != "" {
		s += labelStyle.Render("Error: ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\n"

	s += "Steps\n"
	s += "─────\n"

	if len(run.StepRuns) == 0 {
		s += "(no steps recorded)\n"
	}
	for i, step := range run.StepRuns {
		line := fmt.Sprintf("%d. %-10s %s", step.StepOrder, step.Action, statusCompleted.Render("✓"))
		if step.Attempts > 1 {
			line += "  " + statusRunning.Render(fmt.Sprintf("%d attempts", step.Attempts))
		}
		line += "  " + dimStyle.Render(truncate(oneLine(step.OutputText), 50))

		if i == a.selectedStepIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] output  [i] input  [esc] back  [q] quit")

	return s
}

func (a *App) viewWorkflows() string {
	s := titleStyle.Render("Workflows") + "\n\n"

	if len(a.workflows) == 0 {
		s += "  (no workflows found)\n"
	}
	for _, wf := range a.workflows {
		actions := make([]string, len(wf.Steps))
		for i, step := range wf.Steps {
			actions[i] = string(step.Action)
		}
		s += fmt.Sprintf("  • %-20s %s\n", truncate(wf.Name, 20), dimStyle.Render(strings.Join(actions, " → ")))
		if wf.Description != "" {
			s += "    " + labelStyle.Render(truncate(oneLine(wf.Description), 60)) + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[esc] back")

	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type workflowsLoadedMsg struct {
	workflows []*models.Workflow
	err       error
}

type runDetailMsg struct {
	run *models.Run
	err error
}

type runDeletedMsg struct {
	err error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.runSource.ListRuns(context.Background(), runListLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadWorkflows() tea.Msg {
	workflows, err := a.workflowSource.ListWorkflows(context.Background(), 100)
	return workflowsLoadedMsg{workflows: workflows, err: err}
}

func (a *App) loadRunDetail(id string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.runSource.GetRun(context.Background(), id)
		return runDetailMsg{run: run, err: err}
	}
}

func (a *App) deleteRun(id string) tea.Cmd {
	return func() tea.Msg {
		return runDeletedMsg{err: a.runSource.DeleteRun(context.Background(), id)}
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}

// moveCursor steps *idx by delta within [0, n).
func moveCursor(idx *int, n, delta int) {
	*idx = min(max(*idx+delta, 0), max(n-1, 0))
}
