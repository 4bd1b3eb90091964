package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEXTFLOW_DATA_DIR", dir)
	t.Setenv("TEXTFLOW_LOG_LEVEL", "error")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("TEXTFLOW_LLM_API_KEY", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"wf", "hello"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = readInput([]string{"wf", "-"}, "", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0644))
	got, err = readInput([]string{"wf"}, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = readInput([]string{"wf", "x"}, path, nil)
	assert.Error(t, err)

	_, err = readInput([]string{"wf"}, "", nil)
	assert.EqualError(t, err, "missing input text")
}

func TestActionsCommand(t *testing.T) {
	setupDataDir(t)

	out, err := execute(t, "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "summarize")
	assert.Contains(t, out, "sentiment")
}

func TestWorkflowCreateListShow(t *testing.T) {
	dir := setupDataDir(t)

	path := filepath.Join(dir, "digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
description: Clean then summarize
steps:
  - action: clean
  - action: summarize
`), 0644))

	out, err := execute(t, "workflow", "create", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(digest)")

	out, err = execute(t, "workflow", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "digest [2 steps]")

	id := strings.Fields(out)[0]
	out, err = execute(t, "workflow", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "1. clean")
	assert.Contains(t, out, "2. summarize")
}

func TestWorkflowCreateRejectsDuplicateSteps(t *testing.T) {
	dir := setupDataDir(t)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - action: clean
  - action: clean
`), 0644))

	_, err := execute(t, "workflow", "create", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive duplicate actions")
}

func TestRunWithoutKey(t *testing.T) {
	dir := setupDataDir(t)

	path := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - action: summarize\n"), 0644))

	_, err := execute(t, "run", path, "some text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API Key missing")

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestListEmpty(t *testing.T) {
	setupDataDir(t)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestOpenAppTracing(t *testing.T) {
	dir := setupDataDir(t)

	cmd := newRootCommand()
	cmd.SetContext(context.Background())

	a, err := openApp(cmd, false)
	require.NoError(t, err)
	assert.Nil(t, a.tracerProvider())
	a.Close()

	t.Setenv("TEXTFLOW_TRACING_ENABLED", "true")
	t.Setenv("TEXTFLOW_LOG_LEVEL", "info")

	a, err = openApp(cmd, true)
	require.NoError(t, err)
	require.NotNil(t, a.tracerProvider())

	_, span := a.tracerProvider().Tracer("test").Start(context.Background(), "textflow.step")
	span.End()
	a.Close()

	logged, err := os.ReadFile(filepath.Join(dir, "textflow.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), `"span":"textflow.step"`)
}
