package definition

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/textflow/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newLoader() *Loader {
	return NewLoader(models.BuiltinActions, zerolog.Nop())
}

func TestParseYAML(t *testing.T) {
	wf, err := ParseYAML([]byte(`
name: article-digest
description: Clean, summarize and list key points
steps:
  - action: clean
  - action: summarize
    params:
      length: short
  - action: keypoints
`))
	require.NoError(t, err)

	assert.Equal(t, "article-digest", wf.Name)
	assert.Equal(t, "Clean, summarize and list key points", wf.Description)
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, models.ActionSummarize, wf.Steps[1].Action)
	assert.Equal(t, "short", wf.Steps[1].Params["length"])
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte("name: x\nstart: clean\nsteps: []\n"))
	assert.Error(t, err)
}

func TestParseYAMLEmptyDocument(t *testing.T) {
	_, err := ParseYAML([]byte(""))
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestLoaderParseDefaultsNameToFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tidy.yml", "steps:\n  - action: clean\n")

	wf, err := newLoader().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "tidy", wf.Name)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "digest.yaml", "name: digest\nsteps:\n  - action: clean\n  - action: summarize\n")
	writeFile(t, dir, "mood.lua", `
name = "mood"
function workflow()
  step("clean")
  step("sentiment")
end
`)
	writeFile(t, dir, "README.md", "not a workflow")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	workflows, err := newLoader().LoadAll(context.Background(), []string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Len(t, workflows["digest"].Steps, 2)
	assert.Equal(t, models.ActionSentiment, workflows["mood"].Steps[1].Action)
}

func TestLoadAllLaterDirectoryWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeFile(t, first, "a.yaml", "name: shared\nsteps:\n  - action: clean\n")
	writeFile(t, second, "b.yaml", "name: shared\nsteps:\n  - action: classify\n")

	workflows, err := newLoader().LoadAll(context.Background(), []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, models.ActionClassify, workflows["shared"].Steps[0].Action)
}

func TestLoadAllReportsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "steps: [")

	_, err := newLoader().LoadAll(context.Background(), []string{dir})
	assert.ErrorContains(t, err, "broken.yaml")
}
