package definition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/textflow/internal/models"
)

type actionSet map[models.Action]bool

func (s actionSet) Has(a models.Action) bool { return s[a] }

func builtins() actionSet {
	s := actionSet{}
	for _, a := range models.BuiltinActions {
		s[a] = true
	}
	return s
}

func steps(actions ...models.Action) []models.Step {
	var out []models.Step
	for _, a := range actions {
		out = append(out, models.Step{Action: a})
	}
	return out
}

func TestValidateAcceptsAndSanitises(t *testing.T) {
	wf := &models.Workflow{
		Name:        "  Daily\x00 digest\x1b  ",
		Description: "line one\nline\ttwo\x07",
		Steps:       steps(models.ActionClean, models.ActionSummarize, models.ActionClean),
	}

	require.NoError(t, Validate(wf, builtins()))
	assert.Equal(t, "Daily digest", wf.Name)
	assert.Equal(t, "line one\nline\ttwo", wf.Description)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		wf      *models.Workflow
		message string
	}{
		{"empty name", &models.Workflow{Name: " \t ", Steps: steps(models.ActionClean)}, "name cannot be empty"},
		{"no steps", &models.Workflow{Name: "x"}, "at least one step"},
		{"blank action", &models.Workflow{Name: "x", Steps: steps("")}, "step 1 has no action"},
		{"unknown action", &models.Workflow{Name: "x", Steps: steps(models.ActionClean, "Summarize")}, `unknown action "Summarize"`},
		{
			"consecutive duplicates",
			&models.Workflow{Name: "x", Steps: steps(models.ActionClean, models.ActionSummarize, models.ActionSummarize)},
			"Step 2 and Step 3 are both 'summarize'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.wf, builtins())
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestValidateTruncatesLongFields(t *testing.T) {
	wf := &models.Workflow{
		Name:        strings.Repeat("n", MaxNameLength+50),
		Description: strings.Repeat("d", MaxDescriptionLength+1),
		Steps:       steps(models.ActionClean),
	}

	require.NoError(t, Validate(wf, builtins()))
	assert.Len(t, wf.Name, MaxNameLength)
	assert.Len(t, wf.Description, MaxDescriptionLength)
}

func TestValidateInput(t *testing.T) {
	got, err := ValidateInput("  some\r\n text\x00 ")
	require.NoError(t, err)
	assert.Equal(t, "some\n text", got)

	_, err = ValidateInput(" \x00 \n ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ValidateInput(strings.Repeat("a", MaxInputLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err = ValidateInput(strings.Repeat("é", MaxInputLength))
	require.NoError(t, err)
	assert.Equal(t, MaxInputLength*2, len(got))
}
