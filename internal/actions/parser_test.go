package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/textflow/internal/models"
)

func TestParseExtractsCanonicalField(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		action models.Action
		raw    string
		want   string
	}{
		{models.ActionClean, `{"cleaned_text": "Hello world."}`, "Hello world."},
		{models.ActionSummarize, `{"summary": "Short."}`, "Short."},
		{models.ActionKeypoints, `{"points": ["a", "b"]}`, "- a\n- b"},
		{models.ActionSimplify, `{"simplified_text": "Easy words."}`, "Easy words."},
		{models.ActionExamples, `{"analogy": "Like a river."}`, "Like a river."},
		{models.ActionClassify, `{"category": "Science"}`, "Science"},
		{models.ActionSentiment, `{"tone": "happy", "explanation": "x"}`, "Tone: happy\nExplanation: x"},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := r.ParseStrict(tt.action, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, r.Parse(tt.action, tt.raw, nil))
		})
	}
}

func TestParseIgnoresExtraFields(t *testing.T) {
	r := NewRegistry()

	got, err := r.ParseStrict(models.ActionSummarize, `{"summary": "s", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "s", got)
}

func TestParseKeypointsEmptyList(t *testing.T) {
	r := NewRegistry()

	got, err := r.ParseStrict(models.ActionKeypoints, `{"points": []}`)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestParseFallsBackToRawText(t *testing.T) {
	r := NewRegistry()

	inputs := []string{
		"  not json  ",
		`{"summary": 42}`,
		`{"wrong_field": "x"}`,
		`{"summary": null}`,
		`["summary"]`,
		`null`,
		"",
	}

	for _, action := range r.Actions() {
		for _, raw := range inputs {
			got := r.Parse(action, raw, nil)
			_, strictErr := r.ParseStrict(action, raw)
			require.Error(t, strictErr, "action=%s raw=%q", action, raw)
			assert.Equal(t, Fallback(raw), got, "action=%s raw=%q", action, raw)
		}
	}
}

func TestParseRejectsWrongTypes(t *testing.T) {
	r := NewRegistry()

	_, err := r.ParseStrict(models.ActionKeypoints, `{"points": "a, b"}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = r.ParseStrict(models.ActionKeypoints, `{"points": ["a", 3]}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = r.ParseStrict(models.ActionSentiment, `{"tone": "calm"}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = r.ParseStrict(models.ActionClean, `{"cleaned_text": ["x"]}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestParseUnknownActionFallsBack(t *testing.T) {
	r := NewRegistry()

	_, err := r.ParseStrict("translate", `{"result": "x"}`)
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, `{"result": "x"}`, r.Parse("translate", ` {"result": "x"} `, nil))
}

func TestParseStripsFences(t *testing.T) {
	r := NewRegistry()

	plain := `{"points": ["one", "two"]}`
	fenced := "```json\n" + plain + "\n```"
	bare := "```\n" + plain + "\n```"

	want := r.Parse(models.ActionKeypoints, plain, nil)
	assert.Equal(t, "- one\n- two", want)
	assert.Equal(t, want, r.Parse(models.ActionKeypoints, fenced, nil))
	assert.Equal(t, want, r.Parse(models.ActionKeypoints, bare, nil))
	assert.Equal(t, StripFences(fenced), StripFences(StripFences(fenced)))
}

func TestParseGenericAction(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("translate", "Translate to French:\n{{.Input}}"))

	got, err := r.ParseStrict("translate", `{"result": "Bonjour"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"result":"Bonjour"}`, got)
}

func TestParseReportsFallback(t *testing.T) {
	r := NewRegistry()

	var reasons []error
	record := func(err error) { reasons = append(reasons, err) }

	assert.Equal(t, "plain words", r.Parse(models.ActionSummarize, " plain words ", record))
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], ErrInvalidOutput)

	assert.Equal(t, "ok", r.Parse(models.ActionSummarize, `{"summary": "ok"}`, record))
	assert.Len(t, reasons, 1)
}
