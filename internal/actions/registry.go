// Package actions holds the table of text transformations a workflow step
// can perform: the prompt each one sends, the JSON shape the model must
// return, and how the canonical output string is extracted from it.
package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/invopop/jsonschema"

	"github.com/mpataki/textflow/internal/models"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrDuplicateAction = errors.New("action already registered")
	ErrInvalidTemplate = errors.New("invalid prompt template")
)

// inputPlaceholder is the single substitution point every template carries.
const inputPlaceholder = "{{.Input}}"

// Schema binds an action to its prompt template and output shape.
type Schema struct {
	Action models.Action
	// Generic is set for actions without a bespoke output shape.
	Generic bool

	template   *template.Template
	jsonSchema *jsonschema.Schema
	schemaText string
	extract    func(data []byte) (string, error)
}

// JSONSchema returns the indented JSON schema advertised to the model.
func (s *Schema) JSONSchema() string { return s.schemaText }

// Fields returns the output field names in declaration order.
func (s *Schema) Fields() []string {
	var names []string
	for pair := s.jsonSchema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Registry maps action identifiers to their schemas. It is built once at
// startup and only read afterwards.
type Registry struct {
	schemas map[models.Action]*Schema
	order   []models.Action
}

// NewRegistry returns a registry holding every built-in action.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[models.Action]*Schema)}

	r.add(newSchema(models.ActionClean, cleanTemplate, func(o CleanOutput) string {
		return o.CleanedText
	}))
	r.add(newSchema(models.ActionSummarize, summarizeTemplate, func(o SummarizeOutput) string {
		return o.Summary
	}))
	r.add(newSchema(models.ActionKeypoints, keypointsTemplate, func(o KeyPointsOutput) string {
		return joinPoints(o.Points)
	}))
	r.add(newSchema(models.ActionSimplify, simplifyTemplate, func(o SimplifyOutput) string {
		return o.SimplifiedText
	}))
	r.add(newSchema(models.ActionExamples, examplesTemplate, func(o AnalogyOutput) string {
		return o.Analogy
	}))
	r.add(newSchema(models.ActionClassify, classifyTemplate, func(o ClassifyOutput) string {
		return o.Category
	}))
	r.add(newSchema(models.ActionSentiment, sentimentTemplate, func(o ToneOutput) string {
		return fmt.Sprintf("Tone: %s\nExplanation: %s", o.Tone, o.Explanation)
	}))

	return r
}

// Register adds a custom action that uses the generic output shape.
func (r *Registry) Register(action models.Action, promptTemplate string) error {
	if action == "" {
		return fmt.Errorf("%w: empty identifier", ErrUnknownAction)
	}
	if _, ok := r.schemas[action]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, action)
	}
	if n := strings.Count(promptTemplate, inputPlaceholder); n != 1 {
		return fmt.Errorf("%w: %s must reference %s exactly once, found %d", ErrInvalidTemplate, action, inputPlaceholder, n)
	}
	tmpl, err := template.New(string(action)).Parse(promptTemplate)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, action, err)
	}
	// Templates only see the input, so any other field fails here rather
	// than on the first run.
	if err := tmpl.Execute(io.Discard, struct{ Input string }{Input: "sample"}); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, action, err)
	}

	s := newSchema(action, promptTemplate, genericExtract)
	s.Generic = true
	r.add(s)
	return nil
}

// Schema looks up the schema for action.
func (r *Registry) Schema(action models.Action) (*Schema, error) {
	s, ok := r.schemas[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, string(action))
	}
	return s, nil
}

// Has reports whether action is registered.
func (r *Registry) Has(action models.Action) bool {
	_, ok := r.schemas[action]
	return ok
}

// Actions returns registered actions in registration order.
func (r *Registry) Actions() []models.Action {
	out := make([]models.Action, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) add(s *Schema) {
	r.schemas[s.Action] = s
	r.order = append(r.order, s.Action)
}

func genericExtract(o GenericOutput) string {
	data, _ := json.Marshal(o)
	return string(data)
}

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// newSchema builds a schema whose output shape is reflected from T. Template
// errors here are programming defects in the built-in table.
func newSchema[T any](action models.Action, promptTemplate string, extract func(T) string) *Schema {
	var zero T
	js := reflector.Reflect(&zero)
	js.Version = ""

	text, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("actions: marshal schema for %s: %v", action, err))
	}

	return &Schema{
		Action:     action,
		template:   template.Must(template.New(string(action)).Parse(promptTemplate)),
		jsonSchema: js,
		schemaText: string(text),
		extract: func(data []byte) (string, error) {
			var out T
			if err := json.Unmarshal(data, &out); err != nil {
				return "", err
			}
			return extract(out), nil
		},
	}
}
