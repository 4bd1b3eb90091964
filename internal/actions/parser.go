package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/mpataki/textflow/internal/models"
)

var ErrInvalidOutput = errors.New("structured output does not match schema")

// Parse extracts the canonical string for action from a raw model response.
// It never fails: when the response cannot be parsed or validated the trimmed
// raw text is returned instead, so the next step always has input. A non-nil
// onFallback is told why.
func (r *Registry) Parse(action models.Action, raw string, onFallback func(error)) string {
	text, err := r.ParseStrict(action, raw)
	if err != nil {
		if onFallback != nil {
			onFallback(err)
		}
		return Fallback(raw)
	}
	return text
}

// ParseStrict is Parse without the raw-text fallback.
func (r *Registry) ParseStrict(action models.Action, raw string) (string, error) {
	s, err := r.Schema(action)
	if err != nil {
		return "", err
	}

	data := []byte(StripFences(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if fields == nil {
		return "", fmt.Errorf("%w: expected a JSON object", ErrInvalidOutput)
	}
	if err := validate(s.jsonSchema, fields); err != nil {
		return "", err
	}

	return s.extract(data)
}

// Fallback is the text used when structured output is unusable.
func Fallback(raw string) string {
	return strings.TrimSpace(raw)
}

// StripFences removes markdown JSON code fence markers and surrounding
// whitespace.
func StripFences(raw string) string {
	out := strings.ReplaceAll(raw, "```json", "")
	out = strings.ReplaceAll(out, "```", "")
	return strings.TrimSpace(out)
}

func validate(js *jsonschema.Schema, fields map[string]json.RawMessage) error {
	for _, name := range js.Required {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: missing field %q", ErrInvalidOutput, name)
		}
	}

	for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
		value, ok := fields[pair.Key]
		if !ok {
			continue
		}
		if err := checkType(pair.Value, value); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidOutput, pair.Key, err)
		}
	}
	return nil
}

func checkType(prop *jsonschema.Schema, value json.RawMessage) error {
	value = bytes.TrimSpace(value)

	switch prop.Type {
	case "string":
		if !isJSONString(value) {
			return fmt.Errorf("expected string, got %s", kindOf(value))
		}
	case "array":
		var items []json.RawMessage
		if !bytes.HasPrefix(value, []byte("[")) || json.Unmarshal(value, &items) != nil {
			return fmt.Errorf("expected list, got %s", kindOf(value))
		}
		if prop.Items != nil && prop.Items.Type == "string" {
			for i, item := range items {
				if !isJSONString(bytes.TrimSpace(item)) {
					return fmt.Errorf("item %d: expected string, got %s", i, kindOf(item))
				}
			}
		}
	}
	return nil
}

func isJSONString(value []byte) bool {
	return len(value) > 0 && value[0] == '"'
}

func kindOf(value []byte) string {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "nothing"
	}
	switch value[0] {
	case '"':
		return "string"
	case '[':
		return "list"
	case '{':
		return "object"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
