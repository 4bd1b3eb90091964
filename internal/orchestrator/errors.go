package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mpataki/textflow/internal/llm"
)

const invalidKeyMessage = "Invalid API Key. Please check your credentials."

// HumanizeError turns a run failure into a single plain-text message with
// provider payloads unwrapped.
func HumanizeError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, llm.ErrAuthentication) {
		return invalidKeyMessage
	}
	if errors.Is(err, llm.ErrMissingCredential) {
		return "API Key missing"
	}

	msg := err.Error()
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return cleanMessage(msg)
}

func cleanMessage(msg string) string {
	if strings.Contains(msg, "Error code:") && strings.Contains(msg, "{") {
		if inner, ok := embeddedMessage(msg); ok {
			return inner
		}
	}

	if strings.Contains(msg, "400 Bad Request:") {
		msg = strings.TrimSpace(strings.ReplaceAll(msg, "400 Bad Request:", ""))
	}
	if strings.Contains(msg, "Error code: 401") || strings.Contains(msg, "Invalid API Key") {
		return invalidKeyMessage
	}
	return msg
}

// embeddedMessage extracts error.message from "Error code: NNN - {...}",
// where the payload may be a Python dict literal rather than JSON.
func embeddedMessage(msg string) (string, bool) {
	_, payload, ok := strings.Cut(msg, "-")
	if !ok {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return "", false
	}

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		converted, ok := pythonToJSON(payload)
		if !ok || json.Unmarshal([]byte(converted), &body) != nil {
			return "", false
		}
	}
	if body.Error == nil || string(body.Error) == "null" {
		return "", false
	}

	var nested struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != nil {
		return *nested.Message, true
	}
	var flat string
	if err := json.Unmarshal(body.Error, &flat); err == nil {
		return flat, true
	}
	return "", false
}

var pythonKeywords = []struct{ word, json string }{
	{"None", "null"},
	{"True", "true"},
	{"False", "false"},
}

// pythonToJSON rewrites a Python dict literal as JSON. Strings in either
// quote style are re-encoded, so quotes inside them survive.
func pythonToJSON(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\'' || c == '"' {
			lit, next, ok := pythonString(s, i)
			if !ok {
				return "", false
			}
			quoted, _ := json.Marshal(lit)
			b.Write(quoted)
			i = next
			continue
		}

		matched := false
		for _, kw := range pythonKeywords {
			if strings.HasPrefix(s[i:], kw.word) {
				b.WriteString(kw.json)
				i += len(kw.word)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), true
}

// pythonString decodes the quoted literal starting at s[start] and returns
// it with the index just past the closing quote.
func pythonString(s string, start int) (string, int, bool) {
	quote := s[start]
	var lit strings.Builder
	for i := start + 1; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				lit.WriteByte('\n')
			case 't':
				lit.WriteByte('\t')
			default:
				lit.WriteByte(s[i])
			}
		case c == quote:
			return lit.String(), i + 1, true
		default:
			lit.WriteByte(c)
		}
	}
	return "", 0, false
}
