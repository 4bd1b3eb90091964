package actions

import (
	"fmt"
	"strings"

	"github.com/mpataki/textflow/internal/models"
)

const outputInstruction = `

CRITICAL OUTPUT INSTRUCTION:
You MUST return the result as a valid JSON object matching this schema:
%s

Do NOT include any markdown code blocks (like ` + "```json" + `).
Do NOT include any conversational text before or after the JSON.
Return ONLY the raw JSON string.
`

// BuildPrompt renders the action's template around inputText and appends
// the output-format instructions. The result depends only on its arguments
// and the registry contents.
func (r *Registry) BuildPrompt(action models.Action, inputText string) (string, error) {
	s, err := r.Schema(action)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := s.template.Execute(&b, struct{ Input string }{Input: inputText}); err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", action, err)
	}
	fmt.Fprintf(&b, outputInstruction, s.schemaText)

	return b.String(), nil
}
