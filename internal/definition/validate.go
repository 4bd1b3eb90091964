package definition

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mpataki/textflow/internal/models"
)

var (
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrInvalidInput    = errors.New("invalid input")
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 1000
	MaxInputLength       = 50000
)

// ActionSet reports whether an action can be executed.
type ActionSet interface {
	Has(action models.Action) bool
}

// Validate sanitises wf in place and checks it can be run: a non-empty
// name, at least one step, only known actions and no action repeated in
// consecutive steps.
func Validate(wf *models.Workflow, known ActionSet) error {
	wf.Name = SanitizeName(wf.Name)
	if wf.Name == "" {
		return fmt.Errorf("%w: workflow name cannot be empty", ErrInvalidWorkflow)
	}
	wf.Description = truncate(SanitizeText(wf.Description), MaxDescriptionLength)

	if len(wf.Steps) == 0 {
		return fmt.Errorf("%w: workflow must have at least one step", ErrInvalidWorkflow)
	}

	for i, step := range wf.Steps {
		if step.Action == "" {
			return fmt.Errorf("%w: step %d has no action", ErrInvalidWorkflow, i+1)
		}
		if known != nil && !known.Has(step.Action) {
			return fmt.Errorf("%w: step %d has unknown action %q", ErrInvalidWorkflow, i+1, step.Action)
		}
		if i > 0 && wf.Steps[i-1].Action == step.Action {
			return fmt.Errorf("%w: consecutive duplicate actions are not allowed: Step %d and Step %d are both '%s'",
				ErrInvalidWorkflow, i, i+1, step.Action)
		}
	}

	return nil
}

// ValidateInput sanitises run input text and rejects empty or oversized
// input.
func ValidateInput(input string) (string, error) {
	input = SanitizeText(input)
	if input == "" {
		return "", fmt.Errorf("%w: input text cannot be empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(input); n > MaxInputLength {
		return "", fmt.Errorf("%w: input text is %d characters, the limit is %d", ErrInvalidInput, n, MaxInputLength)
	}
	return input, nil
}

// SanitizeName trims a name, drops every control character and limits it
// to MaxNameLength characters.
func SanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return truncate(strings.TrimSpace(s), MaxNameLength)
}

// SanitizeText trims free text and drops control characters other than
// newlines and tabs.
func SanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
