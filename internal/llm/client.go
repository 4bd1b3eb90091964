// Package llm is the completion capability used by workflow steps: a
// provider-neutral Client interface, a Groq implementation speaking the
// OpenAI-compatible chat completions API, and credential resolution.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the provider rejected the credential.
	ErrAuthentication = errors.New("llm: authentication failed")
	// ErrMissingCredential means no per-request or default key is available.
	ErrMissingCredential = errors.New("llm: API key missing")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model    string
	Messages []Message
	// JSONMode constrains the response to a single JSON object.
	JSONMode bool
}

type Response struct {
	Content      string
	FinishReason string
	Model        string
}

// Client issues one blocking completion per call. Implementations must be
// safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// KeyValidator checks a credential against the provider.
type KeyValidator interface {
	ValidateKey(ctx context.Context) error
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 {
		return ErrAuthentication
	}
	return nil
}

// UserPrompt builds a single-message user request.
func UserPrompt(model, prompt string) Request {
	return Request{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
		JSONMode: true,
	}
}
