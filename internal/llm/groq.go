package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 60 * time.Second
)

type GroqClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*GroqClient)

func WithBaseURL(url string) Option {
	return func(c *GroqClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *GroqClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *GroqClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *GroqClient) { c.log = l }
}

func NewGroqClient(apiKey string, opts ...Option) *GroqClient {
	c := &GroqClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func (c *GroqClient) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if payload.Model == "" {
		payload.Model = DefaultModel
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("model", payload.Model).Int("messages", len(payload.Messages)).Msg("llm completion request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode completion response: %w", err)
	}

	// No choices is reported as empty content so callers can retry.
	result := &Response{Model: out.Model}
	if len(out.Choices) > 0 {
		result.Content = out.Choices[0].Message.Content
		result.FinishReason = out.Choices[0].FinishReason
	}
	return result, nil
}

// ValidateKey lists models, which requires a valid key and nothing else.
func (c *GroqClient) ValidateKey(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	body := strings.TrimSpace(string(raw))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    body,
		Body:       body,
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		var plain string
		switch {
		case json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "":
			apiErr.Message = detail.Message
		case json.Unmarshal(envelope.Error, &plain) == nil && plain != "":
			apiErr.Message = plain
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
