// Package llm provides the chat-completion and embedding capability consumed
// by the PII detector. The concrete client speaks the OpenAI-compatible HTTP
// API; callers depend only on the Client interface.
package llm

import (
	"context"
	"fmt"
	"net/http"
)

// Client is the LLM capability consumed by the detection pipeline.
type Client interface {
	// ChatJSON sends a chat completion request in JSON mode
	// (response_format: json_object). The per-request deadline comes from
	// the caller's context; the client itself performs a single attempt.
	ChatJSON(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures the LLM endpoint.
type Config struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// APIError is returned for non-2xx responses so callers can distinguish
// permanent failures (bad request, bad credentials) from transient ones.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API error %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the error should not be retried.
func (e *APIError) Permanent() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
}
