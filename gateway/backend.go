// Package gateway mediates all language-model traffic for the service. It
// fronts interchangeable backends (a deterministic mock and any
// OpenAI-compatible HTTP endpoint) with caching, bounded timeouts, and
// bounded retries so the processing pipeline and Q&A engine never talk to a
// model directly.
package gateway

import (
	"context"
	"errors"
)

// Common gateway errors.
var (
	// ErrBackendUnavailable indicates the configured backend cannot be
	// reached or is not configured.
	ErrBackendUnavailable = errors.New("llm backend unavailable")

	// ErrEmptyPrompt indicates a completion was requested with no content.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Operation labels what a completion is for. It feeds cache keys and token
// accounting, and lets the mock backend shape its canned responses.
type Operation string

const (
	OpSummary    Operation = "summary"
	OpKeyFigures Operation = "key_figures"
	OpQA         Operation = "qa"
)

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	// Operation selects the prompt family; required.
	Operation Operation

	// DocumentID scopes caching to a document; required for cacheable calls.
	DocumentID string

	// System is the system prompt, Prompt the user content.
	System string
	Prompt string

	// MaxTokens caps the response length (0 for backend default).
	MaxTokens int
}

// CompletionResponse is the backend's answer plus usage accounting.
type CompletionResponse struct {
	Text string

	// PromptTokens and CompletionTokens are backend-reported when available,
	// otherwise estimated from text length.
	PromptTokens     int
	CompletionTokens int

	// Cached is true when the response was served from the gateway cache.
	Cached bool
}

// Backend is a language-model provider. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Name identifies the backend in logs and status reports.
	Name() string

	// Complete produces text for a prompt.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Embed produces one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
