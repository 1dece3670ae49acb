package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"finanalyst/core"
)

// financialSystemPrompt is prepended to remote completions that do not carry
// their own system prompt.
const financialSystemPrompt = "You are a financial analyst assistant. Answer precisely, " +
	"cite figures from the provided document content, and say so when the document does " +
	"not contain the requested information."

// RemoteConfig holds connection settings for an OpenAI-compatible endpoint.
// Pointing BaseURL at Ollama or LM Studio works unchanged since both expose
// the same chat and embeddings routes.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
}

// RemoteBackend talks to an OpenAI-compatible API.
type RemoteBackend struct {
	client     *openai.Client
	model      string
	embedModel string
	baseURL    string
}

// NewRemoteBackend creates a backend for the given endpoint.
func NewRemoteBackend(config RemoteConfig) (*RemoteBackend, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("remote backend requires a model name")
	}
	apiKey := config.APIKey
	if apiKey == "" {
		// Local servers accept any key; the client just requires one.
		apiKey = "not-needed"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &RemoteBackend{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		embedModel: config.EmbedModel,
		baseURL:    clientConfig.BaseURL,
	}, nil
}

// Name implements Backend.
func (r *RemoteBackend) Name() string { return "remote" }

// BaseURL reports the endpoint in use, for status output.
func (r *RemoteBackend) BaseURL() string { return r.baseURL }

// Complete implements Backend via the chat completions API. Network and
// server-side failures are wrapped as transient so the gateway retries them.
func (r *RemoteBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	system := req.System
	if system == "" {
		system = financialSystemPrompt
	}

	chatReq := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := r.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyRemoteError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewTransientError("chat completion", fmt.Errorf("no choices in response"))
	}

	text := resp.Choices[0].Message.Content
	out := &CompletionResponse{
		Text:             text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if out.PromptTokens == 0 {
		out.PromptTokens = core.EstimateTokenCount(system + req.Prompt)
	}
	if out.CompletionTokens == 0 {
		out.CompletionTokens = core.EstimateTokenCount(text)
	}
	return out, nil
}

// Embed implements Backend via the embeddings API.
func (r *RemoteBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if r.embedModel == "" {
		return nil, fmt.Errorf("remote backend has no embedding model configured")
	}

	resp, err := r.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(r.embedModel),
		Input: texts,
	})
	if err != nil {
		return nil, classifyRemoteError("embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, core.NewTransientError("embeddings",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// classifyRemoteError marks retryable failures as transient. Authentication
// and bad-request errors stay permanent so the retry loop fails fast.
func classifyRemoteError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 408, 429, 500, 502, 503, 504:
			return core.NewTransientError(op, err)
		default:
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	// Non-API errors are connection-level problems.
	return core.NewTransientError(op, err)
}
