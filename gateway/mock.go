package gateway

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"finanalyst/core"
)

// mockSummary is returned for summary operations in mock mode. It reads like
// a real analysis so the UI and exports can be exercised offline.
const mockSummary = `This document presents the company's financial results for the reporting period. ` +
	`Total revenue reached $4.2 billion, up 12% year over year, driven primarily by growth in ` +
	`the services segment. Operating margin improved to 21.3% on cost discipline and favorable ` +
	`product mix. Net income was $610 million, yielding diluted earnings per share of $2.84. ` +
	`The balance sheet remains strong with $1.8 billion in cash and equivalents against ` +
	`$950 million of long-term debt. Management reaffirmed full-year guidance, citing a robust ` +
	`order backlog, while flagging foreign-exchange headwinds and continued supply-chain ` +
	`normalization costs as the principal risks to the outlook.`

// mockKeyFigures is the canned key-figure payload, shaped exactly like the
// JSON array remote models are prompted to produce.
const mockKeyFigures = `[
  {"name": "Total Revenue", "value": "$4.2B", "source_page": 3, "source_section": "Income Statement"},
  {"name": "Revenue Growth (YoY)", "value": "12%", "source_page": 3, "source_section": "Income Statement"},
  {"name": "Operating Margin", "value": "21.3%", "source_page": 4, "source_section": "Income Statement"},
  {"name": "Net Income", "value": "$610M", "source_page": 4, "source_section": "Income Statement"},
  {"name": "Diluted EPS", "value": "$2.84", "source_page": 4, "source_section": "Income Statement"},
  {"name": "Cash and Equivalents", "value": "$1.8B", "source_page": 6, "source_section": "Balance Sheet"},
  {"name": "Long-Term Debt", "value": "$950M", "source_page": 7, "source_section": "Balance Sheet"}
]`

// mockAnswers routes questions by keyword so demo conversations feel grounded.
var mockAnswers = []struct {
	keywords []string
	answer   string
}{
	{
		keywords: []string{"revenue", "sales", "top line"},
		answer: "Total revenue for the period was $4.2 billion, a 12% increase year over year. " +
			"Growth was led by the services segment, which offset a modest decline in hardware.",
	},
	{
		keywords: []string{"profit", "income", "earnings", "eps", "margin"},
		answer: "Net income was $610 million with diluted EPS of $2.84. Operating margin " +
			"expanded to 21.3%, reflecting cost discipline and a favorable product mix.",
	},
	{
		keywords: []string{"debt", "cash", "liquidity", "balance"},
		answer: "The company holds $1.8 billion in cash and equivalents against $950 million " +
			"of long-term debt, leaving a net cash position of roughly $850 million.",
	},
	{
		keywords: []string{"risk", "outlook", "guidance", "forecast"},
		answer: "Management reaffirmed full-year guidance but flagged foreign-exchange " +
			"headwinds and residual supply-chain costs as the main risks to the outlook.",
	},
}

const mockDefaultAnswer = "Based on the document, the company reported solid results for the " +
	"period with revenue of $4.2 billion and net income of $610 million. Could you narrow the " +
	"question to a specific metric or section?"

// MockBackend serves deterministic canned responses without any network
// dependency. An optional artificial delay makes cancellation paths testable.
type MockBackend struct {
	delay    time.Duration
	embedDim int
}

// NewMockBackend creates a mock backend producing embeddings of the given
// dimension. Delay is applied to every call before responding.
func NewMockBackend(embedDim int, delay time.Duration) *MockBackend {
	if embedDim <= 0 {
		embedDim = 768
	}
	return &MockBackend{delay: delay, embedDim: embedDim}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return "mock" }

// Complete implements Backend with canned responses per operation.
func (m *MockBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	var text string
	switch req.Operation {
	case OpSummary:
		text = mockSummary
	case OpKeyFigures:
		text = mockKeyFigures
	case OpQA:
		text = answerFor(req.Prompt)
	default:
		text = mockDefaultAnswer
	}

	return &CompletionResponse{
		Text:             text,
		PromptTokens:     core.EstimateTokenCount(req.System + req.Prompt),
		CompletionTokens: core.EstimateTokenCount(text),
	}, nil
}

// Embed implements Backend. Vectors are seeded from an FNV hash of the input
// text, so identical texts always embed identically and similar runs stay
// reproducible across restarts.
func (m *MockBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(text))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))

		vec := make([]float32, m.embedDim)
		var norm float64
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
			norm += float64(vec[j]) * float64(vec[j])
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (m *MockBackend) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func answerFor(question string) string {
	q := strings.ToLower(question)
	for _, entry := range mockAnswers {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.answer
			}
		}
	}
	return mockDefaultAnswer
}
