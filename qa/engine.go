// Package qa answers questions about analyzed documents. Answers are
// grounded: the question is embedded, the document's vector index supplies
// the most relevant chunks, and the model is instructed to answer from those
// chunks alone. Every asked question is recorded with its sources, including
// failures, so the conversation history is a complete audit trail.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"finanalyst/core"
	"finanalyst/db"
	"finanalyst/gateway"
	"finanalyst/vecindex"
)

// snippetLen bounds how much of a chunk is stored as a source snippet.
const snippetLen = 300

// Config holds Q&A behavior settings.
type Config struct {
	// TopK is how many chunks ground each answer.
	TopK int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{TopK: 5}
}

// Engine answers questions against completed documents.
type Engine struct {
	store   *db.Store
	gateway *gateway.Gateway
	indexes *vecindex.Manager
	config  Config
	logger  *zap.Logger
	model   string
}

// NewEngine creates an Engine.
func NewEngine(store *db.Store, gw *gateway.Gateway, indexes *vecindex.Manager, config Config, model string, logger *zap.Logger) *Engine {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, gateway: gw, indexes: indexes, config: config, logger: logger, model: model}
}

// Ask answers a question about a document and records it in the document's
// latest session, creating one if none exists.
//
// The document must be COMPLETED; otherwise core.ErrNotReady is returned and
// nothing is recorded. Gateway failures after that point ARE recorded, with
// the failure text as the answer, so the history shows the question was
// asked.
func (e *Engine) Ask(ctx context.Context, documentID, questionText string) (*core.Question, error) {
	questionText = strings.TrimSpace(questionText)
	if questionText == "" {
		return nil, fmt.Errorf("question text is required")
	}

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != core.StatusCompleted {
		return nil, core.ErrNotReady
	}

	session, err := e.session(ctx, documentID)
	if err != nil {
		return nil, err
	}

	answer, sources, askErr := e.answer(ctx, documentID, questionText)
	if askErr != nil {
		e.logger.Warn("question answering failed",
			zap.String("document_id", documentID), zap.Error(askErr))
		answer = "The question could not be answered: " + askErr.Error()
		sources = nil
	}

	question := &core.Question{
		SessionID:    session.ID,
		QuestionText: questionText,
		AnswerText:   answer,
		Sources:      sources,
	}
	if err := e.store.CreateQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to record question: %w", err)
	}
	return question, nil
}

// History returns all recorded questions for a document, oldest first.
func (e *Engine) History(ctx context.Context, documentID string) ([]core.Question, error) {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return e.store.ListQuestionsByDocument(ctx, documentID)
}

func (e *Engine) session(ctx context.Context, documentID string) (*core.QASession, error) {
	session, err := e.store.LatestQASession(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}
	return e.store.CreateQASession(ctx, documentID)
}

func (e *Engine) answer(ctx context.Context, documentID, questionText string) (string, []core.SourceReference, error) {
	vectors, err := e.gateway.Embed(ctx, []string{questionText})
	if err != nil {
		return "", nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vectors) != 1 {
		return "", nil, fmt.Errorf("expected one embedding, got %d", len(vectors))
	}

	idx, err := e.indexes.Load(documentID)
	if err != nil {
		if errors.Is(err, vecindex.ErrIndexNotFound) {
			return "", nil, core.ErrNotReady
		}
		return "", nil, err
	}

	matches := idx.Search(vectors[0], e.config.TopK)
	if len(matches) == 0 {
		return "", nil, fmt.Errorf("no relevant document content found")
	}

	resp, err := e.gateway.Complete(ctx, gateway.CompletionRequest{
		Operation:  gateway.OpQA,
		DocumentID: documentID,
		Prompt:     groundedPrompt(questionText, matches),
	})
	if err != nil {
		return "", nil, err
	}

	if !resp.Cached {
		usage := &core.TokenUsage{
			DocumentID:       documentID,
			Operation:        string(gateway.OpQA),
			Model:            e.model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
		}
		if err := e.store.RecordTokenUsage(ctx, usage); err != nil {
			e.logger.Warn("failed to record token usage", zap.Error(err))
		}
	}

	sources := make([]core.SourceReference, len(matches))
	for i, match := range matches {
		sources[i] = core.SourceReference{
			Page:    match.Chunk.Page,
			Section: match.Chunk.Section,
			Snippet: snippet(match.Chunk.Text),
		}
	}
	return resp.Text, sources, nil
}

// groundedPrompt assembles the retrieved chunks into a context block the
// model must answer from.
func groundedPrompt(questionText string, matches []vecindex.Match) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the document excerpts below. ")
	b.WriteString("If the excerpts do not contain the answer, say so.\n\n")
	for i, match := range matches {
		fmt.Fprintf(&b, "[Excerpt %d, page %d", i+1, match.Chunk.Page)
		if match.Chunk.Section != "" {
			fmt.Fprintf(&b, ", section %q", match.Chunk.Section)
		}
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(match.Chunk.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(questionText)
	return b.String()
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetLen {
		return text
	}
	cut := text[:snippetLen]
	if i := strings.LastIndex(cut, " "); i > snippetLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
