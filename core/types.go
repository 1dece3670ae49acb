// Package core provides shared types, configuration, and error definitions
// used across the document analysis service.
package core

import (
	"time"
)

// Status represents the lifecycle state of a document.
// The values are part of the wire contract: clients poll them until terminal.
type Status string

const (
	// StatusUploading is set the moment the document row is created,
	// before the blob is durably stored.
	StatusUploading Status = "UPLOADING"

	// StatusProcessing means a background job owns the document and is
	// advancing through the pipeline steps.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted means the pipeline finished and an AnalysisResult exists.
	StatusCompleted Status = "COMPLETED"

	// StatusError means the pipeline failed; ErrorMessage carries the reason.
	StatusError Status = "ERROR"

	// StatusCancelled means the user cancelled the job at a step boundary.
	// Unlike ERROR it carries no message and the document is re-processable.
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is a final pipeline state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// ValidTransition reports whether moving from one status to another follows
// the lifecycle graph. Terminal states only re-enter PROCESSING via an
// explicit re-process request.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusUploading:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError || to == StatusCancelled
	case StatusCompleted, StatusError, StatusCancelled:
		return to == StatusProcessing
	}
	return false
}

// User is an account that owns documents. Authentication is handled outside
// this service; the user table exists so ownership references resolve.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	CreatedAt    time.Time
}

// Document is an uploaded financial document and its processing state.
type Document struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	StorageKey     string    `json:"-"`
	Status         Status    `json:"status"`
	ProcessingStep string    `json:"processing_step,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KeyFigure is a single structured figure extracted from a document.
type KeyFigure struct {
	Name          string `json:"name"`
	Value         string `json:"value"`
	SourcePage    int    `json:"source_page,omitempty"`
	SourceSection string `json:"source_section,omitempty"`
}

// AnalysisResult holds the artifacts produced by a successful pipeline run.
// A document has at most one; reprocessing replaces it wholesale.
type AnalysisResult struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Summary    string      `json:"summary"`
	KeyFigures []KeyFigure `json:"key_figures"`
	IndexPath  string      `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
}

// SourceReference cites a retrieved chunk that grounded an answer.
type SourceReference struct {
	Page    int    `json:"page"`
	Section string `json:"section,omitempty"`
	Snippet string `json:"snippet"`
}

// QASession groups the questions asked against one document.
type QASession struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Question is one asked question and its recorded answer. Records are
// append-only and never mutated after creation.
type Question struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	QuestionText string            `json:"question_text"`
	AnswerText   string            `json:"answer_text"`
	Sources      []SourceReference `json:"sources"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TokenUsage records approximate token consumption for one gateway call.
type TokenUsage struct {
	ID               string
	DocumentID       string
	QuestionID       string
	Operation        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// EstimateTokenCount returns a rough token estimate for text using the
// common 4-characters-per-token heuristic.
func EstimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
