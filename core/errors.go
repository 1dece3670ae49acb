package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCancelled signals that the user requested cancellation. It is a
// cooperative control signal, not a failure; the pipeline maps it to
// the CANCELLED status without recording an error message.
var ErrCancelled = errors.New("processing cancelled")

// ErrNotReady is returned when Q&A is requested before the document
// reached COMPLETED.
var ErrNotReady = errors.New("document analysis not ready")

// ErrJobAlreadyRunning is returned when a processing job is requested for a
// document that already has an active job.
var ErrJobAlreadyRunning = errors.New("processing job already running for document")

// ErrDocumentNotFound is returned when a document id does not resolve.
var ErrDocumentNotFound = errors.New("document not found")

// ExtractionError indicates corrupt or unsupported input. It is terminal:
// the pipeline reports it as ERROR and never retries automatically.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewExtractionError wraps err as a terminal extraction failure.
func NewExtractionError(reason string, err error) *ExtractionError {
	return &ExtractionError{Reason: reason, Err: err}
}

// TransientError marks a backend failure that is safe to retry with backoff:
// timeouts, connection resets, rate limits, 5xx-equivalents.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Deadline expiry and
// network-level failures count as transient; cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
