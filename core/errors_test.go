package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestExtractionError(t *testing.T) {
	inner := errors.New("bad xref table")
	err := NewExtractionError("corrupt PDF", inner)

	if !errors.Is(err, inner) {
		t.Error("ExtractionError should unwrap to inner error")
	}

	var ee *ExtractionError
	if !errors.As(fmt.Errorf("step failed: %w", err), &ee) {
		t.Error("errors.As should find ExtractionError through wrapping")
	}

	if ee.Reason != "corrupt PDF" {
		t.Errorf("Reason = %q, want %q", ee.Reason, "corrupt PDF")
	}
}

func TestExtractionErrorWithoutInner(t *testing.T) {
	err := NewExtractionError("unsupported mime type", nil)
	if err.Error() != "extraction failed: unsupported mime type" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient error", NewTransientError("complete", errors.New("503")), true},
		{"wrapped transient", fmt.Errorf("call failed: %w", NewTransientError("embed", errors.New("timeout"))), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"context cancelled", context.Canceled, false},
		{"extraction error", NewExtractionError("corrupt", nil), false},
		{"plain error", errors.New("validation failed"), false},
		{"cancellation signal", ErrCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
