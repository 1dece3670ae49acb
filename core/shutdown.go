package core

import "context"

// ShutdownFunc is a cleanup function executed during graceful shutdown.
// It receives a context that may carry a deadline for the whole shutdown.
type ShutdownFunc func(ctx context.Context) error

// Exit codes returned by the process.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	ExitCodeConfig  = 2
)
