// Package pipeline runs document analysis as cancellable background jobs.
// A job walks the document through extraction, chunking, index building,
// summarization, and key-figure extraction, updating status in the store at
// every step. Cancellation is cooperative: it is observed at step boundaries
// only, so a job is always in a consistent state when it stops.
package pipeline

import (
	"sync"

	"finanalyst/core"
)

// Token represents one running job's cancellation handle.
type Token struct {
	cancelled chan struct{}
	once      sync.Once
}

// Cancelled returns a channel closed when the job is cancelled.
func (t *Token) Cancelled() <-chan struct{} {
	return t.cancelled
}

// cancel closes the channel; safe to call more than once.
func (t *Token) cancel() {
	t.once.Do(func() { close(t.cancelled) })
}

// Registry enforces the one-active-job-per-document rule. Acquire is an
// atomic create-if-absent, so two concurrent process requests for the same
// document cannot both win.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Acquire registers a job for the document. It fails with
// core.ErrJobAlreadyRunning when a job is already registered.
func (r *Registry) Acquire(documentID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[documentID]; exists {
		return nil, core.ErrJobAlreadyRunning
	}
	token := &Token{cancelled: make(chan struct{})}
	r.tokens[documentID] = token
	return token, nil
}

// Cancel requests cancellation of the document's running job. It reports
// whether a job was found; the job itself stops at its next step boundary.
func (r *Registry) Cancel(documentID string) bool {
	r.mu.Lock()
	token, exists := r.tokens[documentID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	token.cancel()
	return true
}

// Release removes the document's registration. Called by the job itself once
// it reaches a terminal status. Releasing an unregistered document is a
// no-op.
func (r *Registry) Release(documentID string) {
	r.mu.Lock()
	delete(r.tokens, documentID)
	r.mu.Unlock()
}

// Active reports whether a job is registered for the document.
func (r *Registry) Active(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.tokens[documentID]
	return exists
}

// ActiveCount returns the number of registered jobs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
