package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finanalyst/core"
)

// Config holds gateway behavior settings.
type Config struct {
	// Model names the completion model, used in cache keys and accounting.
	Model string

	// Timeout bounds each individual backend call.
	Timeout time.Duration

	// MaxRetries is how many additional attempts follow a transient failure.
	MaxRetries int

	// RetryDelay is the base backoff; it doubles on each further attempt.
	RetryDelay time.Duration

	// EnableCaching turns the completion cache on.
	EnableCaching bool
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Model:         "gpt-4o-mini",
		Timeout:       5 * time.Minute,
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
		EnableCaching: true,
	}
}

// Gateway wraps a Backend with caching, per-call timeouts, and retry on
// transient failures. The backend can be swapped at runtime through the
// ModeManager; Gateway reads it via the manager on every call so mode
// switches take effect immediately.
type Gateway struct {
	modes  *ModeManager
	cache  *Cache
	config Config
	logger *zap.Logger
}

// NewGateway creates a gateway. The cache may be nil when caching is
// disabled.
func NewGateway(modes *ModeManager, cache *Cache, config Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Gateway{modes: modes, cache: cache, config: config, logger: logger}
}

// Complete runs a completion through cache, timeout, and retry. Cancellation
// of the parent context is never retried.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	backend := g.modes.Backend()
	if backend == nil {
		return nil, ErrBackendUnavailable
	}

	cacheKey := ""
	if g.cacheable(req) {
		cacheKey = Key(req, g.config.Model)
		if text, ok := g.cache.Get(cacheKey); ok {
			g.logger.Debug("completion cache hit",
				zap.String("document_id", req.DocumentID),
				zap.String("operation", string(req.Operation)))
			return &CompletionResponse{Text: text, Cached: true}, nil
		}
	}

	var resp *CompletionResponse
	err := g.withRetry(ctx, string(req.Operation), func(callCtx context.Context) error {
		var callErr error
		resp, callErr = backend.Complete(callCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := g.cache.Put(cacheKey, req, resp.Text); err != nil {
			g.logger.Warn("failed to persist cache entry", zap.Error(err))
		}
	}
	return resp, nil
}

// Embed runs embedding through timeout and retry. Embeddings are not cached;
// the vector index itself is the persistent artifact.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	backend := g.modes.Backend()
	if backend == nil {
		return nil, ErrBackendUnavailable
	}

	var vectors [][]float32
	err := g.withRetry(ctx, "embed", func(callCtx context.Context) error {
		var callErr error
		vectors, callErr = backend.Embed(callCtx, texts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// InvalidateDocument drops all cached completions for a document.
func (g *Gateway) InvalidateDocument(documentID string) {
	if g.cache != nil {
		n := g.cache.InvalidateDocument(documentID)
		if n > 0 {
			g.logger.Debug("invalidated cached completions",
				zap.String("document_id", documentID), zap.Int("entries", n))
		}
	}
}

// Healthy reports whether a backend is configured and, for the mock backend,
// always true. Remote reachability is only known at call time.
func (g *Gateway) Healthy() bool {
	return g.modes.Backend() != nil
}

func (g *Gateway) cacheable(req CompletionRequest) bool {
	return g.config.EnableCaching && g.cache != nil && req.DocumentID != ""
}

// withRetry runs fn with a per-attempt timeout, retrying transient failures
// up to MaxRetries times with exponential backoff. Permanent errors and
// parent context cancellation end the loop immediately.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.config.RetryDelay << (attempt - 1)
			g.logger.Warn("retrying llm call",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !core.IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, g.config.MaxRetries+1, lastErr)
}
