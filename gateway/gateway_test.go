package gateway

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"finanalyst/core"
)

// flakyBackend fails transiently a configured number of times before
// succeeding.
type flakyBackend struct {
	failures  int32
	calls     int32
	permanent bool
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.permanent {
		return nil, errors.New("invalid api key")
	}
	if n <= f.failures {
		return nil, core.NewTransientError("chat completion", errors.New("connection refused"))
	}
	return &CompletionResponse{Text: "recovered"}, nil
}

func (f *flakyBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, core.NewTransientError("embeddings", errors.New("connection refused"))
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestManager(t *testing.T, backend Backend, cache *Cache) *ModeManager {
	t.Helper()
	m, err := NewModeManager(ModeSettings{Mode: ModeMock, Model: "test"}, ModeManagerConfig{EmbedDim: 8}, cache)
	if err != nil {
		t.Fatalf("NewModeManager() error = %v", err)
	}
	if backend != nil {
		m.mu.Lock()
		m.backend = backend
		m.mu.Unlock()
	}
	return m
}

func fastConfig() Config {
	return Config{
		Model:         "test",
		Timeout:       time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		EnableCaching: true,
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	backend := &flakyBackend{failures: 2}
	g := NewGateway(newTestManager(t, backend, nil), nil, fastConfig(), nil)

	resp, err := g.Complete(context.Background(), CompletionRequest{Operation: OpSummary, Prompt: "summarize"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("Text = %q", resp.Text)
	}
	if got := atomic.LoadInt32(&backend.calls); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	backend := &flakyBackend{failures: 100}
	config := fastConfig()
	config.MaxRetries = 2
	g := NewGateway(newTestManager(t, backend, nil), nil, config, nil)

	_, err := g.Complete(context.Background(), CompletionRequest{Operation: OpSummary, Prompt: "summarize"})
	if err == nil {
		t.Fatal("want error after exhausting retries")
	}
	if got := atomic.LoadInt32(&backend.calls); got != 3 {
		t.Errorf("backend calls = %d, want 3 (1 initial + 2 retries)", got)
	}
}

func TestCompleteDoesNotRetryPermanentErrors(t *testing.T) {
	backend := &flakyBackend{permanent: true}
	g := NewGateway(newTestManager(t, backend, nil), nil, fastConfig(), nil)

	_, err := g.Complete(context.Background(), CompletionRequest{Operation: OpSummary, Prompt: "summarize"})
	if err == nil {
		t.Fatal("want error")
	}
	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry)", got)
	}
}

func TestCompleteRespectsCancellation(t *testing.T) {
	backend := &flakyBackend{failures: 100}
	config := fastConfig()
	config.RetryDelay = time.Minute
	g := NewGateway(newTestManager(t, backend, nil), nil, config, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Complete(ctx, CompletionRequest{Operation: OpSummary, Prompt: "summarize"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Complete() did not return after cancellation")
	}
}

func TestCompleteUsesCache(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	backend := &flakyBackend{}
	g := NewGateway(newTestManager(t, backend, cache), cache, fastConfig(), nil)

	req := CompletionRequest{Operation: OpSummary, DocumentID: "doc-1", Prompt: "summarize this"}
	first, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first call should not be cached")
	}

	second, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("second call should hit the cache")
	}
	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestInvalidateDocumentScopesToOneDocument(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGateway(newTestManager(t, &flakyBackend{}, cache), cache, fastConfig(), nil)
	ctx := context.Background()

	reqA := CompletionRequest{Operation: OpSummary, DocumentID: "doc-a", Prompt: "summarize"}
	reqB := CompletionRequest{Operation: OpSummary, DocumentID: "doc-b", Prompt: "summarize"}
	if _, err := g.Complete(ctx, reqA); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Complete(ctx, reqB); err != nil {
		t.Fatal(err)
	}

	g.InvalidateDocument("doc-a")

	if _, ok := cache.Get(Key(reqA, "test")); ok {
		t.Error("doc-a entry should be invalidated")
	}
	if _, ok := cache.Get(Key(reqB, "test")); !ok {
		t.Error("doc-b entry should survive")
	}
}

func TestCacheSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	req := CompletionRequest{Operation: OpQA, DocumentID: "doc-9", Prompt: "what is revenue"}
	key := Key(req, "test")
	if err := cache.Put(key, req, "cached answer"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := reloaded.Get(key)
	if !ok || text != "cached answer" {
		t.Errorf("Get() after reload = (%q, %v), want cached answer", text, ok)
	}
}

func TestKeyNormalizesWhitespace(t *testing.T) {
	a := CompletionRequest{Operation: OpQA, DocumentID: "d", Prompt: "what  is\n\nrevenue"}
	b := CompletionRequest{Operation: OpQA, DocumentID: "d", Prompt: "what is revenue"}
	if Key(a, "m") != Key(b, "m") {
		t.Error("whitespace differences should not change the cache key")
	}

	c := CompletionRequest{Operation: OpSummary, DocumentID: "d", Prompt: "what is revenue"}
	if Key(b, "m") == Key(c, "m") {
		t.Error("different operations must produce different keys")
	}
}

func TestMockBackendDeterministicEmbeddings(t *testing.T) {
	m := NewMockBackend(16, 0)
	ctx := context.Background()

	first, err := m.Embed(ctx, []string{"revenue grew", "debt fell"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Embed(ctx, []string{"revenue grew", "debt fell"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("embedding %d differs between runs", i)
			}
		}
	}
	if len(first[0]) != 16 {
		t.Errorf("embedding dim = %d, want 16", len(first[0]))
	}
}

func TestMockBackendKeywordRouting(t *testing.T) {
	m := NewMockBackend(8, 0)
	ctx := context.Background()

	tests := []struct {
		question string
		contains string
	}{
		{"What was the total revenue?", "$4.2 billion"},
		{"How much debt does the company carry?", "$950 million"},
		{"What are the main risks?", "foreign-exchange"},
		{"Tell me about the weather", "narrow the question"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			resp, err := m.Complete(ctx, CompletionRequest{Operation: OpQA, Prompt: tt.question})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(strings.ToLower(resp.Text), strings.ToLower(tt.contains)) {
				t.Errorf("answer %q does not mention %q", resp.Text, tt.contains)
			}
		})
	}
}

func TestModeManagerSwitching(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModeManager(
		ModeSettings{Mode: ModeMock, Model: "test"},
		ModeManagerConfig{EmbedDim: 8, EmbedModel: "embed-test"},
		cache,
	)
	if err != nil {
		t.Fatal(err)
	}

	if got := m.Backend().Name(); got != "mock" {
		t.Errorf("initial backend = %q, want mock", got)
	}

	err = m.SetMode(ModeSettings{Mode: ModeRemote, Model: "llama3", BaseURL: "http://localhost:11434/v1"})
	if err != nil {
		t.Fatalf("SetMode(remote) error = %v", err)
	}
	if got := m.Backend().Name(); got != "remote" {
		t.Errorf("backend after switch = %q, want remote", got)
	}

	status := m.Status()
	if status.Mode != ModeRemote || status.Model != "llama3" {
		t.Errorf("Status() = %+v", status)
	}
}

func TestModeManagerRejectsInvalidMode(t *testing.T) {
	m := newTestManager(t, nil, nil)

	if err := m.SetMode(ModeSettings{Mode: "turbo"}); err == nil {
		t.Error("SetMode with unknown mode should fail")
	}
	if got := m.Backend().Name(); got != "mock" {
		t.Errorf("backend changed to %q after failed switch", got)
	}

	if err := m.SetMode(ModeSettings{Mode: ModeRemote}); err == nil {
		t.Error("SetMode(remote) without model should fail")
	}
}

func TestModeManagerPersistsSettings(t *testing.T) {
	path := t.TempDir() + "/llm.yaml"
	m, err := NewModeManager(
		ModeSettings{Mode: ModeMock, Model: "test"},
		ModeManagerConfig{Path: path, EmbedDim: 8},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetMode(ModeSettings{Mode: ModeRemote, Model: "llama3", BaseURL: "http://localhost:11434/v1"}); err != nil {
		t.Fatal(err)
	}

	// A fresh manager picks up the persisted settings over its initial ones.
	fresh, err := NewModeManager(
		ModeSettings{Mode: ModeMock, Model: "test"},
		ModeManagerConfig{Path: path, EmbedDim: 8},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := fresh.Settings().Mode; got != ModeRemote {
		t.Errorf("reloaded mode = %q, want remote", got)
	}
}
