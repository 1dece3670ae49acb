package vecindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"finanalyst/chunker"
)

// axisEmbedder maps each distinct text to its own axis vector, so similarity
// is 1 for identical texts and 0 otherwise.
type axisEmbedder struct {
	mu    sync.Mutex
	dim   int
	axes  map[string]int
	calls int32
}

func newAxisEmbedder(dim int) *axisEmbedder {
	return &axisEmbedder{dim: dim, axes: map[string]int{}}
}

func (e *axisEmbedder) axis(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.axes[text]; !ok {
		e.axes[text] = len(e.axes) % e.dim
	}
	return e.axes[text]
}

func (e *axisEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		vec[e.axis(text)] = 1
		out[i] = vec
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func testChunks(n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Position: i, Page: i/3 + 1, Text: fmt.Sprintf("chunk %d text", i)}
	}
	return chunks
}

func TestBuildAndLoad(t *testing.T) {
	embedder := newAxisEmbedder(32)
	m, err := NewManager(embedder, DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	chunks := testChunks(10)
	built, err := m.Build(context.Background(), "doc-1", chunks)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(built.Entries) != 10 {
		t.Errorf("entries = %d, want 10", len(built.Entries))
	}

	loaded, err := m.Load("doc-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DocumentID != "doc-1" || len(loaded.Entries) != 10 {
		t.Errorf("loaded index = %s with %d entries", loaded.DocumentID, len(loaded.Entries))
	}
	// Entry order must match chunk order regardless of batch scheduling.
	for i, entry := range loaded.Entries {
		if entry.Chunk.Position != i {
			t.Errorf("entry %d holds chunk position %d", i, entry.Chunk.Position)
		}
	}
}

func TestBuildBatchesRequests(t *testing.T) {
	embedder := newAxisEmbedder(32)
	config := DefaultConfig(t.TempDir())
	config.BatchSize = 4
	m, err := NewManager(embedder, config)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Build(context.Background(), "doc-1", testChunks(10)); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&embedder.calls); got != 3 {
		t.Errorf("embed calls = %d, want 3 batches for 10 chunks at size 4", got)
	}
}

func TestBuildPropagatesEmbedderErrors(t *testing.T) {
	m, err := NewManager(failingEmbedder{}, DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Build(context.Background(), "doc-1", testChunks(5)); err == nil {
		t.Error("Build() should fail when embedding fails")
	}
	if _, err := m.Load("doc-1"); !errors.Is(err, ErrIndexNotFound) {
		t.Error("failed build must not leave a partial index behind")
	}
}

func TestBuildReplacesExistingIndex(t *testing.T) {
	embedder := newAxisEmbedder(32)
	m, err := NewManager(embedder, DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := m.Build(ctx, "doc-1", testChunks(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Build(ctx, "doc-1", testChunks(3)); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.Load("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entries) != 3 {
		t.Errorf("entries after rebuild = %d, want 3", len(loaded.Entries))
	}
}

func TestLoadMissing(t *testing.T) {
	m, err := NewManager(newAxisEmbedder(8), DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load("nope"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Load() error = %v, want ErrIndexNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	m, err := NewManager(newAxisEmbedder(8), DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Build(context.Background(), "doc-1", testChunks(2)); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete("doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Load("doc-1"); !errors.Is(err, ErrIndexNotFound) {
		t.Error("index should be gone after delete")
	}
	if err := m.Delete("doc-1"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	idx := &Index{
		DocumentID: "doc-1",
		Dim:        3,
		Entries: []Entry{
			{Chunk: chunker.Chunk{Position: 0, Text: "a"}, Vector: []float32{1, 0, 0}},
			{Chunk: chunker.Chunk{Position: 1, Text: "b"}, Vector: []float32{0.9, 0.1, 0}},
			{Chunk: chunker.Chunk{Position: 2, Text: "c"}, Vector: []float32{0, 1, 0}},
			{Chunk: chunker.Chunk{Position: 3, Text: "d"}, Vector: []float32{0, 0, 1}},
		},
	}

	matches := idx.Search([]float32{1, 0, 0}, 2)
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].Chunk.Position != 0 || matches[1].Chunk.Position != 1 {
		t.Errorf("match order = [%d, %d], want [0, 1]", matches[0].Chunk.Position, matches[1].Chunk.Position)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("scores not descending")
	}
}

func TestSearchTiesBreakOnPosition(t *testing.T) {
	idx := &Index{
		Entries: []Entry{
			{Chunk: chunker.Chunk{Position: 2}, Vector: []float32{1, 0}},
			{Chunk: chunker.Chunk{Position: 0}, Vector: []float32{1, 0}},
			{Chunk: chunker.Chunk{Position: 1}, Vector: []float32{1, 0}},
		},
	}

	matches := idx.Search([]float32{1, 0}, 3)
	for i, match := range matches {
		if match.Chunk.Position != i {
			t.Errorf("matches[%d].Position = %d, want %d", i, match.Chunk.Position, i)
		}
	}
}

func TestSearchClampsK(t *testing.T) {
	idx := &Index{
		Entries: []Entry{
			{Chunk: chunker.Chunk{Position: 0}, Vector: []float32{1, 0}},
		},
	}

	if got := len(idx.Search([]float32{1, 0}, 5)); got != 1 {
		t.Errorf("len(matches) = %d, want 1", got)
	}
	if got := idx.Search([]float32{1, 0}, 0); got != nil {
		t.Errorf("Search(k=0) = %v, want nil", got)
	}
}
