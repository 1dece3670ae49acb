// Package vecindex builds, persists, and queries per-document vector
// indexes. The index is a flat cosine-similarity scan over chunk embeddings,
// which stays well under a millisecond for the chunk counts a single
// financial document produces. Each document's index lives in its own JSON
// file so deleting a document is deleting a file.
package vecindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"finanalyst/chunker"
)

// ErrIndexNotFound is returned when no index exists for a document.
var ErrIndexNotFound = errors.New("vector index not found")

// Embedder produces one embedding per input text. Satisfied by
// *gateway.Gateway.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry pairs a chunk with its embedding.
type Entry struct {
	Chunk  chunker.Chunk `json:"chunk"`
	Vector []float32     `json:"vector"`
}

// Index is an in-memory vector index for one document.
type Index struct {
	DocumentID string  `json:"document_id"`
	Dim        int     `json:"dim"`
	Entries    []Entry `json:"entries"`
}

// Match is one search result.
type Match struct {
	Chunk chunker.Chunk
	Score float64
}

// Search returns the top k entries by cosine similarity to the query vector.
// Score ties break on chunk position so results are stable. Entries whose
// dimension does not match the query are skipped.
func (idx *Index) Search(query []float32, k int) []Match {
	if k <= 0 || len(idx.Entries) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(idx.Entries))
	for _, entry := range idx.Entries {
		if len(entry.Vector) != len(query) {
			continue
		}
		matches = append(matches, Match{Chunk: entry.Chunk, Score: cosine(query, entry.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.Position < matches[j].Chunk.Position
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Config holds index-building configuration.
type Config struct {
	// Dir is where index files live.
	Dir string

	// BatchSize is how many chunks go into one embedding call.
	BatchSize int

	// Concurrency bounds parallel embedding batches.
	Concurrency int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		BatchSize:   16,
		Concurrency: 4,
	}
}

// Manager builds and loads per-document indexes.
type Manager struct {
	embedder Embedder
	config   Config
}

// NewManager creates a Manager, creating the index directory if needed.
func NewManager(embedder Embedder, config Config) (*Manager, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &Manager{embedder: embedder, config: config}, nil
}

// Build embeds all chunks in parallel batches and persists the resulting
// index, replacing any previous index for the document. The write is atomic
// so a crash mid-build leaves the old index intact.
func (m *Manager) Build(ctx context.Context, documentID string, chunks []chunker.Chunk) (*Index, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	entries := make([]Entry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)

	for start := 0; start < len(chunks); start += m.config.BatchSize {
		end := start + m.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		offset := start

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Text
			}
			vectors, err := m.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch at chunk %d: %w", offset, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				entries[offset+i] = Entry{Chunk: batch[i], Vector: vectors[i]}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &Index{DocumentID: documentID, Entries: entries}
	if len(entries) > 0 {
		idx.Dim = len(entries[0].Vector)
	}
	if err := m.persist(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load reads a document's index from disk.
func (m *Manager) Load(documentID string) (*Index, error) {
	data, err := os.ReadFile(m.Path(documentID))
	if os.IsNotExist(err) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return &idx, nil
}

// Delete removes a document's index. Deleting an absent index is a no-op.
func (m *Manager) Delete(documentID string) error {
	if err := os.Remove(m.Path(documentID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}

// Path returns the index file path for a document.
func (m *Manager) Path(documentID string) string {
	return filepath.Join(m.config.Dir, documentID+".json")
}

func (m *Manager) persist(idx *Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	path := m.Path(idx.DocumentID)
	tmp, err := os.CreateTemp(m.config.Dir, ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize index: %w", err)
	}
	return nil
}
