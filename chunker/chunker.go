// Package chunker splits extracted document text into overlapping chunks
// sized for embedding. Splitting is deterministic: the same text and
// configuration always produce the same chunk sequence, so rebuilding an
// index never shifts citations.
package chunker

import (
	"strings"

	"finanalyst/extractor"
)

// Chunk is one retrievable unit of document text.
type Chunk struct {
	// Position is the zero-based index of the chunk within the document.
	Position int `json:"position"`

	// Page is the 1-indexed page where the chunk starts.
	Page int `json:"page"`

	// Section is the nearest preceding heading, or "" when none was seen.
	Section string `json:"section,omitempty"`

	// Text is the chunk content.
	Text string `json:"text"`

	// StartOffset and EndOffset locate the chunk in the source text.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`
}

// Config holds chunking configuration.
type Config struct {
	// TargetSize is the preferred chunk length in bytes.
	TargetSize int

	// Overlap is how many bytes of the previous chunk's tail are repeated at
	// the start of the next chunk. Must be smaller than TargetSize.
	Overlap int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		TargetSize: 1000,
		Overlap:    100,
	}
}

// Chunker splits text into chunks. Safe for concurrent use (stateless).
type Chunker struct {
	config Config
}

// NewChunker creates a Chunker, clamping invalid configuration to defaults.
func NewChunker(config Config) *Chunker {
	defaults := DefaultConfig()
	if config.TargetSize <= 0 {
		config.TargetSize = defaults.TargetSize
	}
	if config.Overlap < 0 || config.Overlap >= config.TargetSize {
		config.Overlap = config.TargetSize / 10
	}
	return &Chunker{config: config}
}

// Split chunks the extraction result. Chunks prefer to break at paragraph
// boundaries, then sentence ends, then whitespace, falling back to a hard
// cut for pathological unbroken text. Whitespace-only input yields no chunks.
func (c *Chunker) Split(result *extractor.Result) []Chunk {
	text := result.Text
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.config.TargetSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.findBreak(text, start, end)
		}

		piece := text[start:end]
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, Chunk{
				Position:    len(chunks),
				Page:        result.PageAt(start),
				Section:     sectionFor(text, start),
				Text:        piece,
				StartOffset: start,
				EndOffset:   end,
			})
		}

		if end >= len(text) {
			break
		}
		next := end - c.config.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// findBreak looks backwards from the target end for a natural boundary.
// Boundaries closer than half a chunk to the start are rejected so chunks
// never collapse to fragments.
func (c *Chunker) findBreak(text string, start, end int) int {
	floor := start + c.config.TargetSize/2

	if i := strings.LastIndex(text[start:end], "\n\n"); i >= 0 && start+i > floor {
		return start + i + 2
	}
	for _, sep := range []string{". ", ".\n", "! ", "? ", "\n"} {
		if i := strings.LastIndex(text[start:end], sep); i >= 0 && start+i > floor {
			return start + i + len(sep)
		}
	}
	if i := strings.LastIndexAny(text[start:end], " \t"); i >= 0 && start+i > floor {
		return start + i + 1
	}
	return end
}

// sectionFor returns the nearest heading line at or before the offset.
// Headings are markdown-style ("# Title") or short all-caps lines, which is
// how section titles commonly survive PDF text extraction.
func sectionFor(text string, offset int) string {
	if offset > len(text) {
		offset = len(text)
	}
	lines := strings.Split(text[:offset], "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if isHeading(line) {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
	}
	return ""
}

func isHeading(line string) bool {
	if line == "" || len(line) > 80 {
		return false
	}
	if strings.HasPrefix(line, "#") {
		return true
	}
	letters := 0
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
		}
	}
	// Require a few letters so numbers and punctuation rows do not match.
	return letters >= 3 && !strings.HasSuffix(line, ".")
}
