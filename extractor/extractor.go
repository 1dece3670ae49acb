// Package extractor converts raw document blobs into plain text with page
// boundaries. PDF parsing uses ledongthuc/pdf; plain text and markdown pass
// through with form-feed characters treated as page breaks.
//
// Extraction is pure over the input bytes: the same blob always yields the
// same text and page offsets, which the chunker depends on for idempotent
// index rebuilds.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"finanalyst/core"
)

// Result holds extracted text and page structure.
type Result struct {
	// Text is the full extracted text with pages joined by PageSeparator.
	Text string

	// PageOffsets holds the byte offset in Text where each page starts.
	// Always non-empty for a successful extraction; len(PageOffsets) is the
	// count of pages that yielded text.
	PageOffsets []int

	// PageNumbers holds the physical page number for each entry in
	// PageOffsets. The two slices are parallel; the numbers can have gaps
	// when pages were empty or unparseable, so citations still point at the
	// right page of the source document.
	PageNumbers []int
}

// Pages returns the number of pages that yielded text.
func (r *Result) Pages() int { return len(r.PageOffsets) }

// PageAt returns the physical page number containing the given byte offset.
func (r *Result) PageAt(offset int) int {
	page := 1
	for i, start := range r.PageOffsets {
		if offset >= start {
			page = r.pageNumber(i)
		} else {
			break
		}
	}
	return page
}

func (r *Result) pageNumber(i int) int {
	if i < len(r.PageNumbers) {
		return r.PageNumbers[i]
	}
	return i + 1
}

// Config holds extraction configuration.
type Config struct {
	// PageSeparator is inserted between page texts. Defaults to "\n\n".
	PageSeparator string

	// MaxPages limits extraction to the first N pages (0 for all).
	MaxPages int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		PageSeparator: "\n\n",
		MaxPages:      0,
	}
}

// Extractor extracts text from document blobs.
// Safe for concurrent use (stateless).
type Extractor struct {
	config Config
}

// NewExtractor creates an Extractor with the given configuration.
func NewExtractor(config Config) *Extractor {
	if config.PageSeparator == "" {
		config.PageSeparator = "\n\n"
	}
	return &Extractor{config: config}
}

// NewDefaultExtractor creates an Extractor with default configuration.
func NewDefaultExtractor() *Extractor {
	return NewExtractor(DefaultConfig())
}

// Extract converts a blob into text plus page offsets. The mime type hint
// selects the parsing strategy; unsupported types and corrupt input yield a
// *core.ExtractionError, which the pipeline treats as terminal.
func (e *Extractor) Extract(data []byte, mimeType string) (*Result, error) {
	if len(data) == 0 {
		return nil, core.NewExtractionError("empty document", nil)
	}

	switch normalizeMime(mimeType) {
	case "application/pdf":
		return e.extractPDF(data)
	case "text/plain", "text/markdown", "text/csv":
		return e.extractText(data), nil
	default:
		return nil, core.NewExtractionError(fmt.Sprintf("unsupported mime type %q", mimeType), nil)
	}
}

// extractPDF pulls text page by page. ledongthuc/pdf can panic on malformed
// cross-reference tables, so the whole parse runs under a recover.
func (e *Extractor) extractPDF(data []byte) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = core.NewExtractionError("malformed PDF", fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, core.NewExtractionError("corrupt PDF", err)
	}

	totalPages := reader.NumPage()
	pagesToProcess := totalPages
	if e.config.MaxPages > 0 && e.config.MaxPages < totalPages {
		pagesToProcess = e.config.MaxPages
	}

	var builder strings.Builder
	var offsets, numbers []int
	for pageIndex := 1; pageIndex <= pagesToProcess; pageIndex++ {
		p := reader.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Individual page failures are tolerated as long as the
			// document yields some text overall.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(e.config.PageSeparator)
		}
		offsets = append(offsets, builder.Len())
		numbers = append(numbers, pageIndex)
		builder.WriteString(text)
	}

	if builder.Len() == 0 {
		return nil, core.NewExtractionError("no text content found in PDF", nil)
	}
	return &Result{Text: builder.String(), PageOffsets: offsets, PageNumbers: numbers}, nil
}

// extractText handles plain text formats. Form feeds mark page breaks; a
// document without them is a single page.
func (e *Extractor) extractText(data []byte) *Result {
	text := string(data)

	if !strings.Contains(text, "\f") {
		return &Result{Text: text, PageOffsets: []int{0}, PageNumbers: []int{1}}
	}

	var builder strings.Builder
	var offsets, numbers []int
	for i, page := range strings.Split(text, "\f") {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(e.config.PageSeparator)
		}
		offsets = append(offsets, builder.Len())
		numbers = append(numbers, i+1)
		builder.WriteString(page)
	}
	if len(offsets) == 0 {
		return &Result{Text: "", PageOffsets: []int{0}, PageNumbers: []int{1}}
	}
	return &Result{Text: builder.String(), PageOffsets: offsets, PageNumbers: numbers}
}

// normalizeMime strips parameters ("text/plain; charset=utf-8") and lowers case.
func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
