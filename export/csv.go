// Package export renders a document's analysis artifacts into downloadable
// files. CSV is the only supported format: one file combining document
// metadata, the summary, key figures, and the question history, which is
// what spreadsheet-based review workflows consume.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"finanalyst/blobstore"
	"finanalyst/core"
	"finanalyst/db"
)

// ErrUnsupportedFormat is returned for any format other than "csv".
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Exporter builds export files and stores them as blobs.
type Exporter struct {
	store *db.Store
	blobs blobstore.Store
}

// NewExporter creates an Exporter.
func NewExporter(store *db.Store, blobs blobstore.Store) *Exporter {
	return &Exporter{store: store, blobs: blobs}
}

// Export renders the document's analysis in the given format and stores the
// result, returning the generated bytes, a suggested filename, and the blob
// locator. The document must be COMPLETED.
func (e *Exporter) Export(ctx context.Context, documentID, format string) ([]byte, string, string, error) {
	if format != "csv" {
		return nil, "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, "", "", err
	}
	if doc.Status != core.StatusCompleted {
		return nil, "", "", core.ErrNotReady
	}

	result, err := e.store.GetAnalysisResult(ctx, documentID)
	if err != nil {
		return nil, "", "", err
	}
	if result == nil {
		return nil, "", "", core.ErrNotReady
	}
	questions, err := e.store.ListQuestionsByDocument(ctx, documentID)
	if err != nil {
		return nil, "", "", err
	}

	data, err := renderCSV(doc, result, questions)
	if err != nil {
		return nil, "", "", err
	}

	filename := fmt.Sprintf("analysis_%s_%s.csv", documentID, time.Now().UTC().Format("20060102"))
	locator, err := e.blobs.Put(ctx, documentID+"/exports/"+filename, data)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to store export: %w", err)
	}
	return data, filename, locator, nil
}

// renderCSV writes the analysis as labeled sections separated by blank rows.
func renderCSV(doc *core.Document, result *core.AnalysisResult, questions []core.Question) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"Section", "Field", "Value"},
		{"Document", "Filename", doc.Filename},
		{"Document", "Status", string(doc.Status)},
		{"Document", "Size (bytes)", strconv.FormatInt(doc.SizeBytes, 10)},
		{"Document", "Uploaded", doc.CreatedAt.UTC().Format(time.RFC3339)},
		{"Document", "Analyzed", result.CreatedAt.UTC().Format(time.RFC3339)},
		{},
		{"Summary", "", result.Summary},
		{},
		{"Key Figures", "Name", "Value"},
	}
	for _, figure := range result.KeyFigures {
		label := figure.Name
		if figure.SourcePage > 0 {
			label = fmt.Sprintf("%s (p.%d)", figure.Name, figure.SourcePage)
		}
		rows = append(rows, []string{"Key Figures", label, figure.Value})
	}

	if len(questions) > 0 {
		rows = append(rows, []string{}, []string{"Q&A", "Question", "Answer"})
		for _, q := range questions {
			rows = append(rows, []string{"Q&A", q.QuestionText, q.AnswerText})
		}
	}

	for _, row := range rows {
		if len(row) == 0 {
			row = []string{"", "", ""}
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
