package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"finanalyst/core"
)

// allowedMimeTypes are the document types the extractor can handle.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
	"text/csv":        true,
}

// handleUpload accepts a multipart upload, stores the blob, and schedules
// processing. The response carries the document in UPLOADING or PROCESSING
// state; clients poll the status endpoint from there.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFileSize)
	if err := r.ParseMultipartForm(s.config.MaxFileSize); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart request: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	mimeType := detectMimeType(header.Filename, header.Header.Get("Content-Type"))
	s.ingest(w, r, header.Filename, mimeType, data)
}

// handleIngestURL downloads a document from a URL and ingests it like an
// upload.
func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		s.writeError(w, http.StatusBadRequest, errors.New("url must be http or https"))
		return
	}

	fetchReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.fetchClient.Do(fetchReq)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("failed to fetch document: %w", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("document fetch returned %s", resp.Status))
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxFileSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("failed to read document: %w", err))
		return
	}
	if int64(len(data)) > s.config.MaxFileSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("document exceeds the %d byte limit", s.config.MaxFileSize))
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = path.Base(parsed.Path)
		if filename == "" || filename == "/" || filename == "." {
			filename = "document.pdf"
		}
	}
	mimeType := detectMimeType(filename, resp.Header.Get("Content-Type"))
	s.ingest(w, r, filename, mimeType, data)
}

// ingest is the shared tail of both ingestion paths: create the row, store
// the blob, record the key, schedule processing.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request, filename, mimeType string, data []byte) {
	ctx := r.Context()

	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("document is empty"))
		return
	}
	if !allowedMimeTypes[mimeType] {
		s.writeError(w, http.StatusUnsupportedMediaType,
			fmt.Errorf("unsupported document type %q", mimeType))
		return
	}

	doc := &core.Document{
		UserID:    s.ownerID,
		Filename:  filepath.Base(filename),
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.writeDomainError(w, err)
		return
	}

	locator, err := s.blobs.Put(ctx, doc.ID+"/"+doc.Filename, data)
	if err != nil {
		// The row stays in UPLOADING with an error recorded; the client can
		// retry or delete.
		s.logger.Error("blob store failed", zap.String("document_id", doc.ID), zap.Error(err))
		_ = s.store.TransitionStatus(ctx, doc.ID, core.StatusError, "failed to store document")
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.SetStorageKey(ctx, doc.ID, locator); err != nil {
		s.writeDomainError(w, err)
		return
	}

	if err := s.scheduler.Start(ctx, doc.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), s.ownerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes a document and every artifact derived from
// it: blob, vector index, cached completions, and database rows. A document
// with a running job cannot be deleted; cancel first.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.scheduler.Active(id) {
		s.writeError(w, http.StatusConflict, errors.New("document is being processed; cancel the job first"))
		return
	}

	if doc.StorageKey != "" {
		if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
			s.logger.Warn("failed to delete blob", zap.String("document_id", id), zap.Error(err))
		}
	}
	if err := s.indexes.Delete(id); err != nil {
		s.logger.Warn("failed to delete index", zap.String("document_id", id), zap.Error(err))
	}
	s.gw.InvalidateDocument(id)

	if err := s.store.DeleteDocument(ctx, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.Start(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, doc)
}

// handleCancel requests cancellation of the document's running job. Cancel
// is a no-op for documents without one: the response reports whether a job
// was signalled. The job itself stops at its next step boundary.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": s.scheduler.Cancel(id)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"document_id":     doc.ID,
		"status":          doc.Status,
		"processing_step": doc.ProcessingStep,
		"error_message":   doc.ErrorMessage,
		"updated_at":      doc.UpdatedAt,
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if doc.Status != core.StatusCompleted {
		s.writeDomainError(w, core.ErrNotReady)
		return
	}
	result, err := s.store.GetAnalysisResult(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if result == nil {
		s.writeDomainError(w, core.ErrNotReady)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	data, filename, _, err := s.exporter.Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write export", zap.Error(err))
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.store.GetDocument(ctx, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	prompt, completion, err := s.store.TokenUsageTotals(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"document_id":       id,
		"prompt_tokens":     prompt,
		"completion_tokens": completion,
		"total_tokens":      prompt + completion,
	})
}

// detectMimeType resolves a usable mime type from the declared content type,
// falling back to the filename extension. Browsers routinely send
// application/octet-stream for PDFs.
func detectMimeType(filename, declared string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if allowedMimeTypes[declared] {
		return declared
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return declared
}
