package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finanalyst/blobstore"
	"finanalyst/chunker"
	"finanalyst/core"
	"finanalyst/db"
	"finanalyst/extractor"
	"finanalyst/gateway"
	"finanalyst/shutdown"
	"finanalyst/vecindex"
)

// Processing step names, surfaced to clients through the status endpoint.
const (
	StepExtract = "extracting_text"
	StepChunk   = "chunking"
	StepIndex   = "building_index"
	StepSummary = "generating_summary"
	StepFigures = "extracting_key_figures"
	StepPersist = "persisting_results"
)

// maxPromptChars bounds how much document text goes into a single summary or
// key-figure prompt. Longer documents are truncated at a whitespace boundary.
const maxPromptChars = 24000

// terminalWriteTimeout bounds the status write that ends a job. The write
// runs on its own context so it succeeds even after the base context is
// cancelled during shutdown.
const terminalWriteTimeout = 10 * time.Second

// Scheduler starts, runs, and cancels analysis jobs. One job per document at
// a time; concurrent documents run independently.
type Scheduler struct {
	store     *db.Store
	blobs     blobstore.Store
	gateway   *gateway.Gateway
	indexes   *vecindex.Manager
	extractor *extractor.Extractor
	chunker   *chunker.Chunker
	registry  *Registry
	tracker   *shutdown.OperationTracker
	logger    *zap.Logger
	model     string

	// baseCtx outlives HTTP requests; jobs run on it so an upload request
	// finishing does not kill the job it scheduled.
	baseCtx context.Context
}

// SchedulerConfig wires a Scheduler's collaborators.
type SchedulerConfig struct {
	Store     *db.Store
	Blobs     blobstore.Store
	Gateway   *gateway.Gateway
	Indexes   *vecindex.Manager
	Extractor *extractor.Extractor
	Chunker   *chunker.Chunker
	Registry  *Registry

	// Tracker is optional; when set, jobs count as in-flight work during
	// shutdown and new jobs are rejected once draining starts.
	Tracker *shutdown.OperationTracker

	Logger *zap.Logger

	// Model is recorded with token usage rows.
	Model string

	// BaseContext is the lifetime context for running jobs, typically the
	// shutdown manager's context. Defaults to context.Background().
	BaseContext context.Context
}

// NewScheduler creates a Scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.BaseContext == nil {
		config.BaseContext = context.Background()
	}
	return &Scheduler{
		store:     config.Store,
		blobs:     config.Blobs,
		gateway:   config.Gateway,
		indexes:   config.Indexes,
		extractor: config.Extractor,
		chunker:   config.Chunker,
		registry:  config.Registry,
		tracker:   config.Tracker,
		logger:    config.Logger,
		model:     config.Model,
		baseCtx:   config.BaseContext,
	}
}

// Start begins processing a document in the background. It returns once the
// document has transitioned to PROCESSING; the job itself runs on the
// scheduler's base context.
//
// Errors: core.ErrDocumentNotFound, core.ErrJobAlreadyRunning,
// shutdown.ErrTrackerClosed, or a transition error when the document is in a
// state that cannot enter processing.
func (s *Scheduler) Start(ctx context.Context, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	token, err := s.registry.Acquire(documentID)
	if err != nil {
		return err
	}

	tracked := false
	if s.tracker != nil {
		if !s.tracker.Start() {
			s.registry.Release(documentID)
			return shutdown.ErrTrackerClosed
		}
		tracked = true
	}

	if err := s.store.TransitionStatus(ctx, documentID, core.StatusProcessing, ""); err != nil {
		s.registry.Release(documentID)
		if tracked {
			s.tracker.Done()
		}
		return err
	}

	// Reprocessing replaces everything; stale cached completions must not
	// satisfy the new run.
	if doc.Status.Terminal() {
		s.gateway.InvalidateDocument(documentID)
	}

	s.logger.Info("processing job started",
		zap.String("document_id", documentID),
		zap.String("filename", doc.Filename),
		zap.Bool("reprocess", doc.Status.Terminal()))

	go func() {
		defer s.registry.Release(documentID)
		if tracked {
			defer s.tracker.Done()
		}
		s.run(s.baseCtx, doc, token)
	}()
	return nil
}

// Cancel requests cancellation of a document's running job. It reports
// whether a job was running; the job stops at its next step boundary.
func (s *Scheduler) Cancel(documentID string) bool {
	cancelled := s.registry.Cancel(documentID)
	if cancelled {
		s.logger.Info("cancellation requested", zap.String("document_id", documentID))
	}
	return cancelled
}

// Active reports whether a job is currently running for the document.
func (s *Scheduler) Active(documentID string) bool {
	return s.registry.Active(documentID)
}

// run executes the pipeline steps. Cancellation is checked between steps
// only; a step that has begun always finishes.
func (s *Scheduler) run(ctx context.Context, doc *core.Document, token *Token) {
	start := time.Now()
	log := s.logger.With(zap.String("document_id", doc.ID))

	result, err := s.runSteps(ctx, doc, token, log)

	// The terminal status must reach the store even when ctx was cancelled
	// by shutdown; otherwise the document is stranded in PROCESSING.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	switch {
	// Base-context cancellation (shutdown) ends the job the same way a user
	// cancellation does: CANCELLED, no message, re-processable.
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.Canceled):
		if terr := s.store.TransitionStatus(writeCtx, doc.ID, core.StatusCancelled, ""); terr != nil {
			log.Error("failed to record cancellation", zap.Error(terr))
		}
		log.Info("processing job cancelled", zap.Duration("elapsed", time.Since(start)))

	case err != nil:
		if terr := s.store.TransitionStatus(writeCtx, doc.ID, core.StatusError, err.Error()); terr != nil {
			log.Error("failed to record job failure", zap.Error(terr))
		}
		log.Error("processing job failed",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))

	default:
		if terr := s.store.TransitionStatus(writeCtx, doc.ID, core.StatusCompleted, ""); terr != nil {
			log.Error("failed to record completion", zap.Error(terr))
			return
		}
		log.Info("processing job completed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("key_figures", len(result.KeyFigures)))
	}
}

func (s *Scheduler) runSteps(ctx context.Context, doc *core.Document, token *Token, log *zap.Logger) (*core.AnalysisResult, error) {
	if err := s.checkpoint(ctx, doc.ID, token, StepExtract); err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored document: %w", err)
	}
	extracted, err := s.extractor.Extract(data, doc.MimeType)
	if err != nil {
		return nil, err
	}
	log.Debug("text extracted",
		zap.Int("pages", extracted.Pages()), zap.Int("chars", len(extracted.Text)))

	if err := s.checkpoint(ctx, doc.ID, token, StepChunk); err != nil {
		return nil, err
	}
	chunks := s.chunker.Split(extracted)
	if len(chunks) == 0 {
		return nil, core.NewExtractionError("document contains no usable text", nil)
	}
	log.Debug("text chunked", zap.Int("chunks", len(chunks)))

	if err := s.checkpoint(ctx, doc.ID, token, StepIndex); err != nil {
		return nil, err
	}
	if _, err := s.indexes.Build(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}

	if err := s.checkpoint(ctx, doc.ID, token, StepSummary); err != nil {
		return nil, err
	}
	summary, err := s.complete(ctx, doc.ID, gateway.OpSummary, summaryPrompt(extracted.Text))
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}

	if err := s.checkpoint(ctx, doc.ID, token, StepFigures); err != nil {
		return nil, err
	}
	figuresText, err := s.complete(ctx, doc.ID, gateway.OpKeyFigures, figuresPrompt(extracted.Text))
	if err != nil {
		return nil, fmt.Errorf("key figure extraction failed: %w", err)
	}
	figures := parseKeyFigures(figuresText)

	if err := s.checkpoint(ctx, doc.ID, token, StepPersist); err != nil {
		return nil, err
	}
	result := &core.AnalysisResult{
		DocumentID: doc.ID,
		Summary:    summary,
		KeyFigures: figures,
		IndexPath:  s.indexes.Path(doc.ID),
	}
	if err := s.store.ReplaceAnalysisResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}
	return result, nil
}

// checkpoint is the step boundary: it observes cancellation, then records
// the step about to run.
func (s *Scheduler) checkpoint(ctx context.Context, documentID string, token *Token, step string) error {
	select {
	case <-token.Cancelled():
		return core.ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := s.store.SetProcessingStep(ctx, documentID, step); err != nil {
		return fmt.Errorf("failed to record step %s: %w", step, err)
	}
	return nil
}

// complete runs one gateway completion and records its token usage. Cached
// responses cost nothing and are not recorded.
func (s *Scheduler) complete(ctx context.Context, documentID string, op gateway.Operation, prompt string) (string, error) {
	resp, err := s.gateway.Complete(ctx, gateway.CompletionRequest{
		Operation:  op,
		DocumentID: documentID,
		Prompt:     prompt,
	})
	if err != nil {
		return "", err
	}

	if !resp.Cached {
		usage := &core.TokenUsage{
			DocumentID:       documentID,
			Operation:        string(op),
			Model:            s.model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
		}
		if err := s.store.RecordTokenUsage(ctx, usage); err != nil {
			s.logger.Warn("failed to record token usage",
				zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return resp.Text, nil
}

func summaryPrompt(text string) string {
	return "Summarize the following financial document in one dense paragraph. " +
		"Cover revenue, profitability, balance sheet position, and management outlook " +
		"where the document provides them.\n\nDocument:\n" + truncate(text, maxPromptChars)
}

func figuresPrompt(text string) string {
	return "Extract the key financial figures from the following document. " +
		"Respond with a JSON array where each element has the fields " +
		`"name", "value", "source_page", and "source_section". ` +
		"Only include figures stated in the document.\n\nDocument:\n" + truncate(text, maxPromptChars)
}

// truncate cuts text at the last whitespace before the limit so prompts do
// not end mid-word.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	for i := len(cut) - 1; i > limit/2; i-- {
		if cut[i] == ' ' || cut[i] == '\n' {
			return cut[:i]
		}
	}
	return cut
}
