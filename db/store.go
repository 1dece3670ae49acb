package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finanalyst/core"
)

// ErrInvalidTransition is returned when a status update does not follow the
// document lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store provides persistence operations on top of a SQLite connection.
// All write paths that touch document status go through TransitionStatus so
// the lifecycle graph is enforced in one place.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// CreateUser inserts a user record. The id is generated when empty.
func (s *Store) CreateUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO users (id, email, password_hash, full_name, created_at)
	           VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, user.ID, user.Email, user.PasswordHash, user.FullName, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user with the given email, or nil when absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	const q = `SELECT id, email, password_hash, full_name, created_at FROM users WHERE email = ?`
	var u core.User
	err := s.db.QueryRowContext(ctx, q, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// CreateDocument inserts a document row. Status defaults to UPLOADING, which
// is the state before the blob is durably stored.
func (s *Store) CreateDocument(ctx context.Context, doc *core.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = core.StatusUploading
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	const q = `INSERT INTO documents
	           (id, user_id, filename, mime_type, size_bytes, storage_key, status, processing_step, error_message, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.Filename, doc.MimeType, doc.SizeBytes, doc.StorageKey,
		string(doc.Status), doc.ProcessingStep, doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id.
// Returns core.ErrDocumentNotFound when the id does not resolve.
func (s *Store) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	const q = `SELECT id, user_id, filename, mime_type, size_bytes, storage_key,
	                  status, processing_step, error_message, created_at, updated_at
	           FROM documents WHERE id = ?`
	var d core.Document
	var status string
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.SizeBytes, &d.StorageKey,
		&status, &d.ProcessingStep, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	d.Status = core.Status(status)
	return &d, nil
}

// ListDocuments returns all documents owned by a user, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]core.Document, error) {
	const q = `SELECT id, user_id, filename, mime_type, size_bytes, storage_key,
	                  status, processing_step, error_message, created_at, updated_at
	           FROM documents WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []core.Document
	for rows.Next() {
		var d core.Document
		var status string
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.SizeBytes, &d.StorageKey,
			&status, &d.ProcessingStep, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Status = core.Status(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document; analysis results, sessions, and
// questions cascade via foreign keys.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

// TransitionStatus moves a document to a new status, enforcing the lifecycle
// graph inside a transaction. Entering PROCESSING clears any previous error
// and step; terminal states clear the step; only ERROR carries a message.
func (s *Store) TransitionStatus(ctx context.Context, id string, to core.Status, errorMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	from := core.Status(current)
	if !core.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	msg := ""
	if to == core.StatusError {
		msg = errorMessage
	}

	const q = `UPDATE documents SET status = ?, processing_step = '', error_message = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, string(to), msg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

// RecoverInterruptedDocuments moves every document stuck in PROCESSING to
// ERROR. A row can only be in PROCESSING at startup when a previous process
// died mid-job, so the owning goroutine is gone and the document would be
// stranded otherwise. Returns the number of recovered documents.
func (s *Store) RecoverInterruptedDocuments(ctx context.Context) (int, error) {
	const q = `UPDATE documents SET status = ?, processing_step = '', error_message = ?, updated_at = ? WHERE status = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(core.StatusError), "processing interrupted by restart",
		time.Now().UTC(), string(core.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("recover interrupted documents: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetProcessingStep updates the human-readable progress label shown to
// polling clients. Only meaningful while the document is PROCESSING.
func (s *Store) SetProcessingStep(ctx context.Context, id, step string) error {
	const q = `UPDATE documents SET processing_step = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, step, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update processing step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

// SetStorageKey records where a document's blob landed. The document row is
// created before the blob upload finishes, so the key arrives in a second
// write.
func (s *Store) SetStorageKey(ctx context.Context, id, storageKey string) error {
	const q = `UPDATE documents SET storage_key = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, storageKey, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update storage key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

// ReplaceAnalysisResult stores the analysis result for a document, replacing
// any previous one. Reprocessing a document overwrites its artifacts.
func (s *Store) ReplaceAnalysisResult(ctx context.Context, result *core.AnalysisResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	figures, err := json.Marshal(result.KeyFigures)
	if err != nil {
		return fmt.Errorf("marshal key figures: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE document_id = ?`, result.DocumentID); err != nil {
		return fmt.Errorf("delete previous result: %w", err)
	}
	const q = `INSERT INTO analysis_results (id, document_id, summary, key_figures, index_path, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		result.ID, result.DocumentID, result.Summary, string(figures), result.IndexPath, result.CreatedAt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return tx.Commit()
}

// GetAnalysisResult returns the analysis result for a document, or nil when
// the document has not completed processing.
func (s *Store) GetAnalysisResult(ctx context.Context, documentID string) (*core.AnalysisResult, error) {
	const q = `SELECT id, document_id, summary, key_figures, index_path, created_at
	           FROM analysis_results WHERE document_id = ?`
	var r core.AnalysisResult
	var figures string
	err := s.db.QueryRowContext(ctx, q, documentID).Scan(
		&r.ID, &r.DocumentID, &r.Summary, &figures, &r.IndexPath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query analysis result: %w", err)
	}
	if err := json.Unmarshal([]byte(figures), &r.KeyFigures); err != nil {
		return nil, fmt.Errorf("unmarshal key figures: %w", err)
	}
	return &r, nil
}

// CreateQASession opens a new question/answer session for a document.
func (s *Store) CreateQASession(ctx context.Context, documentID string) (*core.QASession, error) {
	session := &core.QASession{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	const q = `INSERT INTO qa_sessions (id, document_id, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, session.ID, session.DocumentID, session.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert qa session: %w", err)
	}
	return session, nil
}

// LatestQASession returns the most recent session for a document, or nil.
func (s *Store) LatestQASession(ctx context.Context, documentID string) (*core.QASession, error) {
	const q = `SELECT id, document_id, created_at FROM qa_sessions
	           WHERE document_id = ? ORDER BY created_at DESC LIMIT 1`
	var sess core.QASession
	err := s.db.QueryRowContext(ctx, q, documentID).Scan(&sess.ID, &sess.DocumentID, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query qa session: %w", err)
	}
	return &sess, nil
}

// CreateQuestion appends a question record to a session. Records are
// immutable once written; there is no update path.
func (s *Store) CreateQuestion(ctx context.Context, question *core.Question) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	if question.CreatedAt.IsZero() {
		question.CreatedAt = time.Now().UTC()
	}
	if question.Sources == nil {
		question.Sources = []core.SourceReference{}
	}
	sources, err := json.Marshal(question.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	const q = `INSERT INTO questions (id, session_id, question_text, answer_text, sources, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		question.ID, question.SessionID, question.QuestionText, question.AnswerText, string(sources), question.CreatedAt); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// ListQuestionsByDocument returns every question asked against a document
// across all sessions, oldest first.
func (s *Store) ListQuestionsByDocument(ctx context.Context, documentID string) ([]core.Question, error) {
	const q = `SELECT q.id, q.session_id, q.question_text, q.answer_text, q.sources, q.created_at
	           FROM questions q
	           JOIN qa_sessions s ON s.id = q.session_id
	           WHERE s.document_id = ?
	           ORDER BY q.created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []core.Question
	for rows.Next() {
		var item core.Question
		var sources string
		if err := rows.Scan(&item.ID, &item.SessionID, &item.QuestionText, &item.AnswerText, &sources, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &item.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// RecordTokenUsage appends a token accounting row for one gateway call.
func (s *Store) RecordTokenUsage(ctx context.Context, usage *core.TokenUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO token_usage (id, document_id, question_id, operation, model, prompt_tokens, completion_tokens, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		usage.ID, nullable(usage.DocumentID), nullable(usage.QuestionID),
		usage.Operation, usage.Model, usage.PromptTokens, usage.CompletionTokens, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}
	return nil
}

// TokenUsageTotals returns aggregate prompt/completion token counts for a
// document across all recorded operations.
func (s *Store) TokenUsageTotals(ctx context.Context, documentID string) (prompt, completion int, err error) {
	const q = `SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
	           FROM token_usage WHERE document_id = ?`
	if err := s.db.QueryRowContext(ctx, q, documentID).Scan(&prompt, &completion); err != nil {
		return 0, 0, fmt.Errorf("sum token usage: %w", err)
	}
	return prompt, completion, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
