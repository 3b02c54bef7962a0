package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/tursodatabase/go-libsql"
)

var (
	// ErrSessionNotFound is returned for operations against a session that
	// does not exist (including one deleted mid-turn).
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound is returned when a referenced message is absent.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDocumentNotFound is returned when a referenced document is absent.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrBadReplyTarget is returned when a reply references a message that is
	// not an advisor message in the same session.
	ErrBadReplyTarget = errors.New("reply target must be an advisor message in the same session")
)

// Store persists sessions, their message logs and document associations, and
// the per-user insight canvas. The message log is single-writer-per-session
// (the orchestrator's turn token enforces that) and multi-reader.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*SessionSummary, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
	GetLatestMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	GetThread(ctx context.Context, rootMessageID string) ([]Message, error)

	AddDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, sessionID string) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	AddInsight(ctx context.Context, insight *Insight) error
	ListInsights(ctx context.Context, userID string) ([]Insight, error)
	ResetCanvas(ctx context.Context, userID string) error

	GetStats(ctx context.Context) (map[string]any, error)
	Close() error
}

// SQLiteStore implements Store on libsql.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT 'New Chat',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('user', 'advisor', 'system', 'error', 'document_upload', 'clarification')),
	persona_id TEXT,
	content TEXT NOT NULL,
	is_reply INTEGER NOT NULL DEFAULT 0,
	is_expansion INTEGER NOT NULL DEFAULT 0,
	reply_to_id TEXT,
	rag_sources TEXT,
	suggestions TEXT,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	byte_size INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMP NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	source_persona TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON messages(reply_to_id);
CREATE INDEX IF NOT EXISTS idx_documents_session_id ON documents(session_id);
CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id);
`

// NewSQLiteStore opens (creating if needed) the session store at dbPath.
func NewSQLiteStore(dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Cascade deletes depend on foreign key enforcement.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// The go-libsql driver executes only the first statement of a
	// multi-statement Exec, so the schema must be applied one statement at
	// a time.
	for _, stmt := range strings.Split(storeSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	l := logger.With("component", "storage")
	l.Info("session store initialized", "path", dbPath)
	return &SQLiteStore{db: db, logger: l}, nil
}

// CreateSession creates a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = session.CreatedAt
	if session.Title == "" {
		session.Title = "New Chat"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var session Session
	err := row.Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// SessionExists reports whether the session is still present. The append
// path uses it to discard results destined for a deleted session.
func (s *SQLiteStore) SessionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return true, nil
}

// ListSessions returns session summaries for a user, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		       COALESCE((SELECT m.content FROM messages m
		                 WHERE m.session_id = s.id AND m.type = 'user'
		                 ORDER BY m.rowid DESC LIMIT 1), '')
		FROM sessions s
		WHERE s.user_id = ?
		ORDER BY s.updated_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.UpdatedAt, &sum.MessageCount, &sum.LastMessage); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &sum)
	}
	return sessions, rows.Err()
}

// UpdateSessionTitle renames a session.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// DeleteSession deletes a session; messages and documents cascade.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// AppendMessage appends a message to a session's log. The session's
// existence is validated in the same statement batch, so a message can never
// land in a deleted session. Reply targets must be advisor messages in the
// same session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, message.SessionID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, message.SessionID)
		}
		return fmt.Errorf("failed to check session: %w", err)
	}

	if message.ReplyToID != "" {
		var targetType MessageType
		var targetSession string
		err := tx.QueryRowContext(ctx,
			`SELECT type, session_id FROM messages WHERE id = ?`, message.ReplyToID).
			Scan(&targetType, &targetSession)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, message.ReplyToID)
		}
		if err != nil {
			return fmt.Errorf("failed to check reply target: %w", err)
		}
		if targetType != MessageAdvisor || targetSession != message.SessionID {
			return ErrBadReplyTarget
		}
	}

	ragJSON, err := marshalNullable(message.RAGSources)
	if err != nil {
		return fmt.Errorf("failed to marshal rag sources: %w", err)
	}
	suggestionsJSON, err := marshalNullable(message.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, type, persona_id, content, is_reply, is_expansion, reply_to_id, rag_sources, suggestions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Type, nullable(message.PersonaID),
		message.Content, message.IsReply, message.IsExpansion, nullable(message.ReplyToID),
		ragJSON, suggestionsJSON, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, message.CreatedAt, message.SessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return tx.Commit()
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessages retrieves a session's full log in append order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetLatestMessages retrieves the most recent messages in chronological
// order, bounding the history window fed to the LLM.
func (s *SQLiteStore) GetLatestMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE session_id = ? ORDER BY rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest messages: %w", err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetThread returns the sub-thread rooted at an advisor message: the root
// itself plus every message whose reply chain leads back to it, in append
// order.
func (s *SQLiteStore) GetThread(ctx context.Context, rootMessageID string) ([]Message, error) {
	root, err := s.GetMessage(ctx, rootMessageID)
	if err != nil {
		return nil, err
	}

	all, err := s.GetMessages(ctx, root.SessionID)
	if err != nil {
		return nil, err
	}

	inThread := map[string]bool{root.ID: true}
	thread := []Message{*root}
	for _, m := range all {
		if m.ID == root.ID {
			continue
		}
		if m.ReplyToID != "" && inThread[m.ReplyToID] {
			inThread[m.ID] = true
			thread = append(thread, m)
		}
	}
	return thread, nil
}

// AddDocument records an uploaded document's metadata.
func (s *SQLiteStore) AddDocument(ctx context.Context, doc *Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, session_id, filename, mime_type, byte_size, chunk_count, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionID, doc.Filename, doc.MimeType, doc.ByteSize, doc.ChunkCount, doc.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// GetDocument retrieves document metadata by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, filename, mime_type, byte_size, chunk_count, uploaded_at
		FROM documents WHERE id = ?`, id)

	var doc Document
	err := row.Scan(&doc.ID, &doc.SessionID, &doc.Filename, &doc.MimeType,
		&doc.ByteSize, &doc.ChunkCount, &doc.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns a session's documents in upload order.
func (s *SQLiteStore) ListDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, filename, mime_type, byte_size, chunk_count, uploaded_at
		FROM documents WHERE session_id = ? ORDER BY uploaded_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.Filename, &doc.MimeType,
			&doc.ByteSize, &doc.ChunkCount, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document record.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

// AddInsight appends an insight to a user's canvas.
func (s *SQLiteStore) AddInsight(ctx context.Context, insight *Insight) error {
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, user_id, category, content, source_persona, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.UserID, insight.Category, insight.Content,
		insight.SourcePersona, insight.Confidence, insight.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add insight: %w", err)
	}
	return nil
}

// ListInsights returns all of a user's insights, oldest first.
func (s *SQLiteStore) ListInsights(ctx context.Context, userID string) ([]Insight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, content, source_persona, confidence, created_at
		FROM insights WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []Insight
	for rows.Next() {
		var ins Insight
		if err := rows.Scan(&ins.ID, &ins.UserID, &ins.Category, &ins.Content,
			&ins.SourcePersona, &ins.Confidence, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

// ResetCanvas deletes all of a user's insights.
func (s *SQLiteStore) ResetCanvas(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to reset canvas: %w", err)
	}
	return nil
}

// GetStats returns storage statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (map[string]any, error) {
	stats := make(map[string]any)
	for _, table := range []string{"sessions", "messages", "documents", "insights"} {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const messageSelect = `
	SELECT id, session_id, type, persona_id, content, is_reply, is_expansion, reply_to_id, rag_sources, suggestions, created_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var personaID, replyToID, ragJSON, suggestionsJSON sql.NullString
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Type, &personaID, &msg.Content,
		&msg.IsReply, &msg.IsExpansion, &replyToID, &ragJSON, &suggestionsJSON, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.PersonaID = personaID.String
	msg.ReplyToID = replyToID.String
	if ragJSON.Valid && ragJSON.String != "" {
		if err := json.Unmarshal([]byte(ragJSON.String), &msg.RAGSources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rag sources: %w", err)
		}
	}
	if suggestionsJSON.Valid && suggestionsJSON.String != "" {
		if err := json.Unmarshal([]byte(suggestionsJSON.String), &msg.Suggestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suggestions: %w", err)
		}
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case []RAGSource:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
