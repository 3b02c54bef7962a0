package storage

import "time"

// MessageType discriminates the polymorphic message variants in a session log.
type MessageType string

const (
	MessageUser          MessageType = "user"
	MessageAdvisor       MessageType = "advisor"
	MessageSystem        MessageType = "system"
	MessageError         MessageType = "error"
	MessageDocumentNote  MessageType = "document_upload"
	MessageClarification MessageType = "clarification"
)

// Session is a durable chat session owned by one user. It exclusively owns
// its messages and documents.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionSummary is a lightweight listing row for the session sidebar.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message"`
}

// RAGSource records which retrieved chunk grounded part of an advisor reply.
type RAGSource struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
}

// Message is one entry in a session's ordered log. Advisor messages carry
// persona attribution and threading fields; other variants leave them zero.
// Messages are immutable once appended.
type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	Type        MessageType `json:"type"`
	PersonaID   string      `json:"persona_id,omitempty"`
	Content     string      `json:"content"`
	IsReply     bool        `json:"is_reply,omitempty"`
	IsExpansion bool        `json:"is_expansion,omitempty"`
	ReplyToID   string      `json:"reply_to_message_id,omitempty"`
	RAGSources  []RAGSource `json:"rag_sources,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"` // clarification variant only
	CreatedAt   time.Time   `json:"created_at"`
}

// Document is an uploaded file owned by exactly one session, immutable once
// stored.
type Document struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	ByteSize   int64     `json:"byte_size"`
	ChunkCount int       `json:"chunk_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Insight is a single extracted finding on a user's canvas.
type Insight struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Category      string    `json:"category"`
	Content       string    `json:"content"`
	SourcePersona string    `json:"source_persona"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}
