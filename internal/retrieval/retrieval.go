// Package retrieval composes document extraction, chunking, embedding, and
// the session-scoped vector index into the ingest and query pipeline that
// grounds advisor answers in uploaded material.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/panelmind/panelmind/internal/chunker"
	"github.com/panelmind/panelmind/internal/storage"
	"github.com/panelmind/panelmind/internal/vectordb"
)

// ErrFileTooLarge is returned before any state is written when an upload
// exceeds the configured size cap.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

// DefaultMaxUploadBytes caps uploads at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

// Extractor converts raw file bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the slice of the vector store the pipeline needs.
type VectorIndex interface {
	UpsertDocument(ctx context.Context, sessionID, documentID string, chunks []chunker.Chunk, vectors [][]float32) error
	Query(ctx context.Context, sessionID string, queryVec []float32, topK int, minScore float64) ([]vectordb.Result, error)
	DeleteDocument(ctx context.Context, sessionID, documentID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// DocumentStore is the slice of the session store the pipeline needs.
type DocumentStore interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	AddDocument(ctx context.Context, doc *storage.Document) error
	DeleteDocument(ctx context.Context, id string) error
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
}

// Config tunes the pipeline.
type Config struct {
	MaxUploadBytes int64
	TopK           int
	MinScore       float64
	Chunking       chunker.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: DefaultMaxUploadBytes,
		TopK:           5,
		MinScore:       0.3,
		Chunking:       chunker.DefaultConfig(),
	}
}

// Service is the retrieval pipeline.
type Service struct {
	cfg       Config
	extractor Extractor
	embedder  Embedder
	index     VectorIndex
	store     DocumentStore
	logger    *log.Logger
}

// NewService wires the pipeline together.
func NewService(cfg Config, extractor Extractor, embedder Embedder, index VectorIndex, store DocumentStore, logger *log.Logger) (*Service, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		store:     store,
		logger:    logger.With("component", "retrieval"),
	}, nil
}

// Ingest extracts, chunks, embeds, and indexes an uploaded file for a
// session. The size cap is checked before anything is written; a failure at
// any later stage leaves no document record behind.
func (s *Service) Ingest(ctx context.Context, sessionID, filename, mimeType string, data []byte) (*storage.Document, error) {
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), s.cfg.MaxUploadBytes)
	}

	exists, err := s.store.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return nil, storage.ErrSessionNotFound
	}

	text, err := s.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.Split(text, s.cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}

	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		vectors[i] = vec
	}

	doc := &storage.Document{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Filename:   filename,
		MimeType:   mimeType,
		ByteSize:   int64(len(data)),
		ChunkCount: len(chunks),
		UploadedAt: time.Now().UTC(),
	}
	if err := s.store.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	if err := s.index.UpsertDocument(ctx, sessionID, doc.ID, chunks, vectors); err != nil {
		// Roll the metadata row back so the session never lists a document
		// with no retrievable content.
		if delErr := s.store.DeleteDocument(ctx, doc.ID); delErr != nil {
			s.logger.Error("failed to roll back document record", "document_id", doc.ID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to index document: %w", err)
	}

	s.logger.Info("document ingested",
		"session_id", sessionID,
		"document_id", doc.ID,
		"filename", filename,
		"chunks", len(chunks))
	return doc, nil
}

// Retrieve embeds the question and returns the most relevant chunks from the
// session's own documents. An empty result is a valid outcome, not an error.
func (s *Service) Retrieve(ctx context.Context, sessionID, question string) ([]vectordb.Result, error) {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.index.Query(ctx, sessionID, vec, s.cfg.TopK, s.cfg.MinScore)
}

// RemoveDocument deletes a document's chunks and metadata. The session scope
// check lives in the index.
func (s *Service) RemoveDocument(ctx context.Context, sessionID, documentID string) error {
	if err := s.index.DeleteDocument(ctx, sessionID, documentID); err != nil {
		return err
	}
	return s.store.DeleteDocument(ctx, documentID)
}

// PurgeSession drops every indexed chunk for a deleted session.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) error {
	return s.index.DeleteSession(ctx, sessionID)
}
