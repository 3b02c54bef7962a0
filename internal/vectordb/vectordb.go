package vectordb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	libsqlvector "github.com/ryanskidmore/libsql-vector-go"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/panelmind/panelmind/internal/chunker"
)

// ErrScopeViolation is returned when an operation would cross session
// boundaries. It is a security error and must never be silently degraded.
var ErrScopeViolation = errors.New("retrieval scope violation")

// Index stores chunk vectors scoped by session and document, and answers
// top-k similarity queries. It is safe for concurrent use; writes for a
// single document are atomic as a unit.
type Index struct {
	db     *sql.DB
	logger *log.Logger
}

// ChunkRecord is a stored chunk returned from a similarity query.
type ChunkRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	SessionID  string `json:"session_id"`
	Seq        int    `json:"seq"`
	Content    string `json:"content"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// Result pairs a chunk with its normalized relevance score in [0,1].
type Result struct {
	Chunk ChunkRecord `json:"chunk"`
	Score float64     `json:"score"`
}

// Stats summarizes index contents.
type Stats struct {
	TotalChunks    int `json:"total_chunks"`
	TotalDocuments int `json:"total_documents"`
	TotalSessions  int `json:"total_sessions"`
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	content TEXT NOT NULL,
	start_char INTEGER NOT NULL,
	end_char INTEGER NOT NULL,
	embedding TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);
`

// New opens (creating if needed) a libsql-backed vector index at dbPath.
func New(dbPath string, logger *log.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// The go-libsql driver executes only the first statement of a
	// multi-statement Exec, so the schema must be applied one statement at
	// a time.
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	idx := &Index{db: db, logger: logger.With("component", "vectordb")}
	idx.logger.Info("vector index initialized", "path", dbPath)
	return idx, nil
}

// UpsertDocument replaces all stored chunks for a document in one
// transaction, so a partially-written document is never visible to queries.
func (idx *Index) UpsertDocument(ctx context.Context, sessionID, documentID string, chunks []chunker.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear existing chunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, session_id, seq, content, start_char, end_char, embedding, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("embedding for chunk %d cannot be empty", i)
		}
		id := fmt.Sprintf("%s:%d", documentID, ch.Index)
		if _, err := stmt.ExecContext(ctx, id, documentID, sessionID, ch.Index,
			ch.Text, ch.Start, ch.End, encodeVector(vectors[i]), len(vectors[i]), now); err != nil {
			return fmt.Errorf("failed to store chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document chunks: %w", err)
	}

	idx.logger.Debug("document indexed", "document_id", documentID, "session_id", sessionID, "chunks", len(chunks))
	return nil
}

// Query returns up to topK chunks belonging to sessionID ranked by cosine
// similarity to the query vector. Scores are normalized to [0,1] and results
// below minScore are excluded. Chunks from other sessions are never
// considered, regardless of how well they match.
func (idx *Index) Query(ctx context.Context, sessionID string, queryVec []float32, topK int, minScore float64) ([]Result, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT id, document_id, session_id, seq, content, start_char, end_char, embedding
		FROM chunks
		WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var candidates []Result
	for rows.Next() {
		var rec ChunkRecord
		var embeddingStr string
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.SessionID, &rec.Seq,
			&rec.Content, &rec.StartChar, &rec.EndChar, &embeddingStr); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		var vec libsqlvector.Vector
		if err := vec.Parse(embeddingStr); err != nil {
			continue // Skip unparseable embeddings
		}

		score := normalizeScore(cosineSimilarity(queryVec, vec.Slice()))
		if score < minScore {
			continue
		}
		candidates = append(candidates, Result{Chunk: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	// Defense in depth for the isolation invariant: the WHERE clause already
	// restricts by session, so a mismatch here means index corruption.
	for _, c := range candidates {
		if c.Chunk.SessionID != sessionID {
			return nil, fmt.Errorf("%w: chunk %s belongs to session %s", ErrScopeViolation, c.Chunk.ID, c.Chunk.SessionID)
		}
	}

	return candidates, nil
}

// DeleteDocument removes all chunks for a document. The single DELETE
// statement is atomic, so concurrent queries see either all chunks or none.
// The sessionID guard rejects cross-session deletes.
func (idx *Index) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	var owner string
	err := idx.db.QueryRowContext(ctx,
		`SELECT session_id FROM chunks WHERE document_id = ? LIMIT 1`, documentID).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil // Nothing indexed for this document
	}
	if err != nil {
		return fmt.Errorf("failed to look up document owner: %w", err)
	}
	if owner != sessionID {
		return fmt.Errorf("%w: document %s belongs to session %s", ErrScopeViolation, documentID, owner)
	}

	if _, err := idx.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// DeleteSession removes all chunks belonging to a session, used by the
// cascade on session deletion.
func (idx *Index) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return nil
}

// GetStats returns index-wide counts.
func (idx *Index) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	row := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document_id), COUNT(DISTINCT session_id) FROM chunks`)
	if err := row.Scan(&s.TotalChunks, &s.TotalDocuments, &s.TotalSessions); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return &s, nil
}

// Close closes the database connection.
func (idx *Index) Close() error {
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

// encodeVector renders a vector in the text format libsql-vector parses
// back: the vector('[...]') wrapper produced by Vector.String.
func encodeVector(v []float32) string {
	return libsqlvector.NewVector(v).String()
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalizeScore maps cosine similarity from [-1,1] into [0,1].
func normalizeScore(cos float64) float64 {
	return (cos + 1.0) / 2.0
}
