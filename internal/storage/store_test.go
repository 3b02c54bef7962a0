package storage

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createSession(t *testing.T, store *SQLiteStore, userID string) *Session {
	t.Helper()
	session := &Session{ID: uuid.New().String(), UserID: userID, Title: "Test Chat"}
	require.NoError(t, store.CreateSession(context.Background(), session))
	return session
}

func appendAdvisor(t *testing.T, store *SQLiteStore, sessionID, personaID, content string) *Message {
	t.Helper()
	msg := &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      MessageAdvisor,
		PersonaID: personaID,
		Content:   content,
	}
	require.NoError(t, store.AppendMessage(context.Background(), msg))
	return msg
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := createSession(t, store, "user-1")

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test Chat", got.Title)
	assert.Equal(t, "user-1", got.UserID)

	exists, err := store.SessionExists(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.UpdateSessionTitle(ctx, session.ID, "Renamed"))
	got, err = store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	require.NoError(t, store.DeleteSession(ctx, session.ID))
	_, err = store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	exists, err = store.SessionExists(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendMessage_MissingSession(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendMessage(context.Background(), &Message{
		ID:        uuid.New().String(),
		SessionID: "deleted-session",
		Type:      MessageUser,
		Content:   "hello",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMessageLog_AppendOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ID: uuid.New().String(), SessionID: session.ID, Type: MessageUser, Content: content,
		}))
	}

	messages, err := store.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestGetLatestMessages_WindowAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ID: uuid.New().String(), SessionID: session.ID, Type: MessageUser,
			Content:   string(rune('a' + i)),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	latest, err := store.GetLatestMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "d", latest[0].Content)
	assert.Equal(t, "e", latest[1].Content)
}

func TestReplyThreading(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	root := appendAdvisor(t, store, session.ID, "theorist", "original answer")

	reply := &Message{
		ID: uuid.New().String(), SessionID: session.ID, Type: MessageAdvisor,
		PersonaID: "theorist", Content: "follow-up", IsReply: true, ReplyToID: root.ID,
	}
	require.NoError(t, store.AppendMessage(ctx, reply))

	got, err := store.GetMessage(ctx, reply.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReply)
	assert.Equal(t, root.ID, got.ReplyToID)

	thread, err := store.GetThread(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, root.ID, thread[0].ID)
	assert.Equal(t, reply.ID, thread[1].ID)
}

func TestAppendMessage_ReplyToNonAdvisor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	userMsg := &Message{ID: uuid.New().String(), SessionID: session.ID, Type: MessageUser, Content: "q"}
	require.NoError(t, store.AppendMessage(ctx, userMsg))

	err := store.AppendMessage(ctx, &Message{
		ID: uuid.New().String(), SessionID: session.ID, Type: MessageAdvisor,
		PersonaID: "p", Content: "r", ReplyToID: userMsg.ID,
	})
	assert.ErrorIs(t, err, ErrBadReplyTarget)
}

func TestAppendMessage_ReplyAcrossSessions(t *testing.T) {
	store := newTestStore(t)
	s1 := createSession(t, store, "u")
	s2 := createSession(t, store, "u")
	root := appendAdvisor(t, store, s1.ID, "theorist", "answer")

	err := store.AppendMessage(context.Background(), &Message{
		ID: uuid.New().String(), SessionID: s2.ID, Type: MessageAdvisor,
		PersonaID: "theorist", Content: "reply", ReplyToID: root.ID,
	})
	assert.ErrorIs(t, err, ErrBadReplyTarget)
}

func TestAppendMessage_ReplyToMissingMessage(t *testing.T) {
	store := newTestStore(t)
	session := createSession(t, store, "u")

	err := store.AppendMessage(context.Background(), &Message{
		ID: uuid.New().String(), SessionID: session.ID, Type: MessageAdvisor,
		PersonaID: "p", Content: "r", ReplyToID: "no-such-message",
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessage_RAGSourcesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	msg := &Message{
		ID: uuid.New().String(), SessionID: session.ID, Type: MessageAdvisor,
		PersonaID: "pragmatist", Content: "grounded answer",
		RAGSources: []RAGSource{{DocumentID: "doc-1", ChunkID: "doc-1:2", Score: 0.87}},
	}
	require.NoError(t, store.AppendMessage(ctx, msg))

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.RAGSources, 1)
	assert.Equal(t, "doc-1:2", got.RAGSources[0].ChunkID)
	assert.InDelta(t, 0.87, got.RAGSources[0].Score, 1e-9)
}

func TestDeleteSession_CascadesToMessagesAndDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	appendAdvisor(t, store, session.ID, "p", "content")
	require.NoError(t, store.AddDocument(ctx, &Document{
		ID: uuid.New().String(), SessionID: session.ID, Filename: "notes.txt",
		MimeType: "text/plain", ByteSize: 10, ChunkCount: 1,
	}))

	require.NoError(t, store.DeleteSession(ctx, session.ID))

	messages, err := store.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	docs, err := store.ListDocuments(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := createSession(t, store, "u")

	doc := &Document{
		ID: uuid.New().String(), SessionID: session.ID, Filename: "paper.pdf",
		MimeType: "application/pdf", ByteSize: 2048, ChunkCount: 3,
	}
	require.NoError(t, store.AddDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", got.Filename)
	assert.Equal(t, 3, got.ChunkCount)

	docs, err := store.ListDocuments(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))
	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestInsightsAndCanvasReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AddInsight(ctx, &Insight{
			ID: uuid.New().String(), UserID: "u1", Category: "methodology",
			Content: "insight", SourcePersona: "methodologist", Confidence: 0.8,
		}))
	}
	require.NoError(t, store.AddInsight(ctx, &Insight{
		ID: uuid.New().String(), UserID: "u2", Category: "theory",
		Content: "other user", SourcePersona: "theorist", Confidence: 0.6,
	}))

	insights, err := store.ListInsights(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, insights, 3)

	require.NoError(t, store.ResetCanvas(ctx, "u1"))
	insights, err = store.ListInsights(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, insights)

	// Reset is per-user.
	insights, err = store.ListInsights(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, insights, 1)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1 := createSession(t, store, "u")
	createSession(t, store, "other-user")

	require.NoError(t, store.AppendMessage(ctx, &Message{
		ID: uuid.New().String(), SessionID: s1.ID, Type: MessageUser, Content: "latest question",
	}))

	sessions, err := store.ListSessions(ctx, "u", 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, s1.ID, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].MessageCount)
	assert.Equal(t, "latest question", sessions[0].LastMessage)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	session := createSession(t, store, "u")
	appendAdvisor(t, store, session.ID, "p", "c")

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats["sessions"])
	assert.Equal(t, 1, stats["messages"])
}
