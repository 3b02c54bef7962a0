package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelmind/panelmind/internal/llm"
)

func newOllamaServer(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			var req ollamaChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			require.NotEmpty(t, req.Messages)
			assert.Equal(t, "user", req.Messages[len(req.Messages)-1].Role)

			w.WriteHeader(status)
			json.NewEncoder(w).Encode(ollamaChatResponse{
				Message: ollamaChatMessage{Role: "assistant", Content: reply},
				Done:    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaHandler_Generate(t *testing.T) {
	srv := newOllamaServer(t, http.StatusOK, "the answer")
	defer srv.Close()

	h := NewOllamaHandler("llama3", srv.URL, time.Second)
	out, err := h.Generate(context.Background(), "be brief", []llm.Message{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
	}, "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestOllamaHandler_ServerError(t *testing.T) {
	srv := newOllamaServer(t, http.StatusInternalServerError, "")
	defer srv.Close()

	h := NewOllamaHandler("llama3", srv.URL, time.Second)
	_, err := h.Generate(context.Background(), "", nil, "q")
	assert.ErrorIs(t, err, llm.ErrProviderError)
}

func TestOllamaHandler_EmptyCompletion(t *testing.T) {
	srv := newOllamaServer(t, http.StatusOK, "   ")
	defer srv.Close()

	h := NewOllamaHandler("llama3", srv.URL, time.Second)
	_, err := h.Generate(context.Background(), "", nil, "q")
	assert.ErrorIs(t, err, llm.ErrProviderError)
}

func TestOllamaHandler_Unreachable(t *testing.T) {
	h := NewOllamaHandler("llama3", "http://127.0.0.1:1", 200*time.Millisecond)
	_, err := h.Generate(context.Background(), "", nil, "q")
	assert.ErrorIs(t, err, llm.ErrProviderUnavailable)
	assert.False(t, h.Available(context.Background()))
}

func TestBuild_NoProviders(t *testing.T) {
	_, err := Build(context.Background(), Options{
		OllamaBaseURL: "http://127.0.0.1:1",
		OllamaTimeout: 200 * time.Millisecond,
	}, log.New(io.Discard))
	assert.Error(t, err)
}

func TestBuild_WithOllama(t *testing.T) {
	srv := newOllamaServer(t, http.StatusOK, "ok")
	defer srv.Close()

	gw, err := Build(context.Background(), Options{
		OllamaBaseURL: srv.URL,
		OllamaTimeout: time.Second,
	}, log.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, "ollama", gw.CurrentID())
}
