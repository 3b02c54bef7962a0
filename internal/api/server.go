// Package api exposes the advisor panel over HTTP/JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/panelmind/panelmind/internal/insights"
	"github.com/panelmind/panelmind/internal/llm"
	"github.com/panelmind/panelmind/internal/orchestrator"
	"github.com/panelmind/panelmind/internal/storage"
)

// Orchestrator is the turn loop as the API consumes it.
type Orchestrator interface {
	SendMessage(ctx context.Context, sessionID, userInput string) (*orchestrator.TurnResult, error)
	Reply(ctx context.Context, sessionID, targetMessageID, userInput string) (*orchestrator.TurnResult, error)
	Expand(ctx context.Context, sessionID, targetMessageID string) (*orchestrator.TurnResult, error)
	ForgetSession(sessionID string)
}

// Ingestor is the document pipeline as the API consumes it.
type Ingestor interface {
	Ingest(ctx context.Context, sessionID, filename, mimeType string, data []byte) (*storage.Document, error)
	RemoveDocument(ctx context.Context, sessionID, documentID string) error
	PurgeSession(ctx context.Context, sessionID string) error
}

// ProviderGateway is the provider switchboard as the API consumes it.
type ProviderGateway interface {
	Switch(providerID string) error
	List() []llm.ProviderStatus
	CurrentID() string
}

// CanvasService is the insight canvas as the API consumes it.
type CanvasService interface {
	Get(ctx context.Context, userID string) ([]insights.Section, error)
	Reset(ctx context.Context, userID string) error
}

// Server handles HTTP requests.
type Server struct {
	store        storage.Store
	orchestrator Orchestrator
	ingestor     Ingestor
	gateway      ProviderGateway
	canvas       CanvasService
	logger       *log.Logger

	maxUploadBytes int64
}

// NewServer wires the HTTP layer.
func NewServer(store storage.Store, orch Orchestrator, ingestor Ingestor, gateway ProviderGateway, canvas CanvasService, maxUploadBytes int64, logger *log.Logger) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Server{
		store:          store,
		orchestrator:   orch,
		ingestor:       ingestor,
		gateway:        gateway,
		canvas:         canvas,
		logger:         logger.With("component", "api"),
		maxUploadBytes: maxUploadBytes,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)

	api.HandleFunc("/sessions/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/replies", s.handleReply).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/expansions", s.handleExpand).Methods(http.MethodPost)

	api.HandleFunc("/sessions/{id}/documents", s.handleUploadDocument).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/documents", s.handleListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/documents/{docID}", s.handleDeleteDocument).Methods(http.MethodDelete)

	api.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/provider/switch", s.handleSwitchProvider).Methods(http.MethodPost)

	api.HandleFunc("/users/{id}/canvas", s.handleGetCanvas).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/canvas", s.handleResetCanvas).Methods(http.MethodDelete)

	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
