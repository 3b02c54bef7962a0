package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/panelmind/panelmind/internal/insights"
	"github.com/panelmind/panelmind/internal/retrieval"
	"github.com/panelmind/panelmind/internal/storage"
)

// isBodyTooLarge detects the MaxBytesReader limit in an error chain.
// mime/multipart does not always wrap read errors, so the error string is
// checked as a fallback.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": s.gateway.CurrentID()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		badRequest(w, "user_id is required")
		return
	}

	session := &storage.Session{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Title:  req.Title,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "user_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, err := s.store.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*storage.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	messages, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}
	documents, err := s.store.ListDocuments(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if documents == nil {
		documents = []storage.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   session,
		"messages":  messages,
		"documents": documents,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	// Indexed chunks do not cascade from the session store; purge explicitly.
	if err := s.ingestor.PurgeSession(r.Context(), id); err != nil {
		s.logger.Error("failed to purge session vectors", "session_id", id, "error", err)
	}
	s.orchestrator.ForgetSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(w, "content is required")
		return
	}

	result, err := s.orchestrator.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.MessageID == "" || strings.TrimSpace(req.Content) == "" {
		badRequest(w, "message_id and content are required")
		return
	}

	result, err := s.orchestrator.Reply(r.Context(), id, req.MessageID, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.MessageID == "" {
		badRequest(w, "message_id is required")
		return
	}

	result, err := s.orchestrator.Expand(r.Context(), id, req.MessageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Slack past the cap so the pipeline's own size check gets to report
	// file_too_large instead of a truncated read; bodies so large they trip
	// the reader anyway still map to the same error code.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes*2)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		if isBodyTooLarge(err) {
			s.writeError(w, retrieval.ErrFileTooLarge)
			return
		}
		badRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			s.writeError(w, retrieval.ErrFileTooLarge)
			return
		}
		badRequest(w, "failed to read file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	doc, err := s.ingestor.Ingest(r.Context(), id, header.Filename, mimeType, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	docs, err := s.store.ListDocuments(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.ingestor.RemoveDocument(r.Context(), vars["id"], vars["docID"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.List())
}

func (s *Server) handleSwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Provider == "" {
		badRequest(w, "provider is required")
		return
	}

	if err := s.gateway.Switch(req.Provider); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": req.Provider})
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	sections, err := s.canvas.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sections == nil {
		sections = []insights.Section{}
	}

	total := 0
	var lastUpdated time.Time
	for _, sec := range sections {
		total += len(sec.Insights)
		for _, ins := range sec.Insights {
			if ins.CreatedAt.After(lastUpdated) {
				lastUpdated = ins.CreatedAt
			}
		}
	}

	resp := map[string]any{
		"sections":       sections,
		"total_insights": total,
		"last_updated":   nil,
	}
	if !lastUpdated.IsZero() {
		resp["last_updated"] = lastUpdated
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetCanvas(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.canvas.Reset(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
