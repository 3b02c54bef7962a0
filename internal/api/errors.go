package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/panelmind/panelmind/internal/extract"
	"github.com/panelmind/panelmind/internal/llm"
	"github.com/panelmind/panelmind/internal/orchestrator"
	"github.com/panelmind/panelmind/internal/personas"
	"github.com/panelmind/panelmind/internal/retrieval"
	"github.com/panelmind/panelmind/internal/storage"
	"github.com/panelmind/panelmind/internal/vectordb"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// errorStatus maps domain sentinels onto HTTP status codes and stable error
// codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, storage.ErrMessageNotFound):
		return http.StatusNotFound, "message_not_found"
	case errors.Is(err, storage.ErrDocumentNotFound):
		return http.StatusNotFound, "document_not_found"
	case errors.Is(err, storage.ErrBadReplyTarget),
		errors.Is(err, orchestrator.ErrNotAdvisorMessage):
		return http.StatusBadRequest, "bad_reply_target"
	case errors.Is(err, personas.ErrUnknownPersona):
		return http.StatusBadRequest, "unknown_persona"
	case errors.Is(err, retrieval.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, extract.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, "extraction_failed"
	case errors.Is(err, vectordb.ErrScopeViolation):
		return http.StatusForbidden, "scope_violation"
	case errors.Is(err, llm.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown_provider"
	case errors.Is(err, llm.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, llm.ErrProviderError):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Code: "bad_request", Message: message}})
}
