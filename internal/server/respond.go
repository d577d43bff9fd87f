package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sagekb/sage/internal/apperr"
)

// envelope is the uniform JSON response shape: code mirrors the HTTP status,
// message is human-readable, data carries the payload.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Code: status, Message: message, Data: data}); err != nil {
		slog.Default().Error("encoding response failed", "error", err)
	}
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, message, data)
}

// writeError maps the error's kind to an HTTP status and emits the envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForKind(apperr.KindOf(err)), apperr.Message(err), nil)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindUnsupportedFormat:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindEmptyDocument, apperr.KindInsufficientContent:
		return http.StatusUnprocessableEntity
	case apperr.KindEmbeddingUnavailable, apperr.KindGradingFailed, apperr.KindSummaryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body into dst, rejecting malformed JSON as a
// validation failure.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid JSON body", err)
	}
	return nil
}
