package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports client errors verbatim. Server-side failures get an
// opaque message; the cause goes to the log under the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status < http.StatusInternalServerError {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	requestID := requestIDFromContext(r.Context())
	slog.Error("request_failed",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	message := "internal error"
	if status == http.StatusServiceUnavailable {
		message = "service temporarily unavailable"
	}
	writeJSON(w, status, map[string]string{"error": message, "request_id": requestID})
}
