package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

const (
	codeHubNotFound    = "hub_not_found"
	codeFileNotFound   = "file_not_found"
	codeTooLarge       = "too_large"
	codeInvalidRequest = "invalid_request"
	codeUploadFailed   = "upload_failed"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal_error"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable machine code and a generic message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// writeNotFound answers unknown, expired and malformed hub IDs alike
func writeNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, codeHubNotFound, "Hub not found")
}

// writeServiceError maps engine errors onto HTTP replies. Messages never
// include internal detail; unexpected failures are logged with the request ID.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ephemeral.ErrHubNotFound):
		writeNotFound(w, r)
	case errors.Is(err, ephemeral.ErrFileNotFound), errors.Is(err, ephemeral.ErrObjectNotFound):
		writeError(w, r, http.StatusNotFound, codeFileNotFound, "File not found")
	case errors.Is(err, ephemeral.ErrTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, codeTooLarge, "Content exceeds the allowed size")
	case errors.Is(err, ephemeral.ErrInvalidFilename):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid filename")
	case errors.Is(err, ephemeral.ErrInvalidTTL):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid ttl")
	case errors.Is(err, ephemeral.ErrInvalidText):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Text must be valid UTF-8")
	case errors.Is(err, ephemeral.ErrInvalidEvent):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid event")
	case errors.Is(err, ephemeral.ErrUploadFailed):
		logger.Error("Blob store rejected upload", "request_id", RequestIDFromContext(r.Context()), "err", err)
		writeError(w, r, http.StatusBadGateway, codeUploadFailed, "Failed to store file")
	case errors.Is(err, ephemeral.ErrUnavailable):
		logger.Error("Backing store unavailable", "request_id", RequestIDFromContext(r.Context()), "err", err)
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Service temporarily unavailable")
	default:
		logger.Error("Request failed", "request_id", RequestIDFromContext(r.Context()), "err", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "An internal server error occurred")
	}
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, codeInvalidRequest, message)
}

func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
