package presigned

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

// Handlers serves signed object URLs for backends without native presigning.
// These endpoints mimic S3 presigned URL behavior: a PUT commits the object,
// a GET streams it back as an attachment.
type Handlers struct {
	store          ephemeral.BlobStore
	signer         *Signer
	maxUploadBytes int64
	logger         *slog.Logger
}

// HandlerOption configures Handlers
type HandlerOption func(*Handlers)

// WithMaxUploadBytes caps the body accepted by a signed PUT
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		h.maxUploadBytes = n
	}
}

// WithLogger sets the logger for the handlers
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		h.logger = logger
	}
}

// NewHandlers creates handlers that validate with signer and stream through store
func NewHandlers(store ephemeral.BlobStore, signer *Signer, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		store:  store,
		signer: signer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleUpload handles PUT requests to signed upload URLs.
// URL format: PUT /blobs/{key...}?content_type=...&expires=...&signature=...
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	key, ok := ObjectKeyFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "missing_object_key", "object key is required in URL path")
		return
	}

	// The signed content type wins over whatever header the client sends.
	contentType := r.URL.Query().Get("content_type")
	if contentType == "" {
		contentType = r.Header.Get("Content-Type")
	}

	body := io.Reader(r.Body)
	if h.maxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	size, err := h.store.PutStream(r.Context(), key, body, contentType)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
			return
		}
		h.logger.Error("Signed upload failed", "key", key, "err", err)
		writeError(w, r, http.StatusInternalServerError, "upload_failed", "failed to store object")
		return
	}

	h.logger.Debug("Signed upload stored", "key", key, "size", size)
	w.WriteHeader(http.StatusOK)
}

// HandleDownload handles GET requests to signed download URLs.
// URL format: GET /blobs/{key...}?expires=...&filename=...&signature=...
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	key, ok := ObjectKeyFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "missing_object_key", "object key is required in URL path")
		return
	}

	meta, err := h.store.Stat(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, key, err)
		return
	}

	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, key, err)
		return
	}
	defer rc.Close()

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if filename := r.URL.Query().Get("filename"); filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Signed download interrupted", "key", key, "err", err)
	}
}

// Mount mounts the signed object routes on a chi router
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/blobs", func(r chi.Router) {
		r.Use(ValidateMiddleware(h.signer))
		r.Put("/*", h.HandleUpload)
		r.Get("/*", h.HandleDownload)
	})
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if errors.Is(err, ephemeral.ErrObjectNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "object not found")
		return
	}
	h.logger.Error("Signed download failed", "key", key, "err", err)
	writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
