package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

// maxJSONBodyBytes bounds small JSON request bodies
const maxJSONBodyBytes = 16 << 10

// CreateHubRequest is the optional request body for creating a hub
type CreateHubRequest struct {
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// RequestUploadRequest is the request body for a delegated upload
type RequestUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// HubHandler handles HTTP requests for hubs, their text and their files
type HubHandler struct {
	service ephemeral.Service
	logger  *slog.Logger
}

// NewHubHandler creates a new hub handler
func NewHubHandler(service ephemeral.Service, logger *slog.Logger) *HubHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubHandler{
		service: service,
		logger:  logger,
	}
}

// Routes returns the routes for hubs
func (h *HubHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(RequestSizeLimitMiddleware(maxJSONBodyBytes)).Post("/", h.CreateHub)

	r.Route("/{id}", func(r chi.Router) {
		r.Use(h.requireValidID)

		r.Get("/", h.GetHub)
		r.Put("/text", h.SetText)

		r.Post("/files", h.UploadFiles)
		r.Get("/files", h.ListFiles)
		r.Get("/files/{filename}", h.DownloadFile)
		r.Get("/archive", h.DownloadArchive)

		// Delegated uploads go straight to the blob store
		r.With(RequestSizeLimitMiddleware(maxJSONBodyBytes)).Post("/uploads", h.RequestUpload)
		r.Post("/uploads/{filename}/complete", h.CompleteUpload)
	})

	return r
}

// requireValidID answers malformed IDs with the ordinary 404 without a store lookup
func (h *HubHandler) requireValidID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ephemeral.ValidID(chi.URLParam(r, "id")) {
			writeNotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateHub creates a new hub
func (h *HubHandler) CreateHub(w http.ResponseWriter, r *http.Request) {
	var req CreateHubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, r, "Invalid request body")
		return
	}
	if req.TTLSeconds < 0 {
		writeServiceError(w, r, h.logger, ephemeral.ErrInvalidTTL)
		return
	}

	summary, err := h.service.CreateHub(r.Context(), time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, summary)
}

// GetHub returns a hub's text and file manifest
func (h *HubHandler) GetHub(w http.ResponseWriter, r *http.Request) {
	hub, err := h.service.GetHub(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, hub)
}

// SetText replaces a hub's text with the raw request body
func (h *HubHandler) SetText(w http.ResponseWriter, r *http.Request) {
	// One byte over the limit is enough to tell an oversized body apart
	limit := int64(h.service.Limits().MaxTextBytes)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit+1))
	if err != nil {
		if isMaxBytesError(err) {
			writeServiceError(w, r, h.logger, ephemeral.ErrTooLarge)
			return
		}
		writeBadRequest(w, r, "Failed to read request body")
		return
	}

	if err := h.service.SetText(r.Context(), chi.URLParam(r, "id"), string(body)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFiles streams every file part of a multipart body into the hub
func (h *HubHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	mr, err := r.MultipartReader()
	if err != nil {
		writeBadRequest(w, r, "Expected a multipart/form-data body")
		return
	}

	entries := []ephemeral.FileEntry{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeBadRequest(w, r, "Malformed multipart body")
			return
		}

		filename := part.FileName()
		if filename == "" {
			part.Close()
			continue
		}

		entry, err := h.service.UploadFile(r.Context(), id, filename, part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		entries = append(entries, *entry)
	}

	if len(entries) == 0 {
		writeBadRequest(w, r, "No file parts in request")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entries)
}

// ListFiles returns a hub's file manifest
func (h *HubHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, files)
}

// DownloadFile redirects to a short-lived download URL
func (h *HubHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	filename, ok := filenameParam(r)
	if !ok {
		writeServiceError(w, r, h.logger, ephemeral.ErrInvalidFilename)
		return
	}

	location, err := h.service.DownloadURL(r.Context(), chi.URLParam(r, "id"), filename)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// DownloadArchive streams a zip of the hub's text and files
func (h *HubHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Check first so a missing hub still gets a JSON 404 instead of a broken zip
	if _, err := h.service.GetHub(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "hub-" + id + ".zip",
	}))
	w.WriteHeader(http.StatusOK)

	if err := h.service.WriteArchive(r.Context(), id, w); err != nil {
		// Headers are gone; the client sees a truncated archive
		h.logger.Warn("Archive stream aborted", "hub_id", id, "request_id", RequestIDFromContext(r.Context()), "err", err)
	}
}

// RequestUpload returns a presigned URL the client uploads to directly
func (h *HubHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	var req RequestUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "Invalid request body")
		return
	}

	ticket, err := h.service.RequestUpload(r.Context(), chi.URLParam(r, "id"), req.Filename, req.ContentType)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ticket)
}

// CompleteUpload records a delegated upload in the hub's manifest
func (h *HubHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	filename, ok := filenameParam(r)
	if !ok {
		writeServiceError(w, r, h.logger, ephemeral.ErrInvalidFilename)
		return
	}

	entry, err := h.service.ConfirmUpload(r.Context(), chi.URLParam(r, "id"), filename)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entry)
}

// filenameParam returns the decoded {filename} path segment. chi routes on
// RawPath when the request has one, so only then is the segment still escaped.
func filenameParam(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "filename")
	if r.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			return "", false
		}
	}
	return name, name != ""
}
