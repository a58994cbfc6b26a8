// Package wellknown serves per-domain app association files from blob storage.
package wellknown

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
	"github.com/JakeFAU/shortlink-edge/internal/storage"
)

// Handler answers /wellknown/{domain}/{file}.
type Handler struct {
	store     storage.BlobStore
	prefix    string
	supported map[string]struct{}
	logger    *zap.Logger
}

// NewHandler builds a Handler serving files from store under prefix.
func NewHandler(store storage.BlobStore, prefix string, files []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	supported := make(map[string]struct{}, len(files))
	for _, f := range files {
		supported[f] = struct{}{}
	}
	return &Handler{store: store, prefix: prefix, supported: supported, logger: logger}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/wellknown/{domain}/{file}", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	file := chi.URLParam(r, "file")
	if _, ok := h.supported[file]; !ok {
		apierr.Handle(w, apierr.Newf(apierr.NotFound, "File %s is not served.", file), h.logger)
		return
	}
	obj, err := h.store.GetObject(r.Context(), storage.WellKnownPath(h.prefix, domain, file))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.Handle(w, apierr.Newf(apierr.NotFound, "No %s configured for %s.", file, domain), h.logger)
			return
		}
		apierr.Handle(w, err, h.logger)
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		// Both supported files are JSON documents; AASA has no extension.
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	// The status line is already sent; a failed body write has no recovery.
	_, _ = w.Write(obj.Data)
}
