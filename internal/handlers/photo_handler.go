package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// PhotoService - загрузка фотографий через presigned URL.
type PhotoService interface {
	RequestUploadURL(ctx context.Context, inspectionID, contentType string, actor services.Actor) (*services.UploadTicket, error)
	ConfirmUpload(
		ctx context.Context,
		inspectionID, objectKey string,
		width, height *int,
		actor services.Actor,
	) (*models.Photo, error)
	List(ctx context.Context, inspectionID string, actor services.Actor) ([]models.Photo, error)
	DownloadURL(ctx context.Context, photoID string, actor services.Actor) (string, error)
	Delete(ctx context.Context, photoID string, actor services.Actor) error
}

// PhotoHandler обрабатывает запросы к фотографиям инспекций.
type PhotoHandler struct {
	service PhotoService
	logger  *slog.Logger
}

// NewPhotoHandler создает новый экземпляр PhotoHandler.
func NewPhotoHandler(s PhotoService, logger *slog.Logger) *PhotoHandler {
	return &PhotoHandler{service: s, logger: logger.With(slog.String("component", "PhotoHandler"))}
}

// UploadURL обрабатывает POST /api/photos/upload-url.
func (h *PhotoHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.UploadURLRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	ticket, err := h.service.RequestUploadURL(r.Context(), req.InspectionID, req.ContentType, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.UploadURLResponse{
		UploadURL: ticket.URL,
		ObjectKey: ticket.ObjectKey,
		ExpiresAt: ticket.ExpiresAt,
	})
}

// Confirm обрабатывает POST /api/photos/confirm.
func (h *PhotoHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.ConfirmUploadRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	photo, err := h.service.ConfirmUpload(r.Context(), req.InspectionID, req.ObjectKey, req.Width, req.Height, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, photo)
}

// List обрабатывает GET /api/inspections/{id}/photos.
func (h *PhotoHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	photos, err := h.service.List(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if photos == nil {
		photos = []models.Photo{}
	}
	writeJSON(w, h.logger, http.StatusOK, photos)
}

// Download обрабатывает GET /api/photos/{id}/download - редирект на подписанный URL.
func (h *PhotoHandler) Download(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	link, err := h.service.DownloadURL(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

// Delete обрабатывает DELETE /api/photos/{id}.
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
