package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// ConflictService - журнал конфликтов версий.
type ConflictService interface {
	List(ctx context.Context, filter models.ConflictFilter, actor services.Actor) ([]models.ConflictRecord, error)
	Get(ctx context.Context, id int64, actor services.Actor) (*models.ConflictRecord, error)
	Resolve(ctx context.Context, id int64, strategy string, actor services.Actor) (*models.ConflictRecord, error)
}

// ConflictHandler обрабатывает запросы к журналу конфликтов.
type ConflictHandler struct {
	service ConflictService
	logger  *slog.Logger
}

// NewConflictHandler создает новый экземпляр ConflictHandler.
func NewConflictHandler(s ConflictService, logger *slog.Logger) *ConflictHandler {
	return &ConflictHandler{service: s, logger: logger.With(slog.String("component", "ConflictHandler"))}
}

// List обрабатывает GET /api/sync/conflicts?unresolved=true.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	filter := models.ConflictFilter{}
	filter.Limit, filter.Offset = pagination(r)
	filter.UnresolvedOnly, _ = strconv.ParseBool(r.URL.Query().Get("unresolved"))

	records, err := h.service.List(r.Context(), filter, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []models.ConflictRecord{}
	}
	writeJSON(w, h.logger, http.StatusOK, records)
}

// Get обрабатывает GET /api/sync/conflicts/{id}.
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := h.conflictID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rec)
}

// Resolve обрабатывает POST /api/sync/conflicts/{id}/resolve.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := h.conflictID(w, r)
	if !ok {
		return
	}
	var req dto.ResolveConflictRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	rec, err := h.service.Resolve(r.Context(), id, req.Strategy, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rec)
}

func (h *ConflictHandler) conflictID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.logger, http.StatusNotFound, services.CodeNotFound, services.ErrConflictNotFound.Error())
		return 0, false
	}
	return id, true
}
