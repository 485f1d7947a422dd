package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// TemplateService - шаблоны инспекций.
type TemplateService interface {
	Get(ctx context.Context, id string) (*models.InspectionTemplate, error)
	List(ctx context.Context) ([]models.InspectionTemplate, error)
	Create(ctx context.Context, in services.CreateTemplateInput, actor services.Actor) (*models.InspectionTemplate, error)
}

// TemplateHandler обрабатывает запросы к шаблонам.
type TemplateHandler struct {
	service TemplateService
	logger  *slog.Logger
}

// NewTemplateHandler создает новый экземпляр TemplateHandler.
func NewTemplateHandler(s TemplateService, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{service: s, logger: logger.With(slog.String("component", "TemplateHandler"))}
}

// List обрабатывает GET /api/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.InspectionTemplate{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// Get обрабатывает GET /api/templates/{id}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		// При создании инспекции отсутствующий шаблон - ошибка валидации, здесь - 404.
		if errors.Is(err, services.ErrTemplateNotFound) {
			writeError(w, h.logger, http.StatusNotFound, services.CodeNotFound, err.Error())
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, tpl)
}

// Create обрабатывает POST /api/templates. Право проверяет сервис.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.CreateTemplateRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	tpl, err := h.service.Create(r.Context(), services.CreateTemplateInput{
		Name:            req.Name,
		Version:         req.Version,
		ChecklistItems:  req.ChecklistItems,
		ResponsesSchema: req.ResponsesSchema,
	}, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, tpl)
}
