package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// IdempotencyKeyHeader - заголовок с ключом идемпотентности для REST-мутаций.
const IdempotencyKeyHeader = "Idempotency-Key"

// OperationExecutor выполняет мутацию через координатор синхронизации.
type OperationExecutor interface {
	Execute(ctx context.Context, op services.Operation, actor services.Actor) (*services.SyncResult, error)
}

// InspectionReader - чтение инспекций с учетом видимости.
type InspectionReader interface {
	Get(ctx context.Context, id string, actor services.Actor) (*models.Inspection, error)
	List(ctx context.Context, filter models.InspectionFilter, actor services.Actor) ([]models.Inspection, error)
}

// InspectionHandler обрабатывает HTTP-запросы к инспекциям.
type InspectionHandler struct {
	executor OperationExecutor
	reader   InspectionReader
	ids      services.IDGenerator
	logger   *slog.Logger
}

// NewInspectionHandler создает новый экземпляр InspectionHandler.
// ids выдает ключ идемпотентности, если клиент не передал заголовок.
func NewInspectionHandler(
	executor OperationExecutor,
	reader InspectionReader,
	ids services.IDGenerator,
	logger *slog.Logger,
) *InspectionHandler {
	return &InspectionHandler{
		executor: executor,
		reader:   reader,
		ids:      ids,
		logger:   logger.With(slog.String("component", "InspectionHandler")),
	}
}

// List обрабатывает GET /api/inspections.
func (h *InspectionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}

	filter := models.InspectionFilter{}
	filter.Limit, filter.Offset = pagination(r)
	if s := r.URL.Query().Get("status"); s != "" {
		status := models.InspectionStatus(s)
		filter.Status = &status
	}

	list, err := h.reader.List(r.Context(), filter, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Inspection{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// Get обрабатывает GET /api/inspections/{id}.
func (h *InspectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	insp, err := h.reader.Get(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, insp)
}

// Create обрабатывает POST /api/inspections.
func (h *InspectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.CreateInspectionRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	in := services.CreateInputFromRequest(req)
	h.execute(w, r, services.Operation{
		Type:           models.OperationCreateInspection,
		IdempotencyKey: h.idempotencyKey(r),
		Create:         &in,
	}, actor, http.StatusCreated)
}

// Update обрабатывает PUT/PATCH /api/inspections/{id}. Поле version обязательно.
func (h *InspectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.UpdateInspectionRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Version == nil {
		writeError(w, h.logger, http.StatusBadRequest, services.CodeValidation, "Поле version обязательно")
		return
	}

	h.execute(w, r, services.Operation{
		Type:           models.OperationUpdateInspection,
		IdempotencyKey: h.idempotencyKey(r),
		Update: &services.UpdateOperation{
			ID:      chi.URLParam(r, "id"),
			Version: *req.Version,
			Patch:   services.PatchFromRequest(req),
		},
	}, actor, http.StatusOK)
}

// Delete обрабатывает DELETE /api/inspections/{id}. Версию можно передать в ?version=.
func (h *InspectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}

	del := &services.DeleteOperation{ID: chi.URLParam(r, "id")}
	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, services.CodeValidation, "Некорректный параметр version")
			return
		}
		del.Version = &version
	}

	h.execute(w, r, services.Operation{
		Type:           models.OperationDeleteInspection,
		IdempotencyKey: h.idempotencyKey(r),
		Delete:         del,
	}, actor, http.StatusNoContent)
}

// Approve обрабатывает POST /api/inspections/{id}/approve.
func (h *InspectionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, models.OperationApproveInspection)
}

// Reject обрабатывает POST /api/inspections/{id}/reject.
func (h *InspectionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, models.OperationRejectInspection)
}

func (h *InspectionHandler) review(w http.ResponseWriter, r *http.Request, opType string) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.ReviewRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	review := &services.ReviewOperation{ID: chi.URLParam(r, "id"), Version: req.Version}
	if req.Notes != "" {
		review.Notes = &req.Notes
	}
	h.execute(w, r, services.Operation{
		Type:           opType,
		IdempotencyKey: h.idempotencyKey(r),
		Review:         review,
	}, actor, http.StatusOK)
}

func (h *InspectionHandler) execute(
	w http.ResponseWriter,
	r *http.Request,
	op services.Operation,
	actor services.Actor,
	successStatus int,
) {
	res, err := h.executor.Execute(r.Context(), op, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeSyncResult(w, h.logger, res, successStatus)
}

// idempotencyKey берет ключ из заголовка. Без заголовка запрос выполняется
// с одноразовым ключом, то есть без защиты от повтора.
func (h *InspectionHandler) idempotencyKey(r *http.Request) string {
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		return key
	}
	return h.ids.NewID()
}

// writeSyncResult переводит результат синхронизации в HTTP-ответ.
func writeSyncResult(w http.ResponseWriter, logger *slog.Logger, res *services.SyncResult, successStatus int) {
	switch res.Status {
	case services.ResultSuccess:
		if successStatus == http.StatusNoContent {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeRaw(w, logger, successStatus, res.Data)
	case services.ResultConflict:
		serverData, err := json.Marshal(res.Conflict.ServerData)
		if err != nil {
			logger.Error("Ошибка кодирования снимка сервера", slog.Any("error", err))
			writeError(w, logger, http.StatusInternalServerError, services.CodeInternal, internalErrorMessage)
			return
		}
		message := "Версия клиента устарела"
		if res.Error != nil {
			message = res.Error.Message
		}
		writeJSON(w, logger, http.StatusConflict, dto.ConflictResponse{
			Error:         "conflict",
			Message:       message,
			ClientVersion: res.Conflict.ClientVersion,
			ServerVersion: res.Conflict.ServerVersion,
			ServerData:    serverData,
		})
	default:
		code, message := services.CodeInternal, internalErrorMessage
		if res.Error != nil {
			code, message = res.Error.Code, res.Error.Message
		}
		writeError(w, logger, statusForCode(code), code, message)
	}
}
