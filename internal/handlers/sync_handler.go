package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// BatchProcessor выполняет пакет офлайн-операций.
type BatchProcessor interface {
	Process(ctx context.Context, ops []dto.BatchOperation, actor services.Actor) ([]dto.BatchItemResult, error)
}

// OperationHistory - журнал обработанных операций пользователя.
type OperationHistory interface {
	History(ctx context.Context, userID int64, limit, offset int) ([]models.IdempotencyRecord, error)
}

// SyncHandler обрабатывает пакетную синхронизацию.
type SyncHandler struct {
	batch   BatchProcessor
	history OperationHistory
	logger  *slog.Logger
}

// NewSyncHandler создает новый экземпляр SyncHandler.
func NewSyncHandler(batch BatchProcessor, history OperationHistory, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		batch:   batch,
		history: history,
		logger:  logger.With(slog.String("component", "SyncHandler")),
	}
}

// Batch обрабатывает POST /api/sync/batch.
// 200 - все операции успешны, 207 - есть конфликты или ошибки, 400 - пакет слишком большой.
func (h *SyncHandler) Batch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	var req dto.BatchRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	results, err := h.batch.Process(r.Context(), req.Operations, actor)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !services.AllSucceeded(results) {
		status = http.StatusMultiStatus
	}
	if results == nil {
		results = []dto.BatchItemResult{}
	}
	writeJSON(w, h.logger, status, dto.BatchResponse{Results: results})
}

// ListOperations обрабатывает GET /api/sync/operations.
func (h *SyncHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	records, err := h.history.History(r.Context(), actor.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []models.IdempotencyRecord{}
	}
	writeJSON(w, h.logger, http.StatusOK, records)
}
