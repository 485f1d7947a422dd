package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/fieldsync/internal/models"
	dto "github.com/maynagashev/fieldsync/models"
)

var batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "fieldsync_sync_batch_size",
	Help:    "Количество операций в пакете синхронизации.",
	Buckets: []float64{1, 5, 10, 25, 50, 100},
})

// Executor выполняет одну операцию синхронизации.
type Executor interface {
	Execute(ctx context.Context, op Operation, actor Actor) (*SyncResult, error)
}

// BatchService применяет пакет операций, накопленных клиентом офлайн.
// Каждая операция выполняется в своей транзакции, откат между операциями не выполняется.
type BatchService struct {
	executor      Executor
	maxOperations int
	logger        *slog.Logger
}

// NewBatchService создает обработчик пакетов с ограничением maxOperations.
func NewBatchService(executor Executor, maxOperations int, logger *slog.Logger) *BatchService {
	return &BatchService{
		executor:      executor,
		maxOperations: maxOperations,
		logger:        logger.With(slog.String("component", "BatchService")),
	}
}

// Process выполняет операции последовательно и возвращает результаты в порядке запроса.
// Превышение лимита отклоняет пакет целиком до выполнения первой операции.
// Ошибка хранилища прерывает пакет и возвращается вызывающему.
func (s *BatchService) Process(
	ctx context.Context,
	ops []dto.BatchOperation,
	actor Actor,
) ([]dto.BatchItemResult, error) {
	if len(ops) > s.maxOperations {
		return nil, fmt.Errorf("%w: %d, максимум %d", ErrBatchTooLarge, len(ops), s.maxOperations)
	}
	batchSize.Observe(float64(len(ops)))

	results := make([]dto.BatchItemResult, 0, len(ops))
	for i, raw := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := dto.BatchItemResult{
			Index:          i,
			IdempotencyKey: raw.IdempotencyKey,
			OperationType:  raw.OperationType,
		}

		op, err := decodeOperation(raw)
		if err != nil {
			code, _ := ErrorCode(err)
			item.Status = ResultError
			item.Error = &dto.ErrorDetail{Code: code, Message: err.Error()}
			results = append(results, item)
			continue
		}

		res, err := s.executor.Execute(ctx, op, actor)
		if err != nil {
			// Хранилище недоступно: остальные операции не выполняются. Уже примененные
			// зафиксированы в журнале и вернутся повтором при следующей отправке пакета.
			s.logger.Error("Сбой операции пакета, обработка прервана",
				slog.Int("index", i),
				slog.String("key", raw.IdempotencyKey),
				slog.Int("applied", len(results)),
				slog.Any("error", err),
			)
			return nil, fmt.Errorf("сбой операции %d пакета: %w", i, err)
		}
		results = append(results, fillItem(item, res))
	}

	s.logger.Info("Пакет синхронизации обработан",
		slog.Int64("user_id", actor.UserID),
		slog.Int("operations", len(ops)),
	)
	return results, nil
}

// AllSucceeded сообщает, что все операции пакета завершились успешно.
func AllSucceeded(results []dto.BatchItemResult) bool {
	for _, r := range results {
		if r.Status != ResultSuccess {
			return false
		}
	}
	return true
}

func fillItem(item dto.BatchItemResult, res *SyncResult) dto.BatchItemResult {
	item.Status = res.Status
	item.Replayed = res.Replayed
	item.Data = res.Data
	if res.Conflict != nil {
		serverData, _ := json.Marshal(res.Conflict.ServerData)
		item.Conflict = &dto.ConflictDetails{
			ClientVersion: res.Conflict.ClientVersion,
			ServerVersion: res.Conflict.ServerVersion,
			ServerData:    serverData,
		}
	}
	if res.Error != nil {
		item.Error = &dto.ErrorDetail{Code: res.Error.Code, Message: res.Error.Message}
	}
	return item
}

// decodeOperation разбирает данные операции пакета. Ключ идемпотентности в пакете обязателен.
func decodeOperation(raw dto.BatchOperation) (Operation, error) {
	op := Operation{Type: raw.OperationType, IdempotencyKey: raw.IdempotencyKey}

	switch raw.OperationType {
	case models.OperationCreateInspection, models.OperationUpdateInspection, models.OperationDeleteInspection:
	default:
		return op, fmt.Errorf("%w: %q", ErrUnsupportedOperation, raw.OperationType)
	}
	if raw.IdempotencyKey == "" {
		return op, validationErrorf("не указан idempotency_key")
	}
	if len(raw.Data) == 0 || isJSONNull(raw.Data) {
		return op, validationErrorf("не указаны данные операции")
	}

	switch raw.OperationType {
	case models.OperationCreateInspection:
		var req dto.CreateInspectionRequest
		if err := decodeData(raw.Data, &req); err != nil {
			return op, err
		}
		in := CreateInputFromRequest(req)
		op.Create = &in
	case models.OperationUpdateInspection:
		var req dto.UpdateInspectionRequest
		if err := decodeData(raw.Data, &req); err != nil {
			return op, err
		}
		if req.ID == "" {
			return op, validationErrorf("не указан id инспекции")
		}
		if req.Version == nil {
			return op, validationErrorf("не указана версия")
		}
		op.Update = &UpdateOperation{ID: req.ID, Version: *req.Version, Patch: PatchFromRequest(req)}
	case models.OperationDeleteInspection:
		var req dto.DeleteInspectionRequest
		if err := decodeData(raw.Data, &req); err != nil {
			return op, err
		}
		if req.ID == "" {
			return op, validationErrorf("не указан id инспекции")
		}
		op.Delete = &DeleteOperation{ID: req.ID, Version: req.Version}
	}
	return op, nil
}

// CreateInputFromRequest переводит тело запроса в параметры создания.
func CreateInputFromRequest(req dto.CreateInspectionRequest) CreateInspectionInput {
	return CreateInspectionInput{
		ID:              req.ID,
		TemplateID:      req.TemplateID,
		FacilityName:    req.FacilityName,
		FacilityAddress: req.FacilityAddress,
		Responses:       req.Responses,
		Status:          models.InspectionStatus(req.Status),
	}
}

// PatchFromRequest переводит тело запроса в частичное изменение.
func PatchFromRequest(req dto.UpdateInspectionRequest) InspectionPatch {
	patch := InspectionPatch{
		FacilityName:    req.FacilityName,
		FacilityAddress: req.FacilityAddress,
		Responses:       req.Responses,
	}
	if req.Status != nil {
		status := models.InspectionStatus(*req.Status)
		patch.Status = &status
	}
	return patch
}

func decodeData(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return validationErrorf("некорректные данные операции: %v", err)
	}
	return nil
}
