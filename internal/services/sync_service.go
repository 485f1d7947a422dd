package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/fieldsync/internal/events"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	dto "github.com/maynagashev/fieldsync/models"
)

// MaxIdempotencyKeyLength - предел длины ключа (размер колонки в БД).
const MaxIdempotencyKeyLength = 255

// Исходы операции синхронизации.
const (
	ResultSuccess  = dto.ItemStatusSuccess
	ResultConflict = dto.ItemStatusConflict
	ResultError    = dto.ItemStatusError
)

// Prometheus-метрики синхронизации.
var (
	syncOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldsync_sync_operations_total",
		Help: "Количество операций синхронизации по типу и исходу.",
	}, []string{"operation", "outcome"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_conflicts_total",
		Help: "Количество обнаруженных конфликтов версий.",
	})
)

// errRollback откатывает транзакцию, когда результат уже сформирован
// и изменения сохранять нельзя.
var errRollback = errors.New("откат транзакции синхронизации")

// TxRunner выполняет функцию в транзакции с набором репозиториев.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(repos repository.Repositories) error) error
}

// EventPublisher получает уведомления о зафиксированных изменениях.
type EventPublisher interface {
	Publish(ev events.InspectionEvent)
}

// Operation - одна операция синхронизации. Заполнено поле, соответствующее Type.
type Operation struct {
	Type           string
	IdempotencyKey string
	Create         *CreateInspectionInput
	Update         *UpdateOperation
	Delete         *DeleteOperation
	Review         *ReviewOperation
}

// UpdateOperation - частичное изменение с версией клиента.
type UpdateOperation struct {
	ID      string
	Version int64
	Patch   InspectionPatch
}

// DeleteOperation - мягкое удаление. Version=nil отключает сверку версии.
type DeleteOperation struct {
	ID      string
	Version *int64
}

// ReviewOperation - одобрение или отклонение менеджером.
type ReviewOperation struct {
	ID      string
	Version int64
	Notes   *string
}

// ConflictDetails - сведения о расхождении версий для клиентского слияния.
type ConflictDetails struct {
	ClientVersion int64
	ServerVersion int64
	ServerData    *models.Inspection
	ConflictID    int64
}

// OperationError - код и описание ошибки операции.
type OperationError struct {
	Code    string
	Message string
}

// SyncResult - результат операции: success, conflict или error.
// Data содержит канонический результат из журнала ({id, version}).
type SyncResult struct {
	Status     string
	Data       json.RawMessage
	Replayed   bool
	Conflict   *ConflictDetails
	Error      *OperationError
	Inspection *models.Inspection // nil при воспроизведении из журнала
}

// clientIntent - снимок запроса клиента для записи конфликта.
type clientIntent struct {
	Operation       string                   `json:"operation"`
	Version         int64                    `json:"version"`
	FacilityName    *string                  `json:"facility_name,omitempty"`
	FacilityAddress *string                  `json:"facility_address,omitempty"`
	Responses       json.RawMessage          `json:"responses,omitempty"`
	Status          *models.InspectionStatus `json:"status,omitempty"`
	Notes           *string                  `json:"notes,omitempty"`
	Deleted         bool                     `json:"deleted,omitempty"`
}

// SyncService - единая точка выполнения операций: проверка журнала,
// мутация и запись в журнал в одной транзакции.
type SyncService struct {
	tx          TxRunner
	inspections *InspectionService
	ledger      *IdempotencyService
	publisher   EventPublisher
	clock       Clock
	logger      *slog.Logger
}

// NewSyncService создает координатор синхронизации.
func NewSyncService(
	tx TxRunner,
	inspections *InspectionService,
	ledger *IdempotencyService,
	publisher EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		tx:          tx,
		inspections: inspections,
		ledger:      ledger,
		publisher:   publisher,
		clock:       clock,
		logger:      logger.With(slog.String("component", "SyncService")),
	}
}

// Execute выполняет операцию. Ошибки бизнес-правил и конфликты возвращаются
// в SyncResult; error означает сбой хранилища, журнал при этом не пишется.
func (s *SyncService) Execute(ctx context.Context, op Operation, actor Actor) (*SyncResult, error) {
	if err := checkOperation(op); err != nil {
		code, _ := ErrorCode(err)
		s.observe(op.Type, ResultError)
		return errorResult(code, err), nil
	}

	key := op.IdempotencyKey
	if key != "" {
		rec, err := s.ledger.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			s.logger.Info("Повтор операции: возвращен сохраненный результат",
				slog.String("key", key), slog.String("entity_id", rec.EntityID))
			s.observe(op.Type, "replayed")
			return replayResult(rec), nil
		}
	}

	var (
		result    *SyncResult
		committed *models.IdempotencyRecord
		changed   *models.Inspection
	)
	err := s.tx.RunInTx(ctx, func(repos repository.Repositories) error {
		insp, err := s.dispatch(ctx, repos, op, actor)
		if err != nil {
			var conflictErr *VersionConflictError
			switch {
			case errors.As(err, &conflictErr):
				// Пока ждали блокировку строки, запрос с тем же ключом мог завершиться.
				winner, gerr := s.ledgerWinner(ctx, repos, key)
				if gerr != nil {
					return gerr
				}
				if winner != nil {
					result = replayResult(winner)
					return errRollback
				}
				result, err = s.recordConflict(ctx, repos, op, actor, conflictErr)
				return err
			case errors.Is(err, ErrDuplicateID):
				winner, gerr := s.ledgerWinner(ctx, repos, key)
				if gerr != nil {
					return gerr
				}
				if winner != nil {
					result = replayResult(winner)
					return errRollback
				}
			}
			code, ok := ErrorCode(err)
			if !ok {
				return err
			}
			result = errorResult(code, err)
			return errRollback
		}

		payload, err := json.Marshal(dto.OperationResult{ID: insp.ID, Version: insp.Version})
		if err != nil {
			return fmt.Errorf("ошибка сериализации результата: %w", err)
		}
		if key == "" {
			result = &SyncResult{Status: ResultSuccess, Data: payload, Inspection: insp}
			changed = insp
			return nil
		}

		stored, won, err := repos.Ledger.Record(ctx, &models.IdempotencyRecord{
			IdempotencyKey: key,
			OperationType:  op.Type,
			EntityID:       insp.ID,
			UserID:         actor.UserID,
			ProcessedAt:    s.clock.Now(),
			Result:         payload,
		})
		if err != nil {
			return err
		}
		if !won {
			// Гонку выиграл другой запрос: своя мутация откатывается.
			result = replayResult(stored)
			return errRollback
		}
		committed = stored
		changed = insp
		result = &SyncResult{Status: ResultSuccess, Data: stored.Result, Inspection: insp}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		s.logger.Error("Ошибка выполнения операции синхронизации",
			slog.String("operation", op.Type), slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("операция %s завершилась без результата", op.Type)
	}

	if committed != nil {
		s.ledger.Remember(ctx, committed)
	}
	s.afterCommit(op, actor, result, changed)
	return result, nil
}

// dispatch вызывает метод сервиса инспекций по типу операции.
func (s *SyncService) dispatch(
	ctx context.Context,
	repos repository.Repositories,
	op Operation,
	actor Actor,
) (*models.Inspection, error) {
	switch op.Type {
	case models.OperationCreateInspection:
		return s.inspections.Create(ctx, repos, *op.Create, actor)
	case models.OperationUpdateInspection:
		return s.inspections.Update(ctx, repos, op.Update.ID, op.Update.Patch, op.Update.Version, actor)
	case models.OperationDeleteInspection:
		return s.inspections.SoftDelete(ctx, repos, op.Delete.ID, op.Delete.Version, actor)
	case models.OperationApproveInspection:
		return s.inspections.Approve(ctx, repos, op.Review.ID, op.Review.Version, op.Review.Notes, actor)
	case models.OperationRejectInspection:
		return s.inspections.Reject(ctx, repos, op.Review.ID, op.Review.Version, op.Review.Notes, actor)
	}
	return nil, ErrUnsupportedOperation
}

// ledgerWinner перечитывает журнал внутри транзакции. nil - ключ свободен.
func (s *SyncService) ledgerWinner(
	ctx context.Context,
	repos repository.Repositories,
	key string,
) (*models.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := repos.Ledger.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrIdempotencyKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// recordConflict сохраняет оба снимка расхождения. Транзакция коммитится,
// но в журнал идемпотентности конфликт не попадает.
func (s *SyncService) recordConflict(
	ctx context.Context,
	repos repository.Repositories,
	op Operation,
	actor Actor,
	conflictErr *VersionConflictError,
) (*SyncResult, error) {
	clientData, err := json.Marshal(intentOf(op, conflictErr.ClientVersion))
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации данных клиента: %w", err)
	}
	serverData, err := json.Marshal(conflictErr.Server)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации данных сервера: %w", err)
	}

	rec := &models.ConflictRecord{
		InspectionID:        conflictErr.Server.ID,
		UserID:              actor.UserID,
		ClientVersionNumber: conflictErr.ClientVersion,
		ServerVersionNumber: conflictErr.ServerVersion,
		ClientData:          clientData,
		ServerData:          serverData,
		CreatedAt:           s.clock.Now(),
	}
	if _, err = repos.Conflicts.Create(ctx, rec); err != nil {
		return nil, err
	}

	return &SyncResult{
		Status: ResultConflict,
		Conflict: &ConflictDetails{
			ClientVersion: conflictErr.ClientVersion,
			ServerVersion: conflictErr.ServerVersion,
			ServerData:    conflictErr.Server,
			ConflictID:    rec.ID,
		},
		Error: &OperationError{Code: CodeConflict, Message: conflictErr.Error()},
	}, nil
}

// afterCommit обновляет метрики и публикует событие.
func (s *SyncService) afterCommit(op Operation, actor Actor, result *SyncResult, changed *models.Inspection) {
	switch {
	case result.Replayed:
		s.observe(op.Type, "replayed")
	default:
		s.observe(op.Type, result.Status)
	}
	if result.Status == ResultConflict {
		conflictsTotal.Inc()
	}

	if s.publisher == nil {
		return
	}
	now := s.clock.Now()
	switch {
	case changed != nil:
		s.publisher.Publish(events.InspectionEvent{
			Type:         eventType(op.Type),
			InspectionID: changed.ID,
			Version:      changed.Version,
			Status:       changed.Status,
			UserID:       actor.UserID,
			OccurredAt:   now,
		})
	case result.Status == ResultConflict:
		s.publisher.Publish(events.InspectionEvent{
			Type:         events.TypeConflict,
			InspectionID: result.Conflict.ServerData.ID,
			Version:      result.Conflict.ServerVersion,
			Status:       result.Conflict.ServerData.Status,
			UserID:       actor.UserID,
			OccurredAt:   now,
		})
	}
}

func (s *SyncService) observe(operation, outcome string) {
	if operation == "" {
		operation = "unknown"
	}
	syncOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// checkOperation проверяет, что тип известен и данные операции заполнены.
func checkOperation(op Operation) error {
	if len(op.IdempotencyKey) > MaxIdempotencyKeyLength {
		return validationErrorf("ключ идемпотентности длиннее %d символов", MaxIdempotencyKeyLength)
	}
	var missing bool
	switch op.Type {
	case models.OperationCreateInspection:
		missing = op.Create == nil
	case models.OperationUpdateInspection:
		missing = op.Update == nil
	case models.OperationDeleteInspection:
		missing = op.Delete == nil
	case models.OperationApproveInspection, models.OperationRejectInspection:
		missing = op.Review == nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOperation, op.Type)
	}
	if missing {
		return validationErrorf("нет данных для операции %s", op.Type)
	}
	return nil
}

func intentOf(op Operation, clientVersion int64) clientIntent {
	intent := clientIntent{Operation: op.Type, Version: clientVersion}
	switch {
	case op.Update != nil:
		intent.FacilityName = op.Update.Patch.FacilityName
		intent.FacilityAddress = op.Update.Patch.FacilityAddress
		intent.Responses = op.Update.Patch.Responses
		intent.Status = op.Update.Patch.Status
	case op.Delete != nil:
		intent.Deleted = true
	case op.Review != nil:
		intent.Notes = op.Review.Notes
		status := models.StatusApproved
		if op.Type == models.OperationRejectInspection {
			status = models.StatusRejected
		}
		intent.Status = &status
	}
	return intent
}

func eventType(operation string) string {
	switch operation {
	case models.OperationCreateInspection:
		return events.TypeCreated
	case models.OperationDeleteInspection:
		return events.TypeDeleted
	}
	return events.TypeUpdated
}

func replayResult(rec *models.IdempotencyRecord) *SyncResult {
	return &SyncResult{Status: ResultSuccess, Data: rec.Result, Replayed: true}
}

func errorResult(code string, err error) *SyncResult {
	return &SyncResult{Status: ResultError, Error: &OperationError{Code: code, Message: err.Error()}}
}
