package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

// TemplateLookup возвращает шаблон инспекции по ID.
type TemplateLookup interface {
	Get(ctx context.Context, id string) (*models.InspectionTemplate, error)
}

// ResponsesValidator проверяет ответы по схеме шаблона.
type ResponsesValidator interface {
	Validate(schema, responses json.RawMessage) error
}

// CreateInspectionInput - данные для создания инспекции.
// Пустой ID означает, что идентификатор назначит сервер.
type CreateInspectionInput struct {
	ID              string
	TemplateID      string
	FacilityName    string
	FacilityAddress string
	Responses       json.RawMessage
	Status          models.InspectionStatus
}

// InspectionPatch - частичное обновление. nil-поля не изменяются.
type InspectionPatch struct {
	FacilityName    *string
	FacilityAddress *string
	Responses       json.RawMessage
	Status          *models.InspectionStatus
}

// reviewFields - поля, которые заполняются только при согласовании менеджером.
type reviewFields struct {
	reviewer int64
	notes    *string
}

// allowedTransitions - единственные переходы статуса, принимаемые сервером.
var allowedTransitions = map[models.InspectionStatus][]models.InspectionStatus{
	models.StatusDraft:     {models.StatusSubmitted},
	models.StatusSubmitted: {models.StatusApproved, models.StatusRejected},
}

// InspectionService - бизнес-правила изменения инспекций поверх версионированного хранилища.
// Методы изменения принимают repos, чтобы вызывающий код управлял границей транзакции.
type InspectionService struct {
	repos     repository.Repositories
	templates TemplateLookup
	validator ResponsesValidator
	clock     Clock
	ids       IDGenerator
	logger    *slog.Logger
}

// NewInspectionService создает сервис инспекций.
// repos используется только для чтения вне транзакций.
func NewInspectionService(
	repos repository.Repositories,
	templates TemplateLookup,
	validator ResponsesValidator,
	clock Clock,
	ids IDGenerator,
	logger *slog.Logger,
) *InspectionService {
	return &InspectionService{
		repos:     repos,
		templates: templates,
		validator: validator,
		clock:     clock,
		ids:       ids,
		logger:    logger.With(slog.String("component", "InspectionService")),
	}
}

// Create создает инспекцию с версией 1 от имени actor.
func (s *InspectionService) Create(
	ctx context.Context,
	repos repository.Repositories,
	in CreateInspectionInput,
	actor Actor,
) (*models.Inspection, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.ids.NewID()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, validationErrorf("некорректный идентификатор инспекции %q", in.ID)
	}
	if _, err := uuid.Parse(in.TemplateID); err != nil {
		return nil, ErrTemplateNotFound
	}
	name := strings.TrimSpace(in.FacilityName)
	if name == "" {
		return nil, validationErrorf("не указано название объекта")
	}

	status := in.Status
	if status == "" {
		status = models.StatusDraft
	}
	if status != models.StatusDraft && status != models.StatusSubmitted {
		return nil, validationErrorf("при создании допустимы только статусы draft и submitted, получен %q", status)
	}

	tpl, err := s.templates.Get(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	responses := normalizeResponses(in.Responses)
	if err = s.validateResponses(tpl, responses); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	insp := &models.Inspection{
		ID:              id,
		TemplateID:      tpl.ID,
		InspectorID:     actor.UserID,
		FacilityName:    name,
		FacilityAddress: in.FacilityAddress,
		Responses:       responses,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if status == models.StatusSubmitted {
		insp.SubmittedAt = &now
	}

	if err = repos.Inspections.Create(ctx, insp); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateID):
			return nil, ErrDuplicateID
		case errors.Is(err, repository.ErrReferenceNotFound):
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	s.logger.Info("Инспекция создана",
		slog.String("inspection_id", insp.ID),
		slog.Int64("inspector_id", actor.UserID),
		slog.String("status", string(status)),
	)
	return insp, nil
}

// Update применяет частичное изменение, если clientVersion совпадает с версией на сервере.
// Несовпадение возвращается как *VersionConflictError со снимком сервера.
func (s *InspectionService) Update(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	patch InspectionPatch,
	clientVersion int64,
	actor Actor,
) (*models.Inspection, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, validationErrorf("неизвестный статус %q", *patch.Status)
	}
	if patch.FacilityName != nil && strings.TrimSpace(*patch.FacilityName) == "" {
		return nil, validationErrorf("название объекта не может быть пустым")
	}
	var review *reviewFields
	if patch.Status != nil && (*patch.Status == models.StatusApproved || *patch.Status == models.StatusRejected) {
		// Переводы в approved/rejected выполняются только менеджером и фиксируют согласующего.
		if !actor.IsManager() {
			return nil, ErrForbidden
		}
		review = &reviewFields{reviewer: actor.UserID}
	}
	return s.update(ctx, repos, id, patch, clientVersion, actor, review)
}

// Approve согласует отправленную инспекцию. Доступно только менеджеру.
func (s *InspectionService) Approve(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	clientVersion int64,
	notes *string,
	actor Actor,
) (*models.Inspection, error) {
	return s.review(ctx, repos, id, clientVersion, notes, actor, models.StatusApproved)
}

// Reject отклоняет отправленную инспекцию. Доступно только менеджеру.
func (s *InspectionService) Reject(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	clientVersion int64,
	notes *string,
	actor Actor,
) (*models.Inspection, error) {
	return s.review(ctx, repos, id, clientVersion, notes, actor, models.StatusRejected)
}

func (s *InspectionService) review(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	clientVersion int64,
	notes *string,
	actor Actor,
	target models.InspectionStatus,
) (*models.Inspection, error) {
	if !actor.IsManager() {
		return nil, ErrForbidden
	}
	patch := InspectionPatch{Status: &target}
	return s.update(ctx, repos, id, patch, clientVersion, actor, &reviewFields{reviewer: actor.UserID, notes: notes})
}

// update - общий путь изменения через CompareAndWrite.
func (s *InspectionService) update(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	patch InspectionPatch,
	clientVersion int64,
	actor Actor,
	review *reviewFields,
) (*models.Inspection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInspectionNotFound
	}
	var responses json.RawMessage
	if len(patch.Responses) > 0 && !isJSONNull(patch.Responses) {
		responses = normalizeResponses(patch.Responses)
	}

	now := s.clock.Now()
	updated, err := repos.Inspections.CompareAndWrite(ctx, id, clientVersion, func(insp *models.Inspection) error {
		if insp.Deleted || !actor.canSee(insp) {
			return ErrInspectionNotFound
		}
		if responses != nil {
			if err := s.validateResponsesFor(ctx, insp.TemplateID, responses); err != nil {
				return err
			}
			insp.Responses = responses
		}
		if patch.FacilityName != nil {
			insp.FacilityName = strings.TrimSpace(*patch.FacilityName)
		}
		if patch.FacilityAddress != nil {
			insp.FacilityAddress = *patch.FacilityAddress
		}
		if patch.Status != nil && *patch.Status != insp.Status {
			if err := checkTransition(insp.Status, *patch.Status); err != nil {
				return err
			}
			applyStatus(insp, *patch.Status, now, review)
		}
		insp.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err, actor)
	}

	s.logger.Info("Инспекция обновлена",
		slog.String("inspection_id", id),
		slog.Int64("version", updated.Version),
		slog.String("status", string(updated.Status)),
		slog.Int64("user_id", actor.UserID),
	)
	return updated, nil
}

// SoftDelete помечает черновик удаленным. clientVersion=nil означает удаление
// без проверки версии клиента (сверка с текущей версией под блокировкой).
func (s *InspectionService) SoftDelete(
	ctx context.Context,
	repos repository.Repositories,
	id string,
	clientVersion *int64,
	actor Actor,
) (*models.Inspection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInspectionNotFound
	}
	var expected int64
	if clientVersion != nil {
		expected = *clientVersion
	} else {
		current, err := repos.Inspections.LockedRead(ctx, id)
		if err != nil {
			return nil, s.mapWriteError(err, actor)
		}
		expected = current.Version
	}

	now := s.clock.Now()
	deleted, err := repos.Inspections.CompareAndWrite(ctx, id, expected, func(insp *models.Inspection) error {
		if insp.Deleted || !actor.canSee(insp) {
			return ErrInspectionNotFound
		}
		if insp.Status != models.StatusDraft {
			return fmt.Errorf("%w: удалить можно только черновик, текущий статус %q",
				ErrInvalidStateTransition, insp.Status)
		}
		insp.Deleted = true
		insp.DeletedAt = &now
		insp.DeletedBy = &actor.UserID
		insp.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err, actor)
	}

	s.logger.Info("Инспекция удалена (мягко)",
		slog.String("inspection_id", id),
		slog.Int64("user_id", actor.UserID),
	)
	return deleted, nil
}

// Get возвращает инспекцию, видимую actor. Мягко удаленные доступны по ID.
func (s *InspectionService) Get(ctx context.Context, id string, actor Actor) (*models.Inspection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInspectionNotFound
	}
	insp, err := s.repos.Inspections.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrInspectionNotFound) {
			return nil, ErrInspectionNotFound
		}
		return nil, err
	}
	if !actor.canSee(insp) {
		return nil, ErrInspectionNotFound
	}
	return insp, nil
}

// List возвращает неудаленные инспекции. Инспектор видит только свои.
func (s *InspectionService) List(
	ctx context.Context,
	filter models.InspectionFilter,
	actor Actor,
) ([]models.Inspection, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, validationErrorf("неизвестный статус %q", *filter.Status)
	}
	if !actor.IsManager() {
		filter.InspectorID = &actor.UserID
	}
	return s.repos.Inspections.List(ctx, filter)
}

// mapWriteError переводит ошибки хранилища в ошибки сервисного слоя.
func (s *InspectionService) mapWriteError(err error, actor Actor) error {
	var mismatch *repository.VersionMismatchError
	switch {
	case errors.As(err, &mismatch):
		// Чужая или удаленная инспекция не раскрывается через конфликт.
		if mismatch.Server.Deleted || !actor.canSee(mismatch.Server) {
			return ErrInspectionNotFound
		}
		return &VersionConflictError{
			ClientVersion: mismatch.Expected,
			ServerVersion: mismatch.Actual,
			Server:        mismatch.Server,
		}
	case errors.Is(err, repository.ErrInspectionNotFound):
		return ErrInspectionNotFound
	}
	return err
}

func (s *InspectionService) validateResponsesFor(ctx context.Context, templateID string, responses json.RawMessage) error {
	tpl, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return err
	}
	return s.validateResponses(tpl, responses)
}

func (s *InspectionService) validateResponses(tpl *models.InspectionTemplate, responses json.RawMessage) error {
	if !json.Valid(responses) {
		return validationErrorf("responses не является корректным JSON")
	}
	if err := s.validator.Validate(tpl.ResponsesSchema, responses); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

// checkTransition проверяет переход статуса по таблице допустимых переходов.
func checkTransition(from, to models.InspectionStatus) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

// applyStatus выставляет статус и сопутствующие отметки времени.
func applyStatus(insp *models.Inspection, to models.InspectionStatus, now time.Time, review *reviewFields) {
	insp.Status = to
	switch to {
	case models.StatusSubmitted:
		insp.SubmittedAt = &now
	case models.StatusApproved:
		insp.ApprovedAt = &now
		if review != nil {
			insp.ApprovedBy = &review.reviewer
			insp.ApprovalNotes = review.notes
		}
	case models.StatusRejected:
		insp.RejectedAt = &now
		if review != nil {
			insp.RejectionNotes = review.notes
		}
	}
}

// normalizeResponses заменяет отсутствующие ответы пустым объектом.
func normalizeResponses(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || isJSONNull(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
