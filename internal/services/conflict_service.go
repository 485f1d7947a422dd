package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

// ConflictService - просмотр журнала конфликтов и отметка о разрешении.
// Слияние данных сервер не выполняет: клиент повторяет Update с актуальной версией.
type ConflictService struct {
	repo   repository.ConflictRepository
	clock  Clock
	logger *slog.Logger
}

// NewConflictService создает сервис конфликтов.
func NewConflictService(repo repository.ConflictRepository, clock Clock, logger *slog.Logger) *ConflictService {
	return &ConflictService{
		repo:   repo,
		clock:  clock,
		logger: logger.With(slog.String("component", "ConflictService")),
	}
}

// List возвращает конфликты. Инспектор видит только свои.
func (s *ConflictService) List(
	ctx context.Context,
	filter models.ConflictFilter,
	actor Actor,
) ([]models.ConflictRecord, error) {
	if !actor.IsManager() {
		filter.UserID = &actor.UserID
	}
	return s.repo.List(ctx, filter)
}

// Get возвращает конфликт по ID.
func (s *ConflictService) Get(ctx context.Context, id int64, actor Actor) (*models.ConflictRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	if !actor.IsManager() && rec.UserID != actor.UserID {
		return nil, ErrConflictNotFound
	}
	return rec, nil
}

// Resolve отмечает конфликт разрешенным выбранной стратегией. Доступно только менеджеру.
func (s *ConflictService) Resolve(
	ctx context.Context,
	id int64,
	strategy string,
	actor Actor,
) (*models.ConflictRecord, error) {
	if !actor.IsManager() {
		return nil, ErrForbidden
	}
	switch strategy {
	case models.ResolutionServerWins, models.ResolutionClientWins, models.ResolutionManual:
	default:
		return nil, ErrInvalidResolutionStrategy
	}

	rec, err := s.repo.Resolve(ctx, id, strategy, actor.UserID, s.clock.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflictNotFound):
			return nil, ErrConflictNotFound
		case errors.Is(err, repository.ErrConflictAlreadyResolved):
			return nil, ErrConflictAlreadyResolved
		}
		return nil, err
	}

	s.logger.Info("Конфликт разрешен",
		slog.Int64("conflict_id", id),
		slog.String("strategy", strategy),
		slog.Int64("resolved_by", actor.UserID),
	)
	return rec, nil
}
