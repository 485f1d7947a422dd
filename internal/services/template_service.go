package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

// Prometheus-метрики кэша шаблонов.
var (
	templateCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_template_cache_hits_total",
		Help: "Общее количество попаданий в кэш шаблонов.",
	})
	templateCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_template_cache_misses_total",
		Help: "Общее количество промахов кэша шаблонов.",
	})
)

// SchemaChecker проверяет корректность JSON Schema ответов.
type SchemaChecker interface {
	CheckSchema(schema json.RawMessage) error
}

// CreateTemplateInput - данные нового шаблона.
type CreateTemplateInput struct {
	Name            string
	Version         int
	ChecklistItems  json.RawMessage
	ResponsesSchema json.RawMessage
}

// TemplateService - чтение шаблонов с LRU-кэшем и создание шаблонов менеджером.
type TemplateService struct {
	repo    repository.TemplateRepository
	schemas SchemaChecker
	cache   *expirable.LRU[string, *models.InspectionTemplate]
	clock   Clock
	ids     IDGenerator
	logger  *slog.Logger
}

// NewTemplateService создает сервис шаблонов с кэшем на size записей и временем жизни ttl.
func NewTemplateService(
	repo repository.TemplateRepository,
	schemas SchemaChecker,
	size int,
	ttl time.Duration,
	clock Clock,
	ids IDGenerator,
	logger *slog.Logger,
) *TemplateService {
	return &TemplateService{
		repo:    repo,
		schemas: schemas,
		cache:   expirable.NewLRU[string, *models.InspectionTemplate](size, nil, ttl),
		clock:   clock,
		ids:     ids,
		logger:  logger.With(slog.String("component", "TemplateService")),
	}
}

// Get возвращает шаблон по ID. Шаблоны неизменяемы после создания,
// поэтому кэш не требует инвалидации.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.InspectionTemplate, error) {
	if tpl, ok := s.cache.Get(id); ok {
		templateCacheHitsTotal.Inc()
		return tpl, nil
	}
	templateCacheMissesTotal.Inc()

	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	s.cache.Add(id, tpl)
	return tpl, nil
}

// List возвращает все шаблоны (без кэша).
func (s *TemplateService) List(ctx context.Context) ([]models.InspectionTemplate, error) {
	return s.repo.List(ctx)
}

// Create создает шаблон. Доступно только менеджеру.
func (s *TemplateService) Create(
	ctx context.Context,
	in CreateTemplateInput,
	actor Actor,
) (*models.InspectionTemplate, error) {
	if !actor.IsManager() {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErrorf("не указано название шаблона")
	}
	if in.Version <= 0 {
		in.Version = 1
	}
	items := in.ChecklistItems
	if len(items) == 0 {
		items = json.RawMessage(`[]`)
	}
	if !json.Valid(items) {
		return nil, validationErrorf("checklist_items не является корректным JSON")
	}
	if err := s.schemas.CheckSchema(in.ResponsesSchema); err != nil {
		return nil, validationErrorf("%v", err)
	}

	now := s.clock.Now()
	tpl := &models.InspectionTemplate{
		ID:              s.ids.NewID(),
		Name:            name,
		Version:         in.Version,
		ChecklistItems:  items,
		ResponsesSchema: in.ResponsesSchema,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("ошибка создания шаблона: %w", err)
	}

	s.cache.Add(tpl.ID, tpl)
	s.logger.Info("Создан шаблон инспекции",
		slog.String("template_id", tpl.ID),
		slog.String("name", tpl.Name),
		slog.Int64("created_by", actor.UserID),
	)
	return tpl, nil
}
