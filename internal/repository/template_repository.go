package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maynagashev/fieldsync/internal/models"
)

const templateColumns = `id, name, version, checklist_items, responses_schema, created_at, updated_at`

// TemplateRepository определяет методы для работы с шаблонами инспекций.
type TemplateRepository interface {
	Create(ctx context.Context, tpl *models.InspectionTemplate) error
	GetByID(ctx context.Context, id string) (*models.InspectionTemplate, error)
	List(ctx context.Context) ([]models.InspectionTemplate, error)
}

type postgresTemplateRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresTemplateRepository создает новый экземпляр репозитория шаблонов.
func NewPostgresTemplateRepository(db DBTX, logger *slog.Logger) TemplateRepository {
	return &postgresTemplateRepository{
		db:     db,
		logger: logger.With(slog.String("component", "TemplateRepo")),
	}
}

func (r *postgresTemplateRepository) Create(ctx context.Context, tpl *models.InspectionTemplate) error {
	query := `INSERT INTO inspection_templates (` + templateColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		tpl.ID, tpl.Name, tpl.Version, jsonArg(tpl.ChecklistItems), jsonArg(tpl.ResponsesSchema),
		tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Ошибка создания шаблона", slog.String("name", tpl.Name), slog.Any("error", err))
		return fmt.Errorf("ошибка выполнения запроса на создание шаблона: %w", err)
	}

	r.logger.Info("Шаблон создан", slog.String("template_id", tpl.ID), slog.String("name", tpl.Name))
	return nil
}

func (r *postgresTemplateRepository) GetByID(ctx context.Context, id string) (*models.InspectionTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM inspection_templates WHERE id=$1`
	var tpl models.InspectionTemplate

	err := r.db.GetContext(ctx, &tpl, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		r.logger.Error("Ошибка при поиске шаблона", slog.String("template_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение шаблона: %w", err)
	}
	return &tpl, nil
}

func (r *postgresTemplateRepository) List(ctx context.Context) ([]models.InspectionTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM inspection_templates ORDER BY name, version DESC`

	templates := make([]models.InspectionTemplate, 0)
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		r.logger.Error("Ошибка при получении списка шаблонов", slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка шаблонов: %w", err)
	}
	return templates, nil
}

// Кастомная ошибка репозитория шаблонов.
var (
	ErrTemplateNotFound = errors.New("шаблон не найден")
)
