package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maynagashev/fieldsync/internal/models"
)

const conflictColumns = `id, inspection_id, user_id, client_version_number, server_version_number,
	client_data, server_data, resolved, resolved_at, resolved_by, resolution_strategy, created_at`

// ConflictRepository - журнал обнаруженных конфликтов версий.
type ConflictRepository interface {
	Create(ctx context.Context, rec *models.ConflictRecord) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ConflictRecord, error)
	List(ctx context.Context, filter models.ConflictFilter) ([]models.ConflictRecord, error)
	// Resolve помечает конфликт разрешенным. Слияние данных не выполняется.
	Resolve(ctx context.Context, id int64, strategy string, resolvedBy int64, at time.Time) (*models.ConflictRecord, error)
}

type postgresConflictRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresConflictRepository создает новый экземпляр репозитория конфликтов.
func NewPostgresConflictRepository(db DBTX, logger *slog.Logger) ConflictRepository {
	return &postgresConflictRepository{
		db:     db,
		logger: logger.With(slog.String("component", "ConflictRepo")),
	}
}

func (r *postgresConflictRepository) Create(ctx context.Context, rec *models.ConflictRecord) (int64, error) {
	query := `INSERT INTO conflict_records (inspection_id, user_id, client_version_number, server_version_number,
	          client_data, server_data, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64

	err := r.db.QueryRowxContext(ctx, query,
		rec.InspectionID, rec.UserID, rec.ClientVersionNumber, rec.ServerVersionNumber,
		jsonArg(rec.ClientData), jsonArg(rec.ServerData), rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Ошибка записи конфликта",
			slog.String("inspection_id", rec.InspectionID), slog.Any("error", err))
		return 0, fmt.Errorf("ошибка выполнения запроса на создание записи конфликта: %w", err)
	}

	rec.ID = id
	r.logger.Info("Зафиксирован конфликт версий",
		slog.Int64("conflict_id", id),
		slog.String("inspection_id", rec.InspectionID),
		slog.Int64("client_version", rec.ClientVersionNumber),
		slog.Int64("server_version", rec.ServerVersionNumber),
	)
	return id, nil
}

func (r *postgresConflictRepository) GetByID(ctx context.Context, id int64) (*models.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_records WHERE id=$1`
	var rec models.ConflictRecord

	err := r.db.GetContext(ctx, &rec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		r.logger.Error("Ошибка при поиске конфликта", slog.Int64("conflict_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение конфликта: %w", err)
	}
	return &rec, nil
}

func (r *postgresConflictRepository) List(
	ctx context.Context,
	filter models.ConflictFilter,
) ([]models.ConflictRecord, error) {
	conds := []string{"TRUE"}
	args := make([]any, 0, 3)

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if filter.UnresolvedOnly {
		conds = append(conds, "NOT resolved")
	}

	limit, offset := models.ClampPage(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM conflict_records WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		conflictColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	records := make([]models.ConflictRecord, 0, limit)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.Error("Ошибка при получении списка конфликтов", slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка конфликтов: %w", err)
	}
	return records, nil
}

func (r *postgresConflictRepository) Resolve(
	ctx context.Context,
	id int64,
	strategy string,
	resolvedBy int64,
	at time.Time,
) (*models.ConflictRecord, error) {
	query := `UPDATE conflict_records
	          SET resolved=TRUE, resolved_at=$1, resolved_by=$2, resolution_strategy=$3
	          WHERE id=$4 AND NOT resolved
	          RETURNING ` + conflictColumns
	var rec models.ConflictRecord

	err := r.db.GetContext(ctx, &rec, query, at, resolvedBy, strategy, id)
	if err == nil {
		r.logger.Info("Конфликт разрешен",
			slog.Int64("conflict_id", id),
			slog.String("strategy", strategy),
			slog.Int64("resolved_by", resolvedBy),
		)
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("Ошибка разрешения конфликта", slog.Int64("conflict_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на разрешение конфликта: %w", err)
	}

	// Строка не обновлена: либо нет такого конфликта, либо он уже разрешен.
	if _, err = r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrConflictAlreadyResolved
}

// Кастомные ошибки репозитория конфликтов.
var (
	ErrConflictNotFound        = errors.New("запись конфликта не найдена")
	ErrConflictAlreadyResolved = errors.New("конфликт уже разрешен")
)
