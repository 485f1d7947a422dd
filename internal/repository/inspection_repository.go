package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/maynagashev/fieldsync/internal/models"
)

const inspectionColumns = `id, template_id, inspector_id, facility_name, facility_address, responses, status, version,
	approved_by, approved_at, approval_notes, rejected_at, rejection_notes,
	created_at, submitted_at, updated_at, deleted, deleted_at, deleted_by`

// InspectionRepository - версионированное хранилище инспекций.
// Все изменения версии проходят через CompareAndWrite.
type InspectionRepository interface {
	// LockedRead читает строку с блокировкой FOR UPDATE до конца транзакции.
	LockedRead(ctx context.Context, id string) (*models.Inspection, error)
	// Create вставляет новую инспекцию с версией 1.
	Create(ctx context.Context, insp *models.Inspection) error
	// CompareAndWrite сверяет версию под блокировкой, применяет mutate
	// и сохраняет строку с версией expectedVersion+1.
	CompareAndWrite(
		ctx context.Context,
		id string,
		expectedVersion int64,
		mutate func(insp *models.Inspection) error,
	) (*models.Inspection, error)
	GetByID(ctx context.Context, id string) (*models.Inspection, error)
	List(ctx context.Context, filter models.InspectionFilter) ([]models.Inspection, error)
}

// postgresInspectionRepository реализует InspectionRepository для PostgreSQL.
type postgresInspectionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresInspectionRepository создает новый экземпляр репозитория инспекций.
func NewPostgresInspectionRepository(db DBTX, logger *slog.Logger) InspectionRepository {
	return &postgresInspectionRepository{
		db:     db,
		logger: logger.With(slog.String("component", "InspectionRepo")),
	}
}

func (r *postgresInspectionRepository) LockedRead(ctx context.Context, id string) (*models.Inspection, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspections WHERE id=$1 FOR UPDATE`
	var insp models.Inspection

	err := r.db.GetContext(ctx, &insp, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInspectionNotFound
		}
		r.logger.Error("Ошибка блокирующего чтения инспекции", slog.String("id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на блокировку инспекции: %w", err)
	}
	return &insp, nil
}

// Create вставляет инспекцию. Поле Version принудительно равно 1.
// ON CONFLICT не прерывает транзакцию, что позволяет вызывающему
// коду после ErrDuplicateID продолжить работу в той же транзакции.
func (r *postgresInspectionRepository) Create(ctx context.Context, insp *models.Inspection) error {
	query := `INSERT INTO inspections (id, template_id, inspector_id, facility_name, facility_address,
	          responses, status, version, created_at, submitted_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10)
	          ON CONFLICT (id) DO NOTHING
	          RETURNING version`

	var version int64
	err := r.db.QueryRowxContext(ctx, query,
		insp.ID, insp.TemplateID, insp.InspectorID, insp.FacilityName, insp.FacilityAddress,
		jsonArg(insp.Responses), insp.Status, insp.CreatedAt, insp.SubmittedAt, insp.UpdatedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Info("Инспекция с таким ID уже существует", slog.String("id", insp.ID))
			return ErrDuplicateID
		}
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolationCode {
			return fmt.Errorf("%w: %s", ErrReferenceNotFound, pgErr.Constraint)
		}
		r.logger.Error("Ошибка создания инспекции", slog.String("id", insp.ID), slog.Any("error", err))
		return fmt.Errorf("ошибка выполнения запроса на создание инспекции: %w", err)
	}

	insp.Version = version
	r.logger.Debug("Инспекция создана", slog.String("id", insp.ID))
	return nil
}

func (r *postgresInspectionRepository) CompareAndWrite(
	ctx context.Context,
	id string,
	expectedVersion int64,
	mutate func(insp *models.Inspection) error,
) (*models.Inspection, error) {
	current, err := r.LockedRead(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &VersionMismatchError{
			Server:   current,
			Expected: expectedVersion,
			Actual:   current.Version,
		}
	}

	next := current.Clone()
	if err = mutate(next); err != nil {
		return nil, err
	}

	// id, template_id, inspector_id, version и created_at мутатор изменить не может.
	query := `UPDATE inspections SET
	          facility_name=$1, facility_address=$2, responses=$3, status=$4,
	          approved_by=$5, approved_at=$6, approval_notes=$7, rejected_at=$8, rejection_notes=$9,
	          submitted_at=$10, updated_at=$11, deleted=$12, deleted_at=$13, deleted_by=$14,
	          version = version + 1
	          WHERE id=$15 AND version=$16
	          RETURNING ` + inspectionColumns

	var updated models.Inspection
	err = r.db.GetContext(ctx, &updated, query,
		next.FacilityName, next.FacilityAddress, jsonArg(next.Responses), next.Status,
		next.ApprovedBy, next.ApprovedAt, next.ApprovalNotes, next.RejectedAt, next.RejectionNotes,
		next.SubmittedAt, next.UpdatedAt, next.Deleted, next.DeletedAt, next.DeletedBy,
		id, expectedVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Под блокировкой FOR UPDATE недостижимо.
			return nil, fmt.Errorf("строка инспекции %s изменилась под блокировкой", id)
		}
		r.logger.Error("Ошибка обновления инспекции", slog.String("id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на обновление инспекции: %w", err)
	}

	r.logger.Debug("Инспекция обновлена",
		slog.String("id", id),
		slog.Int64("version", updated.Version),
	)
	return &updated, nil
}

// GetByID возвращает инспекцию, включая мягко удаленные.
func (r *postgresInspectionRepository) GetByID(ctx context.Context, id string) (*models.Inspection, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspections WHERE id=$1`
	var insp models.Inspection

	err := r.db.GetContext(ctx, &insp, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInspectionNotFound
		}
		r.logger.Error("Ошибка при поиске инспекции", slog.String("id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение инспекции: %w", err)
	}
	return &insp, nil
}

// List возвращает неудаленные инспекции, новые первыми.
func (r *postgresInspectionRepository) List(
	ctx context.Context,
	filter models.InspectionFilter,
) ([]models.Inspection, error) {
	conds := []string{"NOT deleted"}
	args := make([]any, 0, 4)

	if filter.InspectorID != nil {
		args = append(args, *filter.InspectorID)
		conds = append(conds, fmt.Sprintf("inspector_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}

	limit, offset := models.ClampPage(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM inspections WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		inspectionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	inspections := make([]models.Inspection, 0, limit)
	if err := r.db.SelectContext(ctx, &inspections, query, args...); err != nil {
		r.logger.Error("Ошибка при получении списка инспекций", slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка инспекций: %w", err)
	}
	return inspections, nil
}

// VersionMismatchError - версия клиента не совпала с версией в хранилище.
// Server - снимок строки на момент проверки (под блокировкой).
type VersionMismatchError struct {
	Server   *models.Inspection
	Expected int64
	Actual   int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("несовпадение версии: ожидалась %d, текущая %d", e.Expected, e.Actual)
}

// jsonArg передает JSON в драйвер строкой: lib/pq отправляет []byte как bytea.
func jsonArg(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// Кастомные ошибки репозитория инспекций.
var (
	ErrInspectionNotFound = errors.New("инспекция не найдена")
	ErrDuplicateID        = errors.New("инспекция с таким идентификатором уже существует")
	ErrReferenceNotFound  = errors.New("связанная запись не найдена")
)
