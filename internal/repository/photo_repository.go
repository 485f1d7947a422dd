package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/maynagashev/fieldsync/internal/models"
)

const photoColumns = `id, inspection_id, object_key, content_type, file_size, width, height, uploaded_at`

// PhotoRepository определяет методы для работы с метаданными фотографий.
type PhotoRepository interface {
	Create(ctx context.Context, photo *models.Photo) error
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	ListByInspection(ctx context.Context, inspectionID string) ([]models.Photo, error)
	Delete(ctx context.Context, id string) error
}

type postgresPhotoRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresPhotoRepository создает новый экземпляр репозитория фотографий.
func NewPostgresPhotoRepository(db DBTX, logger *slog.Logger) PhotoRepository {
	return &postgresPhotoRepository{
		db:     db,
		logger: logger.With(slog.String("component", "PhotoRepo")),
	}
}

func (r *postgresPhotoRepository) Create(ctx context.Context, photo *models.Photo) error {
	query := `INSERT INTO photos (` + photoColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		photo.ID, photo.InspectionID, photo.ObjectKey, photo.ContentType, photo.FileSize,
		photo.Width, photo.Height, photo.UploadedAt,
	)
	if err != nil {
		// Проверяем на повторное подтверждение той же загрузки
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return ErrPhotoAlreadyExists
		}
		r.logger.Error("Ошибка сохранения фотографии", slog.String("object_key", photo.ObjectKey), slog.Any("error", err))
		return fmt.Errorf("ошибка выполнения запроса на сохранение фотографии: %w", err)
	}

	r.logger.Debug("Фотография сохранена", slog.String("photo_id", photo.ID))
	return nil
}

func (r *postgresPhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id=$1`
	var photo models.Photo

	err := r.db.GetContext(ctx, &photo, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPhotoNotFound
		}
		r.logger.Error("Ошибка при поиске фотографии", slog.String("photo_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение фотографии: %w", err)
	}
	return &photo, nil
}

func (r *postgresPhotoRepository) ListByInspection(ctx context.Context, inspectionID string) ([]models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE inspection_id=$1 ORDER BY uploaded_at`

	photos := make([]models.Photo, 0)
	if err := r.db.SelectContext(ctx, &photos, query, inspectionID); err != nil {
		r.logger.Error("Ошибка при получении списка фотографий",
			slog.String("inspection_id", inspectionID), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка фотографий: %w", err)
	}
	return photos, nil
}

func (r *postgresPhotoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id=$1`, id)
	if err != nil {
		r.logger.Error("Ошибка удаления фотографии", slog.String("photo_id", id), slog.Any("error", err))
		return fmt.Errorf("ошибка выполнения запроса на удаление фотографии: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа удаленных строк: %w", err)
	}
	if n == 0 {
		return ErrPhotoNotFound
	}
	return nil
}

// Кастомные ошибки репозитория фотографий.
var (
	ErrPhotoNotFound      = errors.New("фотография не найдена")
	ErrPhotoAlreadyExists = errors.New("фотография уже сохранена")
)
