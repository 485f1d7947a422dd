package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maynagashev/fieldsync/internal/models"
)

const ledgerColumns = `idempotency_key, operation_type, entity_id, user_id, processed_at, result`

// IdempotencyRepository - журнал обработанных операций (только вставка).
type IdempotencyRepository interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// Record вставляет запись, если ключа еще нет (first-writer-wins).
	// Возвращает сохраненную запись и won=true, если вставка наша;
	// иначе - запись победителя и won=false.
	Record(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.IdempotencyRecord, error)
}

// postgresIdempotencyRepository реализует IdempotencyRepository для PostgreSQL.
type postgresIdempotencyRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresIdempotencyRepository создает новый экземпляр журнала идемпотентности.
func NewPostgresIdempotencyRepository(db DBTX, logger *slog.Logger) IdempotencyRepository {
	return &postgresIdempotencyRepository{
		db:     db,
		logger: logger.With(slog.String("component", "LedgerRepo")),
	}
}

func (r *postgresIdempotencyRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM sync_operations WHERE idempotency_key=$1)`, key)
	if err != nil {
		r.logger.Error("Ошибка проверки ключа идемпотентности", slog.String("key", key), slog.Any("error", err))
		return false, fmt.Errorf("ошибка выполнения запроса на проверку ключа: %w", err)
	}
	return exists, nil
}

func (r *postgresIdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	query := `SELECT ` + ledgerColumns + ` FROM sync_operations WHERE idempotency_key=$1`
	var rec models.IdempotencyRecord

	err := r.db.GetContext(ctx, &rec, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdempotencyKeyNotFound
		}
		r.logger.Error("Ошибка чтения журнала", slog.String("key", key), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на чтение журнала: %w", err)
	}
	return &rec, nil
}

// Record реализует атомарную вставку через уникальный ключ.
// При READ COMMITTED конкурирующая вставка ждет завершения чужой транзакции,
// после чего повторное чтение видит зафиксированную запись победителя.
func (r *postgresIdempotencyRepository) Record(
	ctx context.Context,
	rec *models.IdempotencyRecord,
) (*models.IdempotencyRecord, bool, error) {
	query := `INSERT INTO sync_operations (` + ledgerColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (idempotency_key) DO NOTHING
	          RETURNING ` + ledgerColumns

	var stored models.IdempotencyRecord
	err := r.db.GetContext(ctx, &stored, query,
		rec.IdempotencyKey, rec.OperationType, rec.EntityID, rec.UserID, rec.ProcessedAt, jsonArg(rec.Result),
	)
	if err == nil {
		r.logger.Debug("Операция записана в журнал",
			slog.String("key", rec.IdempotencyKey),
			slog.String("operation", rec.OperationType),
		)
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("Ошибка записи в журнал", slog.String("key", rec.IdempotencyKey), slog.Any("error", err))
		return nil, false, fmt.Errorf("ошибка выполнения запроса на запись в журнал: %w", err)
	}

	// Ключ уже занят: читаем запись победителя.
	winner, err := r.Get(ctx, rec.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения записи победителя: %w", err)
	}
	r.logger.Info("Ключ идемпотентности уже записан другой операцией", slog.String("key", rec.IdempotencyKey))
	return winner, false, nil
}

func (r *postgresIdempotencyRepository) ListByUser(
	ctx context.Context,
	userID int64,
	limit, offset int,
) ([]models.IdempotencyRecord, error) {
	limit, offset = models.ClampPage(limit, offset)
	query := `SELECT ` + ledgerColumns + ` FROM sync_operations
	          WHERE user_id=$1
	          ORDER BY processed_at DESC
	          LIMIT $2 OFFSET $3`

	records := make([]models.IdempotencyRecord, 0, limit)
	if err := r.db.SelectContext(ctx, &records, query, userID, limit, offset); err != nil {
		r.logger.Error("Ошибка получения истории операций", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка выполнения запроса на получение истории операций: %w", err)
	}
	return records, nil
}

// Кастомная ошибка журнала идемпотентности.
var (
	ErrIdempotencyKeyNotFound = errors.New("ключ идемпотентности не найден")
)
