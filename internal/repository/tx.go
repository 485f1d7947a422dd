package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// DBTX - общий интерфейс для выполнения запросов.
// Реализуется как *sqlx.DB, так и *sqlx.Tx, поэтому репозитории
// работают одинаково внутри и вне транзакции.
type DBTX interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// Repositories - набор репозиториев, привязанных к одному DBTX.
type Repositories struct {
	Inspections InspectionRepository
	Templates   TemplateRepository
	Ledger      IdempotencyRepository
	Conflicts   ConflictRepository
	Photos      PhotoRepository
	Users       UserRepository
}

// NewRepositories создает набор репозиториев поверх соединения или транзакции.
func NewRepositories(db DBTX, logger *slog.Logger) Repositories {
	return Repositories{
		Inspections: NewPostgresInspectionRepository(db, logger),
		Templates:   NewPostgresTemplateRepository(db, logger),
		Ledger:      NewPostgresIdempotencyRepository(db, logger),
		Conflicts:   NewPostgresConflictRepository(db, logger),
		Photos:      NewPostgresPhotoRepository(db, logger),
		Users:       NewPostgresUserRepository(db, logger),
	}
}

// TxRunner выполняет функции внутри транзакции PostgreSQL.
type TxRunner struct {
	db         *sqlx.DB
	logger     *slog.Logger
	repoLogger *slog.Logger
}

// NewTxRunner создает TxRunner для управления транзакциями.
func NewTxRunner(db *sqlx.DB, logger *slog.Logger) *TxRunner {
	return &TxRunner{
		db:         db,
		logger:     logger.With(slog.String("component", "TxRunner")),
		repoLogger: logger,
	}
}

// RunInTx выполняет fn внутри транзакции уровня READ COMMITTED.
// Ошибка fn откатывает транзакцию, успешное завершение - коммитит.
// Отмена ctx до коммита также приводит к откату.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		// Откат после коммита - no-op (sql.ErrTxDone).
		_ = tx.Rollback()
	}()

	if err = fn(NewRepositories(tx, r.repoLogger)); err != nil {
		r.logger.Debug("Транзакция откатывается", slog.Any("reason", err))
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return nil
}
