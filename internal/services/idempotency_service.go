package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

// Prometheus-метрики кэша журнала.
var (
	ledgerCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_ledger_cache_hits_total",
		Help: "Общее количество попаданий в кэш результатов журнала идемпотентности.",
	})
	ledgerCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_ledger_cache_misses_total",
		Help: "Общее количество промахов кэша результатов журнала идемпотентности.",
	})
)

// ResultCache - кэш зафиксированных записей журнала.
// Записи попадают в кэш только после коммита транзакции.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, bool, error)
	Set(ctx context.Context, rec *models.IdempotencyRecord) error
}

// IdempotencyService - чтение журнала идемпотентности через кэш.
// Запись в журнал выполняется SyncService внутри транзакции операции.
type IdempotencyService struct {
	repo   repository.IdempotencyRepository
	cache  ResultCache
	logger *slog.Logger
}

// NewIdempotencyService создает сервис журнала.
func NewIdempotencyService(
	repo repository.IdempotencyRepository,
	cache ResultCache,
	logger *slog.Logger,
) *IdempotencyService {
	return &IdempotencyService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "IdempotencyService")),
	}
}

// Lookup возвращает зафиксированную запись по ключу или nil, если ключ не встречался.
// Ошибка кэша не прерывает операцию: чтение уходит в БД.
func (s *IdempotencyService) Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	rec, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Ошибка чтения кэша журнала", slog.String("key", key), slog.Any("error", err))
	}
	if ok {
		ledgerCacheHitsTotal.Inc()
		return rec, nil
	}
	ledgerCacheMissesTotal.Inc()

	rec, err = s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrIdempotencyKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.Remember(ctx, rec)
	return rec, nil
}

// Remember кладет зафиксированную запись в кэш.
func (s *IdempotencyService) Remember(ctx context.Context, rec *models.IdempotencyRecord) {
	if err := s.cache.Set(ctx, rec); err != nil {
		s.logger.Warn("Ошибка записи в кэш журнала",
			slog.String("key", rec.IdempotencyKey), slog.Any("error", err))
	}
}

// History возвращает историю обработанных операций пользователя.
func (s *IdempotencyService) History(
	ctx context.Context,
	userID int64,
	limit, offset int,
) ([]models.IdempotencyRecord, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
