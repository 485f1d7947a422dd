package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maynagashev/fieldsync/internal/config"
	"github.com/maynagashev/fieldsync/internal/events"
	"github.com/maynagashev/fieldsync/internal/handlers"
	appmiddleware "github.com/maynagashev/fieldsync/internal/middleware"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	"github.com/maynagashev/fieldsync/internal/services"
	"github.com/maynagashev/fieldsync/internal/storage"
	"github.com/maynagashev/fieldsync/internal/validation"
)

// Подменяются в тестах.
var newPostgresDB = repository.NewPostgresDB

var newFileStorage = func(ctx context.Context, cfg storage.MinioConfig, logger *slog.Logger) (storage.FileStorage, error) {
	return storage.NewMinioClient(ctx, cfg, logger)
}

// routes - обработчики, из которых собирается роутер.
type routes struct {
	tokens      appmiddleware.TokenParser
	auth        *handlers.AuthHandler
	templates   *handlers.TemplateHandler
	inspections *handlers.InspectionHandler
	sync        *handlers.SyncHandler
	conflicts   *handlers.ConflictHandler
	photos      *handlers.PhotoHandler
	events      *handlers.EventsHandler
}

// dependencies хранит инициализированные зависимости сервера.
type dependencies struct {
	db    *sqlx.DB
	redis *redis.Client
	routes
}

// Close освобождает соединения.
func (d *dependencies) Close(logger *slog.Logger) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Error("Ошибка закрытия соединения с Redis", slog.Any("error", err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			logger.Error("Ошибка закрытия соединения с БД", slog.Any("error", err))
		}
	}
}

// setupDependencies инициализирует хранилища, сервисы и обработчики.
func setupDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. PostgreSQL
	deps.db, err = newPostgresDB(cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}

	// 2. Кэш журнала идемпотентности: Redis, если настроен
	var cache services.ResultCache = storage.NoopResultCache{}
	if cfg.RedisAddr != "" {
		deps.redis, err = storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("ошибка инициализации Redis: %w", err)
		}
		cache = storage.NewRedisResultCache(deps.redis, cfg.LedgerCacheTTL)
		logger.Info("Кэш журнала идемпотентности: Redis", slog.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("Redis не настроен, кэш журнала идемпотентности отключен")
	}

	// 3. MinIO
	files, err := newFileStorage(ctx, storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
		UseSSL:          cfg.MinioUseSSL,
		BucketName:      cfg.MinioBucket,
		Region:          cfg.MinioRegion,
	}, logger)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	validator, err := validation.NewResponsesValidator(cfg.TemplateCacheSize)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("ошибка инициализации валидатора ответов: %w", err)
	}

	// 4. Репозитории и сервисы
	repos := repository.NewRepositories(deps.db, logger)
	tx := repository.NewTxRunner(deps.db, logger)
	clock := services.SystemClock{}
	ids := services.UUIDGenerator{}
	hub := events.NewHub(logger)

	authService := services.NewAuthService(repos.Users, cfg.JWTSecret, cfg.TokenTTL, clock, logger)
	templateService := services.NewTemplateService(
		repos.Templates, validator, cfg.TemplateCacheSize, cfg.TemplateCacheTTL, clock, ids, logger)
	inspectionService := services.NewInspectionService(repos, templateService, validator, clock, ids, logger)
	ledger := services.NewIdempotencyService(repos.Ledger, cache, logger)
	syncService := services.NewSyncService(tx, inspectionService, ledger, hub, clock, logger)
	batchService := services.NewBatchService(syncService, cfg.BatchMaxOperations, logger)
	conflictService := services.NewConflictService(repos.Conflicts, clock, logger)
	photoService := services.NewPhotoService(
		repos.Photos, inspectionService, files, cfg.PhotoUploadURLTTL, cfg.PhotoMaxSize, ids, clock, logger)

	// 5. Обработчики
	deps.routes = routes{
		tokens:      authService,
		auth:        handlers.NewAuthHandler(authService, logger),
		templates:   handlers.NewTemplateHandler(templateService, logger),
		inspections: handlers.NewInspectionHandler(syncService, inspectionService, ids, logger),
		sync:        handlers.NewSyncHandler(batchService, ledger, logger),
		conflicts:   handlers.NewConflictHandler(conflictService, logger),
		photos:      handlers.NewPhotoHandler(photoService, logger),
		events:      handlers.NewEventsHandler(hub, nil, logger),
	}
	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(rt routes, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Metrics())

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", rt.auth.Register)
		r.Post("/auth/login", rt.auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Authenticator(rt.tokens, logger))

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", rt.templates.List)
				r.Post("/", rt.templates.Create)
				r.Get("/{id}", rt.templates.Get)
			})

			r.Route("/inspections", func(r chi.Router) {
				r.Get("/", rt.inspections.List)
				r.Post("/", rt.inspections.Create)
				r.Get("/{id}", rt.inspections.Get)
				r.Put("/{id}", rt.inspections.Update)
				r.Patch("/{id}", rt.inspections.Update)
				r.Delete("/{id}", rt.inspections.Delete)
				r.Post("/{id}/approve", rt.inspections.Approve)
				r.Post("/{id}/reject", rt.inspections.Reject)
				r.Get("/{id}/photos", rt.photos.List)
			})

			r.Route("/sync", func(r chi.Router) {
				r.Post("/batch", rt.sync.Batch)
				r.Get("/operations", rt.sync.ListOperations)
				r.Get("/conflicts", rt.conflicts.List)
				r.Get("/conflicts/{id}", rt.conflicts.Get)
				r.Post("/conflicts/{id}/resolve", rt.conflicts.Resolve)
			})

			r.Route("/photos", func(r chi.Router) {
				r.Post("/upload-url", rt.photos.UploadURL)
				r.Post("/confirm", rt.photos.Confirm)
				r.Get("/{id}/download", rt.photos.Download)
				r.Delete("/{id}", rt.photos.Delete)
			})

			r.With(appmiddleware.RequireRole(models.RoleManager)).Get("/events", rt.events.Subscribe)
		})
	})
	return r
}

// runServer запускает HTTP(S)-сервер и останавливает его при отмене ctx.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Запуск сервера fieldsync", slog.String("version", config.Version))

	deps, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.Close(logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      setupRouter(deps.routes, logger),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertFile != "" {
			logger.Info("Запуск HTTPS-сервера",
				slog.Int("port", cfg.Port),
				slog.String("cert_file", cfg.TLSCertFile))
			errCh <- server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		logger.Warn("TLS не настроен, запуск HTTP-сервера без шифрования", slog.Int("port", cfg.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Остановка сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	logger.Info("Сервер остановлен")
	return nil
}
