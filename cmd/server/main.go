package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maynagashev/fieldsync/internal/config"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	"github.com/maynagashev/fieldsync/internal/services"
)

// main - точка входа. Ошибку уже напечатал cobra.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand собирает CLI: serve, migrate, create-user.
func newRootCommand() *cobra.Command {
	root := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Сервер синхронизации офлайн-инспекций",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	bindRootFlags(cmd, root)

	cmd.AddCommand(newServeCommand(root))
	cmd.AddCommand(newMigrateCommand(root))
	cmd.AddCommand(newCreateUserCommand(root))
	return cmd
}

func newServeCommand(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, flags, cfg)
			if err = cfg.Validate(); err != nil {
				return fmt.Errorf("некорректная конфигурация: %w", err)
			}
			logger := config.SetupLogger(cfg)

			if flags.Migrate {
				if err = repository.Migrate(cfg.DatabaseDSN, logger); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
	bindServeFlags(cmd, flags)
	return cmd
}

func newMigrateCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции базы данных",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if err = requireDSN(cfg); err != nil {
				return err
			}
			return repository.Migrate(cfg.DatabaseDSN, config.SetupLogger(cfg))
		},
	}
}

// newCreateUserCommand создает пользователя напрямую в БД.
// Регистрация через API не позволяет получить роль менеджера без первого менеджера.
func newCreateUserCommand(root *rootFlags) *cobra.Command {
	in := services.RegisterInput{}
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Создать пользователя (по умолчанию менеджера)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if err = requireDSN(cfg); err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)
			return createUser(cmd.Context(), cfg, in, logger)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&in.Email, "email", "", "Email пользователя")
	fs.StringVar(&in.Password, "password", "", "Пароль пользователя")
	fs.StringVar(&in.FirstName, "first-name", "", "Имя")
	fs.StringVar(&in.LastName, "last-name", "", "Фамилия")
	fs.StringVar(&in.Role, "role", models.RoleManager, "Роль: manager или inspector")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// loadConfig читает окружение и применяет общие флаги.
func loadConfig(cmd *cobra.Command, root *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err = applyRootFlags(cmd, root, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireDSN(cfg *config.Config) error {
	if cfg.DatabaseDSN == "" {
		return errors.New("не указана строка подключения к БД (--database-dsn или " + config.EnvDatabaseDSN + ")")
	}
	return nil
}

func createUser(ctx context.Context, cfg *config.Config, in services.RegisterInput, logger *slog.Logger) error {
	db, err := newPostgresDB(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	defer db.Close()

	auth := services.NewAuthService(
		repository.NewPostgresUserRepository(db, logger),
		cfg.JWTSecret, cfg.TokenTTL, services.SystemClock{}, logger,
	)
	user, err := auth.Register(ctx, in)
	if err != nil {
		return err
	}
	logger.Info("Пользователь создан",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("role", user.Role))
	return nil
}
