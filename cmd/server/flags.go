package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maynagashev/fieldsync/internal/config"
)

// Имена флагов командной строки.
const (
	flagPort        = "port"
	flagDatabaseDSN = "database-dsn"
	flagCertFile    = "cert-file"
	flagKeyFile     = "key-file"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagRedisAddr   = "redis-addr"
	flagMigrate     = "migrate"
)

// rootFlags - флаги, общие для всех команд.
// Флаг имеет приоритет над переменной окружения, переменная - над значением по умолчанию.
type rootFlags struct {
	DatabaseDSN string
	LogLevel    string
	LogFormat   string
}

// serveFlags - флаги команды serve.
type serveFlags struct {
	Port      int
	CertFile  string
	KeyFile   string
	RedisAddr string
	Migrate   bool
}

func bindRootFlags(cmd *cobra.Command, f *rootFlags) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.DatabaseDSN, flagDatabaseDSN, "",
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", config.EnvDatabaseDSN))
	fs.StringVar(&f.LogLevel, flagLogLevel, "",
		fmt.Sprintf("Уровень логирования: debug, info, warn, error (env: %s)", config.EnvLogLevel))
	fs.StringVar(&f.LogFormat, flagLogFormat, "",
		fmt.Sprintf("Формат логов: json, text (env: %s)", config.EnvLogFormat))
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	fs := cmd.Flags()
	fs.IntVar(&f.Port, flagPort, 0,
		fmt.Sprintf("Порт HTTP-сервера (env: %s, default: 8443)", config.EnvPort))
	fs.StringVar(&f.CertFile, flagCertFile, "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", config.EnvTLSCertFile))
	fs.StringVar(&f.KeyFile, flagKeyFile, "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", config.EnvTLSKeyFile))
	fs.StringVar(&f.RedisAddr, flagRedisAddr, "",
		fmt.Sprintf("Адрес Redis для кэша журнала идемпотентности (env: %s)", config.EnvRedisAddr))
	fs.BoolVar(&f.Migrate, flagMigrate, false, "Применить миграции перед запуском")
}

// applyRootFlags переносит явно заданные общие флаги в конфигурацию.
func applyRootFlags(cmd *cobra.Command, f *rootFlags, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed(flagDatabaseDSN) {
		cfg.DatabaseDSN = f.DatabaseDSN
	}
	if flags.Changed(flagLogLevel) {
		level, err := config.ParseLogLevel(f.LogLevel)
		if err != nil {
			return fmt.Errorf("--%s: %w", flagLogLevel, err)
		}
		cfg.LogLevel = level
	}
	if flags.Changed(flagLogFormat) {
		cfg.LogFormat = f.LogFormat
	}
	return nil
}

// applyServeFlags переносит явно заданные флаги serve в конфигурацию.
func applyServeFlags(cmd *cobra.Command, f *serveFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed(flagPort) {
		cfg.Port = f.Port
	}
	if flags.Changed(flagCertFile) {
		cfg.TLSCertFile = f.CertFile
	}
	if flags.Changed(flagKeyFile) {
		cfg.TLSKeyFile = f.KeyFile
	}
	if flags.Changed(flagRedisAddr) {
		cfg.RedisAddr = f.RedisAddr
	}
}
