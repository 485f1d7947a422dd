// Пакет config - загрузка и валидация конфигурации сервера синхронизации
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Имена переменных окружения.
const (
	EnvPort               = "FS_PORT"
	EnvLogLevel           = "FS_LOG_LEVEL"
	EnvLogFormat          = "FS_LOG_FORMAT"
	EnvDatabaseDSN        = "FS_DATABASE_DSN"
	EnvJWTSecret          = "FS_JWT_SECRET" //nolint:gosec // имя переменной, не секрет
	EnvTokenTTL           = "FS_TOKEN_TTL"
	EnvTLSCertFile        = "FS_TLS_CERT_FILE"
	EnvTLSKeyFile         = "FS_TLS_KEY_FILE"
	EnvHTTPReadTimeout    = "FS_HTTP_READ_TIMEOUT"
	EnvHTTPWriteTimeout   = "FS_HTTP_WRITE_TIMEOUT"
	EnvHTTPIdleTimeout    = "FS_HTTP_IDLE_TIMEOUT"
	EnvShutdownTimeout    = "FS_SHUTDOWN_TIMEOUT"
	EnvBatchMaxOperations = "FS_BATCH_MAX_OPERATIONS"
	EnvTemplateCacheSize  = "FS_TEMPLATE_CACHE_SIZE"
	EnvTemplateCacheTTL   = "FS_TEMPLATE_CACHE_TTL"
	EnvRedisAddr          = "FS_REDIS_ADDR"
	EnvRedisPassword      = "FS_REDIS_PASSWORD" //nolint:gosec // имя переменной, не секрет
	EnvRedisDB            = "FS_REDIS_DB"
	EnvLedgerCacheTTL     = "FS_LEDGER_CACHE_TTL"
	EnvMinioEndpoint      = "FS_MINIO_ENDPOINT"
	EnvMinioAccessKey     = "FS_MINIO_ACCESS_KEY"
	EnvMinioSecretKey     = "FS_MINIO_SECRET_KEY" //nolint:gosec // имя переменной, не секрет
	EnvMinioBucket        = "FS_MINIO_BUCKET"
	EnvMinioUseSSL        = "FS_MINIO_USE_SSL"
	EnvMinioRegion        = "FS_MINIO_REGION"
	EnvPhotoUploadURLTTL  = "FS_PHOTO_UPLOAD_URL_TTL"
	EnvPhotoMaxSize       = "FS_PHOTO_MAX_SIZE"
)

// DefaultBatchMaxOperations - максимальный размер пакета синхронизации.
const DefaultBatchMaxOperations = 100

// minJWTSecretLength - минимальная длина секрета подписи токенов.
const minJWTSecretLength = 16

// Config содержит все параметры конфигурации сервера.
type Config struct {
	// --- Сервер ---

	Port        int
	LogLevel    slog.Level
	LogFormat   string
	TLSCertFile string
	TLSKeyFile  string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// --- База данных и аутентификация ---

	DatabaseDSN string
	JWTSecret   string
	TokenTTL    time.Duration

	// --- Синхронизация ---

	BatchMaxOperations int
	TemplateCacheSize  int
	TemplateCacheTTL   time.Duration

	// Redis необязателен: пустой адрес отключает кэш результатов журнала.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LedgerCacheTTL time.Duration

	// --- Объектное хранилище фотографий ---

	MinioEndpoint     string
	MinioAccessKey    string
	MinioSecretKey    string
	MinioBucket       string
	MinioUseSSL       bool
	MinioRegion       string
	PhotoUploadURLTTL time.Duration
	PhotoMaxSize      int64
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Port, err = getEnvInt(EnvPort, 8443); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvPort, err)
	}
	if cfg.LogLevel, err = ParseLogLevel(getEnvDefault(EnvLogLevel, "info")); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
	}
	cfg.LogFormat = getEnvDefault(EnvLogFormat, "json")
	cfg.TLSCertFile = os.Getenv(EnvTLSCertFile)
	cfg.TLSKeyFile = os.Getenv(EnvTLSKeyFile)

	if cfg.HTTPReadTimeout, err = getEnvDuration(EnvHTTPReadTimeout, 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvHTTPReadTimeout, err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration(EnvHTTPWriteTimeout, 30*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvHTTPWriteTimeout, err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration(EnvHTTPIdleTimeout, 60*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvHTTPIdleTimeout, err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration(EnvShutdownTimeout, 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvShutdownTimeout, err)
	}

	cfg.DatabaseDSN = os.Getenv(EnvDatabaseDSN)
	cfg.JWTSecret = os.Getenv(EnvJWTSecret)
	if cfg.TokenTTL, err = getEnvDuration(EnvTokenTTL, 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvTokenTTL, err)
	}

	if cfg.BatchMaxOperations, err = getEnvInt(EnvBatchMaxOperations, DefaultBatchMaxOperations); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvBatchMaxOperations, err)
	}
	if cfg.TemplateCacheSize, err = getEnvInt(EnvTemplateCacheSize, 256); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvTemplateCacheSize, err)
	}
	if cfg.TemplateCacheTTL, err = getEnvDuration(EnvTemplateCacheTTL, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvTemplateCacheTTL, err)
	}

	cfg.RedisAddr = os.Getenv(EnvRedisAddr)
	cfg.RedisPassword = os.Getenv(EnvRedisPassword)
	if cfg.RedisDB, err = getEnvInt(EnvRedisDB, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvRedisDB, err)
	}
	if cfg.LedgerCacheTTL, err = getEnvDuration(EnvLedgerCacheTTL, 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLedgerCacheTTL, err)
	}

	// Значения по умолчанию - из docker-compose для локальной разработки.
	cfg.MinioEndpoint = getEnvDefault(EnvMinioEndpoint, "localhost:9000")
	cfg.MinioAccessKey = getEnvDefault(EnvMinioAccessKey, "minioadmin")
	cfg.MinioSecretKey = getEnvDefault(EnvMinioSecretKey, "minioadmin")
	cfg.MinioBucket = getEnvDefault(EnvMinioBucket, "fieldsync-photos")
	cfg.MinioRegion = getEnvDefault(EnvMinioRegion, "")
	if cfg.MinioUseSSL, err = getEnvBool(EnvMinioUseSSL, false); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvMinioUseSSL, err)
	}
	if cfg.PhotoUploadURLTTL, err = getEnvDuration(EnvPhotoUploadURLTTL, time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvPhotoUploadURLTTL, err)
	}
	photoMax, err := getEnvInt(EnvPhotoMaxSize, 10<<20)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvPhotoMaxSize, err)
	}
	cfg.PhotoMaxSize = int64(photoMax)

	return cfg, nil
}

// Validate проверяет обязательные параметры и диапазоны значений.
// Вызывается после применения флагов командной строки.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("некорректный порт: %d", c.Port)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("недопустимый формат логов %q, допустимые: json, text", c.LogFormat)
	}
	if c.DatabaseDSN == "" {
		return errors.New("не указана строка подключения к БД (--database-dsn или " + EnvDatabaseDSN + ")")
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("секрет JWT (%s) должен содержать не менее %d символов", EnvJWTSecret, minJWTSecretLength)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("файлы сертификата и ключа TLS должны задаваться вместе")
	}
	if c.BatchMaxOperations <= 0 {
		return fmt.Errorf("%s должен быть > 0", EnvBatchMaxOperations)
	}
	if c.TemplateCacheSize <= 0 {
		return fmt.Errorf("%s должен быть > 0", EnvTemplateCacheSize)
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("version", Version))
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, errors.New("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// ParseLogLevel преобразует строку уровня логирования в slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
