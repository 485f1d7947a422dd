package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectInfo - метаданные объекта в хранилище.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// FileStorage определяет интерфейс для взаимодействия с объектным хранилищем.
// Файлы загружаются клиентом напрямую по presigned URL, сервер только подписывает и проверяет.
type FileStorage interface {
	PresignedUploadURL(ctx context.Context, objectKey string, ttl time.Duration) (*url.URL, error)
	PresignedDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (*url.URL, error)
	StatFile(ctx context.Context, objectKey string) (*ObjectInfo, error)
	DeleteFile(ctx context.Context, objectKey string) error
}

// MinioClient реализует FileStorage для MinIO.
type MinioClient struct {
	client     *minio.Client
	bucketName string
	logger     *slog.Logger
}

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

// NewMinioClient создает новый клиент MinIO и при необходимости создает бакет.
func NewMinioClient(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioClient, error) {
	logger = logger.With(slog.String("component", "Minio"))
	logger.Info("Инициализация клиента MinIO", slog.String("endpoint", cfg.Endpoint))

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		logger.Info("Бакет не найден, создаем", slog.String("bucket", cfg.BucketName))
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
	}

	logger.Info("Клиент MinIO инициализирован", slog.String("bucket", cfg.BucketName))
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// PresignedUploadURL возвращает подписанный URL для загрузки объекта методом PUT.
func (c *MinioClient) PresignedUploadURL(ctx context.Context, objectKey string, ttl time.Duration) (*url.URL, error) {
	u, err := c.client.PresignedPutObject(ctx, c.bucketName, objectKey, ttl)
	if err != nil {
		c.logger.Error("Ошибка подписи URL загрузки", slog.String("object_key", objectKey), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка подписи URL загрузки: %w", err)
	}
	return u, nil
}

// PresignedDownloadURL возвращает подписанный URL для скачивания объекта.
func (c *MinioClient) PresignedDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (*url.URL, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucketName, objectKey, ttl, url.Values{})
	if err != nil {
		c.logger.Error("Ошибка подписи URL скачивания", slog.String("object_key", objectKey), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка подписи URL скачивания: %w", err)
	}
	return u, nil
}

// StatFile возвращает метаданные объекта или ErrObjectNotFound.
func (c *MinioClient) StatFile(ctx context.Context, objectKey string) (*ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		c.logger.Error("Ошибка получения метаданных объекта", slog.String("object_key", objectKey), slog.Any("error", err))
		return nil, fmt.Errorf("ошибка получения метаданных из MinIO: %w", err)
	}
	return &ObjectInfo{Size: info.Size, ContentType: info.ContentType}, nil
}

// DeleteFile удаляет объект. Отсутствие объекта ошибкой не считается.
func (c *MinioClient) DeleteFile(ctx context.Context, objectKey string) error {
	if err := c.client.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		c.logger.Error("Ошибка удаления объекта", slog.String("object_key", objectKey), slog.Any("error", err))
		return fmt.Errorf("ошибка удаления файла из MinIO: %w", err)
	}
	c.logger.Debug("Объект удален", slog.String("object_key", objectKey))
	return nil
}

func isNoSuchKey(err error) bool {
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		return minioErr.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Кастомная ошибка хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
)
