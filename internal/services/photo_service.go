package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	"github.com/maynagashev/fieldsync/internal/storage"
)

// photoExtensions - допустимые типы содержимого и расширения объектов.
var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/heic": "heic",
	"image/webp": "webp",
}

// UploadTicket - подписанный URL для прямой загрузки фото в хранилище.
type UploadTicket struct {
	URL       string
	ObjectKey string
	ExpiresAt time.Time
}

// InspectionReader возвращает инспекцию, видимую пользователю.
type InspectionReader interface {
	Get(ctx context.Context, id string, actor Actor) (*models.Inspection, error)
}

// PhotoService - загрузка фотографий инспекций через presigned URL.
type PhotoService struct {
	photos      repository.PhotoRepository
	inspections InspectionReader
	files       storage.FileStorage
	urlTTL      time.Duration
	maxSize     int64
	ids         IDGenerator
	clock       Clock
	logger      *slog.Logger
}

// NewPhotoService создает сервис фотографий.
func NewPhotoService(
	photos repository.PhotoRepository,
	inspections InspectionReader,
	files storage.FileStorage,
	urlTTL time.Duration,
	maxSize int64,
	ids IDGenerator,
	clock Clock,
	logger *slog.Logger,
) *PhotoService {
	return &PhotoService{
		photos:      photos,
		inspections: inspections,
		files:       files,
		urlTTL:      urlTTL,
		maxSize:     maxSize,
		ids:         ids,
		clock:       clock,
		logger:      logger.With(slog.String("component", "PhotoService")),
	}
}

// RequestUploadURL выдает URL для загрузки фото к инспекции.
func (s *PhotoService) RequestUploadURL(
	ctx context.Context,
	inspectionID, contentType string,
	actor Actor,
) (*UploadTicket, error) {
	ext, ok := photoExtensions[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	if _, err := s.writableInspection(ctx, inspectionID, actor); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s.%s", photoKeyPrefix(inspectionID), s.ids.NewID(), ext)
	u, err := s.files.PresignedUploadURL(ctx, key, s.urlTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Выдан URL загрузки фото",
		slog.String("inspection_id", inspectionID), slog.String("object_key", key))
	return &UploadTicket{URL: u.String(), ObjectKey: key, ExpiresAt: s.clock.Now().Add(s.urlTTL)}, nil
}

// ConfirmUpload проверяет загруженный объект и сохраняет метаданные фото.
func (s *PhotoService) ConfirmUpload(
	ctx context.Context,
	inspectionID, objectKey string,
	width, height *int,
	actor Actor,
) (*models.Photo, error) {
	if !strings.HasPrefix(objectKey, photoKeyPrefix(inspectionID)) {
		return nil, validationErrorf("ключ объекта не относится к инспекции %s", inspectionID)
	}
	if _, err := s.writableInspection(ctx, inspectionID, actor); err != nil {
		return nil, err
	}

	info, err := s.files.StatFile(ctx, objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrPhotoNotUploaded
		}
		return nil, err
	}
	if info.Size > s.maxSize {
		if delErr := s.files.DeleteFile(ctx, objectKey); delErr != nil {
			s.logger.Warn("Не удалось удалить слишком большой файл",
				slog.String("object_key", objectKey), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("%w: %d байт, максимум %d", ErrPhotoTooLarge, info.Size, s.maxSize)
	}
	if _, ok := photoExtensions[info.ContentType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, info.ContentType)
	}

	photo := &models.Photo{
		ID:           s.ids.NewID(),
		InspectionID: inspectionID,
		ObjectKey:    objectKey,
		ContentType:  info.ContentType,
		FileSize:     info.Size,
		Width:        width,
		Height:       height,
		UploadedAt:   s.clock.Now(),
	}
	if err = s.photos.Create(ctx, photo); err != nil {
		if errors.Is(err, repository.ErrPhotoAlreadyExists) {
			return nil, ErrPhotoAlreadyConfirmed
		}
		return nil, err
	}

	s.logger.Info("Фото сохранено",
		slog.String("photo_id", photo.ID),
		slog.String("inspection_id", inspectionID),
		slog.Int64("size", photo.FileSize),
	)
	return photo, nil
}

// List возвращает фотографии инспекции.
func (s *PhotoService) List(ctx context.Context, inspectionID string, actor Actor) ([]models.Photo, error) {
	if _, err := s.inspections.Get(ctx, inspectionID, actor); err != nil {
		return nil, err
	}
	return s.photos.ListByInspection(ctx, inspectionID)
}

// DownloadURL выдает подписанный URL для просмотра фото.
func (s *PhotoService) DownloadURL(ctx context.Context, photoID string, actor Actor) (string, error) {
	photo, err := s.visiblePhoto(ctx, photoID, actor)
	if err != nil {
		return "", err
	}
	u, err := s.files.PresignedDownloadURL(ctx, photo.ObjectKey, s.urlTTL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Delete удаляет объект из хранилища, затем метаданные.
func (s *PhotoService) Delete(ctx context.Context, photoID string, actor Actor) error {
	photo, err := s.visiblePhoto(ctx, photoID, actor)
	if err != nil {
		return err
	}
	if err = s.files.DeleteFile(ctx, photo.ObjectKey); err != nil {
		return err
	}
	if err = s.photos.Delete(ctx, photo.ID); err != nil {
		if errors.Is(err, repository.ErrPhotoNotFound) {
			return ErrPhotoNotFound
		}
		return err
	}
	s.logger.Info("Фото удалено", slog.String("photo_id", photoID), slog.Int64("user_id", actor.UserID))
	return nil
}

func (s *PhotoService) visiblePhoto(ctx context.Context, photoID string, actor Actor) (*models.Photo, error) {
	if _, err := uuid.Parse(photoID); err != nil {
		return nil, ErrPhotoNotFound
	}
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, repository.ErrPhotoNotFound) {
			return nil, ErrPhotoNotFound
		}
		return nil, err
	}
	if _, err = s.inspections.Get(ctx, photo.InspectionID, actor); err != nil {
		if errors.Is(err, ErrInspectionNotFound) {
			return nil, ErrPhotoNotFound
		}
		return nil, err
	}
	return photo, nil
}

// writableInspection - к удаленной инспекции фото не добавляются.
func (s *PhotoService) writableInspection(ctx context.Context, id string, actor Actor) (*models.Inspection, error) {
	insp, err := s.inspections.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if insp.Deleted {
		return nil, ErrInspectionNotFound
	}
	return insp, nil
}

func photoKeyPrefix(inspectionID string) string {
	return "inspections/" + inspectionID + "/photos/"
}
