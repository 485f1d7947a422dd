package services

import (
	"errors"
	"fmt"

	"github.com/maynagashev/fieldsync/internal/models"
)

// Коды ошибок, передаваемые клиенту в теле ответа и в результатах пакета.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeConflict               = "CONFLICT"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeUnsupportedOperation   = "UNSUPPORTED_OPERATION"
	CodeDuplicateID            = "DUPLICATE_ID"
	CodeInternal               = "INTERNAL_ERROR"
)

// VersionConflictError - версия клиента устарела.
// Server - актуальный снимок инспекции для клиентского слияния.
type VersionConflictError struct {
	ClientVersion int64
	ServerVersion int64
	Server        *models.Inspection
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("конфликт версий: версия клиента %d, версия сервера %d", e.ClientVersion, e.ServerVersion)
}

// ErrorCode сопоставляет доменную ошибку с кодом ответа.
// ok=false означает ошибку хранилища или иную непредвиденную ошибку.
func ErrorCode(err error) (string, bool) {
	var conflict *VersionConflictError
	switch {
	case errors.As(err, &conflict):
		return CodeConflict, true
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrInvalidResolutionStrategy),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, ErrPhotoTooLarge),
		errors.Is(err, ErrPhotoNotUploaded),
		errors.Is(err, ErrBatchTooLarge):
		return CodeValidation, true
	case errors.Is(err, ErrInspectionNotFound),
		errors.Is(err, ErrConflictNotFound),
		errors.Is(err, ErrPhotoNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrInvalidStateTransition):
		return CodeInvalidStateTransition, true
	case errors.Is(err, ErrForbidden):
		return CodeForbidden, true
	case errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrConflictAlreadyResolved),
		errors.Is(err, ErrPhotoAlreadyConfirmed),
		errors.Is(err, ErrEmailTaken):
		return CodeDuplicateID, true
	case errors.Is(err, ErrUnsupportedOperation):
		return CodeUnsupportedOperation, true
	case errors.Is(err, ErrInvalidCredentials):
		return CodeUnauthorized, true
	}
	return CodeInternal, false
}

// validationErrorf оборачивает сообщение в ErrValidation.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Ошибки сервисного слоя.
var (
	ErrValidation                = errors.New("некорректные данные")
	ErrTemplateNotFound          = errors.New("шаблон инспекции не найден")
	ErrInspectionNotFound        = errors.New("инспекция не найдена")
	ErrInvalidStateTransition    = errors.New("недопустимый переход статуса")
	ErrForbidden                 = errors.New("недостаточно прав")
	ErrDuplicateID               = errors.New("инспекция с таким идентификатором уже существует")
	ErrUnsupportedOperation      = errors.New("неподдерживаемый тип операции")
	ErrBatchTooLarge             = errors.New("слишком много операций в пакете")
	ErrConflictNotFound          = errors.New("запись конфликта не найдена")
	ErrConflictAlreadyResolved   = errors.New("конфликт уже разрешен")
	ErrInvalidResolutionStrategy = errors.New("недопустимая стратегия разрешения конфликта")
	ErrPhotoNotFound             = errors.New("фотография не найдена")
	ErrPhotoNotUploaded          = errors.New("файл фотографии не загружен в хранилище")
	ErrPhotoAlreadyConfirmed     = errors.New("загрузка фотографии уже подтверждена")
	ErrPhotoTooLarge             = errors.New("размер фотографии превышает допустимый")
	ErrUnsupportedContentType    = errors.New("неподдерживаемый тип содержимого")
)
