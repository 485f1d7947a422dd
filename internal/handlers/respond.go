package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maynagashev/fieldsync/internal/middleware"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// maxBodySize - предел тела JSON-запроса (пакет из 100 операций с ответами чек-листа).
const maxBodySize = 8 << 20

const internalErrorMessage = "Внутренняя ошибка сервера"

// errorResponse - общий формат тела ошибки.
type errorResponse struct {
	Error dto.ErrorDetail `json:"error"`
}

// statusForCode сопоставляет код ошибки с HTTP-статусом.
func statusForCode(code string) int {
	switch code {
	case services.CodeValidation,
		services.CodeInvalidStateTransition,
		services.CodeUnsupportedOperation:
		return http.StatusBadRequest
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeUnauthorized:
		return http.StatusUnauthorized
	case services.CodeForbidden:
		return http.StatusForbidden
	case services.CodeConflict, services.CodeDuplicateID:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON кодирует v в тело ответа с указанным статусом.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Ошибка кодирования ответа", slog.Any("error", err))
	}
}

// writeRaw пишет готовый JSON без перекодирования.
func writeRaw(w http.ResponseWriter, logger *slog.Logger, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("Ошибка записи ответа", slog.Any("error", err))
	}
}

// writeError пишет ошибку в формате {"error":{"code","message"}}.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, errorResponse{Error: dto.ErrorDetail{Code: code, Message: message}})
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Непредвиденные ошибки логируются, клиент получает 500 без деталей.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code, known := services.ErrorCode(err)
	if !known {
		logger.Error("Внутренняя ошибка при обработке запроса", slog.Any("error", err))
		writeError(w, logger, http.StatusInternalServerError, services.CodeInternal, internalErrorMessage)
		return
	}
	writeError(w, logger, statusForCode(code), code, err.Error())
}

// decodeJSON читает тело запроса в v. При ошибке ответ уже отправлен.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, logger, http.StatusRequestEntityTooLarge, services.CodeValidation, "Слишком большое тело запроса")
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, logger, http.StatusBadRequest, services.CodeValidation, "Пустое тело запроса")
			return false
		}
		logger.Debug("Ошибка декодирования запроса", slog.Any("error", err))
		writeError(w, logger, http.StatusBadRequest, services.CodeValidation, "Неверный формат запроса")
		return false
	}
	return true
}

// actorFrom извлекает пользователя из контекста. При ошибке ответ уже отправлен.
func actorFrom(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (services.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		logger.Error("Не удалось получить userID из контекста", slog.String("path", r.URL.Path))
		writeError(w, logger, http.StatusUnauthorized, services.CodeUnauthorized, "Требуется аутентификация")
		return services.Actor{}, false
	}
	return actor, true
}

// pagination разбирает limit и offset. Некорректные значения заменяются значениями по умолчанию,
// лимит выше models.MaxPageLimit урезается до него.
func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return models.ClampPage(limit, offset)
}
