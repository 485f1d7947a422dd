package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maynagashev/fieldsync/internal/services"
)

// Тип для ключа контекста.
type contextKey string

// Ключи для хранения данных пользователя в контексте.
const (
	UserIDKey contextKey = "userID"
	RoleKey   contextKey = "role"
)

// TokenParser проверяет токен доступа и возвращает его полезную нагрузку.
type TokenParser interface {
	ParseToken(tokenString string) (*services.Claims, error)
}

// Authenticator проверяет JWT токен из заголовка Authorization
// и кладет ID и роль пользователя в контекст запроса.
func Authenticator(parser TokenParser, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "AuthMiddleware"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Debug("Заголовок Authorization отсутствует", slog.String("path", r.URL.Path))
				writeAuthError(w, http.StatusUnauthorized, services.CodeUnauthorized, "Требуется аутентификация")
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
				log.Info("Неверный формат заголовка Authorization")
				writeAuthError(w, http.StatusUnauthorized, services.CodeUnauthorized, "Неверный формат токена")
				return
			}

			claims, err := parser.ParseToken(headerParts[1])
			if err != nil {
				log.Info("Ошибка валидации токена", slog.Any("error", err))
				writeAuthError(w, http.StatusUnauthorized, services.CodeUnauthorized, "Невалидный токен")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только пользователей с указанной ролью.
// Должен стоять после Authenticator.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := GetRoleFromContext(r.Context()); got != role {
				writeAuthError(w, http.StatusForbidden, services.CodeForbidden, "Недостаточно прав")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserIDFromContext извлекает UserID из контекста запроса.
// Возвращает ID пользователя и true, если ID найден, иначе 0 и false.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetRoleFromContext извлекает роль пользователя из контекста запроса.
func GetRoleFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// ActorFromContext собирает services.Actor из данных аутентификации.
func ActorFromContext(ctx context.Context) (services.Actor, bool) {
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		return services.Actor{}, false
	}
	role, _ := GetRoleFromContext(ctx)
	return services.Actor{UserID: userID, Role: role}, true
}

// writeAuthError пишет ошибку в общем формате {"error":{"code","message"}}.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}
