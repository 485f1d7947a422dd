package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// AuthService определяет интерфейс для сервиса аутентификации.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
}

// AuthHandler обрабатывает HTTP-запросы, связанные с аутентификацией.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler создает новый экземпляр AuthHandler.
func NewAuthHandler(s AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.With(slog.String("component", "AuthHandler"))}
}

// Register обрабатывает запрос на регистрацию нового пользователя.
// Через API регистрируются только инспекторы; менеджеров создает команда create-user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, h.logger, http.StatusBadRequest, services.CodeValidation, "Email и пароль не могут быть пустыми")
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, userInfo(user))
}

// Login обрабатывает запрос на вход пользователя.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, h.logger, http.StatusBadRequest, services.CodeValidation, "Email и пароль не могут быть пустыми")
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.LoginResponse{Token: token, User: userInfo(user)})
}

func userInfo(u *models.User) dto.UserInfo {
	return dto.UserInfo{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}
